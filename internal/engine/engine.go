package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailprobe/internal/cache"
	"mailprobe/internal/dnsx"
	"mailprobe/internal/history"
	"mailprobe/internal/models"
	"mailprobe/internal/probe"
	"mailprobe/internal/provider"
	"mailprobe/internal/results"
	"mailprobe/internal/settings"
)

var addressRe = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

const reasonNoRejection = "Email accepted (no rejection or error)"

// Engine runs the full verification pipeline for one address: cached and
// persisted lookups, syntax and domain policy checks, then the
// provider-specific probe sequence.
type Engine struct {
	settings *settings.Service
	resolver *dnsx.Resolver
	cache    *cache.ResultCache
	store    *results.Store
	history  *history.Log
	probes   map[provider.ProbeKind]probe.Prober
	log      *zap.Logger
}

type Config struct {
	Settings *settings.Service
	Resolver *dnsx.Resolver
	Cache    *cache.ResultCache
	Store    *results.Store
	History  *history.Log
	Probes   map[provider.ProbeKind]probe.Prober
	Logger   *zap.Logger
}

func New(cfg Config) *Engine {
	return &Engine{
		settings: cfg.Settings,
		resolver: cfg.Resolver,
		cache:    cfg.Cache,
		store:    cfg.Store,
		history:  cfg.History,
		probes:   cfg.Probes,
		log:      cfg.Logger,
	}
}

// Verify classifies one address. A panic anywhere in the pipeline is
// converted into a risky verdict so a batch run never dies on one
// address.
func (e *Engine) Verify(ctx context.Context, address, method string) (res models.VerificationResult) {
	address = strings.ToLower(strings.TrimSpace(address))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("verification panicked",
				zap.String("address", address), zap.Any("panic", r))
			res = e.finalize(address, start, models.VerificationResult{
				Address: address,
				Verdict: models.VerdictRisky,
				Reason:  fmt.Sprintf("Verification error: %v", r),
				Method:  method,
			})
		}
	}()

	if cached, ok := e.cache.Get(address); ok {
		return cached
	}

	if rec, ok := e.store.Record(address); ok {
		prov := rec.Provider
		if prov == "" {
			prov = "Unknown"
		}
		res := models.VerificationResult{
			Address:   address,
			Verdict:   models.VerdictFromCategory(rec.Category),
			Reason:    "Previously verified",
			Provider:  prov,
			Method:    models.MethodCached,
			Timestamp: time.Now(),
		}
		e.cache.Set(res)
		return res
	}

	if !addressRe.MatchString(address) {
		return e.finalize(address, start, models.VerificationResult{
			Address: address,
			Verdict: models.VerdictInvalid,
			Reason:  "Invalid email format",
			Method:  models.MethodPolicy,
		})
	}

	_, domain := splitAddress(address)

	if e.settings.IsBlacklisted(domain) {
		return e.finalize(address, start, models.VerificationResult{
			Address: address,
			Verdict: models.VerdictInvalid,
			Reason:  "Domain is blacklisted",
			Method:  models.MethodPolicy,
		})
	}
	if e.settings.IsWhitelisted(domain) {
		return e.finalize(address, start, models.VerificationResult{
			Address: address,
			Verdict: models.VerdictValid,
			Reason:  "Domain is whitelisted",
			Method:  models.MethodPolicy,
		})
	}

	if len(e.resolver.MX(ctx, domain)) == 0 {
		return e.finalize(address, start, models.VerificationResult{
			Address: address,
			Verdict: models.VerdictInvalid,
			Reason:  "Domain has no mail servers",
			Method:  models.MethodPolicy,
		})
	}

	tag := provider.Identify(ctx, e.resolver, domain)
	e.history.Record(address, fmt.Sprintf("provider=%s method=%s", tag, method))

	outcome, probeMethod := e.runProbes(ctx, address, tag, method)

	res = e.resultFromOutcome(address, tag, probeMethod, outcome)
	return e.finalize(address, start, res)
}

// orderFor maps the requested method to a probe sequence. Auto follows
// the per-provider table; login and smtp force one technique.
func orderFor(tag provider.Tag, method string) []provider.ProbeKind {
	switch method {
	case models.MethodLogin:
		return []provider.ProbeKind{provider.ProbeBrowser}
	case models.MethodSMTP:
		return []provider.ProbeKind{provider.ProbeSMTP}
	}
	return provider.Order(tag)
}

// runProbes walks the probe sequence until one produces a definitive
// outcome. Non-definitive outcomes are remembered so the strongest one
// decides when nothing is conclusive.
func (e *Engine) runProbes(ctx context.Context, address string, tag provider.Tag, method string) (models.ProbeOutcome, string) {
	var (
		best       models.ProbeOutcome
		bestMethod string
		ran        bool
	)

	for _, kind := range orderFor(tag, method) {
		p, ok := e.probes[kind]
		if !ok {
			continue
		}

		outcome := p.Probe(ctx, address, tag)
		outcome = e.applyPolicies(tag, outcome)
		e.history.Record(address, fmt.Sprintf("probe=%s outcome=%s reason=%s",
			p.Name(), outcome.Kind, outcome.Reason))

		if outcome.Definitive() {
			return outcome, methodFor(kind)
		}
		// Later outcomes win ties so the final result carries the most
		// recent probe's reason and evidence.
		if !ran || strength(outcome.Kind) >= strength(best.Kind) {
			best = outcome
			bestMethod = methodFor(kind)
		}
		ran = true
	}
	if !ran {
		return models.ProbeOutcome{
			Kind:   models.OutcomeError,
			Reason: "No probe available for this provider",
		}, method
	}
	return best, bestMethod
}

// applyPolicies applies configurable interpretation rules to a raw
// probe outcome before the strategy acts on it.
func (e *Engine) applyPolicies(tag provider.Tag, outcome models.ProbeOutcome) models.ProbeOutcome {
	if tag == provider.Microsoft &&
		outcome.Kind == models.OutcomeDefinitiveValid &&
		outcome.Reason == reasonNoRejection &&
		!e.settings.IsEnabled("microsoft_no_rejection_is_valid", true) {
		outcome.Kind = models.OutcomeAmbiguous
	}
	return outcome
}

// strength orders non-definitive outcomes for the merge: a custom
// signal beats an ambiguous one, which beats a plain error.
func strength(kind models.OutcomeKind) int {
	switch kind {
	case models.OutcomeCustom:
		return 2
	case models.OutcomeAmbiguous:
		return 1
	}
	return 0
}

func methodFor(kind provider.ProbeKind) string {
	switch kind {
	case provider.ProbeAPI:
		return models.MethodAPI
	case provider.ProbeBrowser:
		return models.MethodBrowser
	}
	return models.MethodSMTP
}

func (e *Engine) resultFromOutcome(address string, tag provider.Tag, method string, outcome models.ProbeOutcome) models.VerificationResult {
	res := models.VerificationResult{
		Address:  address,
		Provider: provider.DisplayName(tag),
		Method:   method,
		Reason:   outcome.Reason,
		Details:  outcome.Evidence,
	}

	switch outcome.Kind {
	case models.OutcomeDefinitiveValid:
		res.Verdict = models.VerdictValid
	case models.OutcomeDefinitiveInvalid:
		res.Verdict = models.VerdictInvalid
	case models.OutcomeCustom:
		res.Verdict = models.VerdictCustom
	case models.OutcomeAmbiguous:
		res.Verdict = models.VerdictRisky
	default:
		res.Verdict = models.VerdictRisky
		if res.Reason == "" {
			res.Reason = "Verification could not be completed"
		}
	}
	return res
}

// finalize stamps, records, caches, and persists a result.
func (e *Engine) finalize(address string, start time.Time, res models.VerificationResult) models.VerificationResult {
	res.Timestamp = time.Now()
	if res.Details == nil {
		res.Details = make(map[string]string)
	}
	res.Details["verification_time"] = time.Since(start).Round(time.Millisecond).String()
	if res.Provider == "" {
		res.Provider = "Unknown"
	}

	e.history.Commit(address, res.Verdict, res.Reason)
	e.cache.Set(res)
	if _, err := e.store.Append(res); err != nil {
		e.log.Warn("result not persisted",
			zap.String("address", address), zap.Error(err))
	}

	e.log.Info("verified",
		zap.String("address", address),
		zap.String("verdict", string(res.Verdict)),
		zap.String("reason", res.Reason),
		zap.String("method", res.Method))
	return res
}

// ReloadSettings re-reads settings and domain lists and drops the MX
// cache so changed DNS takes effect.
func (e *Engine) ReloadSettings() error {
	if err := e.settings.Reload(); err != nil {
		return err
	}
	e.resolver.Flush()
	e.log.Info("settings reloaded")
	return nil
}

// RecordOutcome folds an outcome produced outside the probe pipeline
// (the bounce verifier) into the persisted state, so its verdict counts
// in summaries and short-circuits later verifications of the address.
func (e *Engine) RecordOutcome(ctx context.Context, address string, outcome models.ProbeOutcome) models.VerificationResult {
	address = strings.ToLower(strings.TrimSpace(address))
	start := time.Now()

	_, domain := splitAddress(address)
	tag := provider.Identify(ctx, e.resolver, domain)

	res := e.resultFromOutcome(address, tag, models.MethodBounce, outcome)
	return e.finalize(address, start, res)
}

// Summary counts persisted results per verdict.
func (e *Engine) Summary() map[string]int {
	return e.store.Summary()
}

// History returns the recorded verification events for an address.
func (e *Engine) History(address string) []models.HistoryEntry {
	return e.history.ForAddress(strings.ToLower(strings.TrimSpace(address)))
}

// HistoryByCategory returns every address history committed under one
// verdict category.
func (e *Engine) HistoryByCategory(category string) map[string][]models.HistoryEntry {
	return e.history.ForCategory(models.VerdictFromCategory(category))
}

func splitAddress(address string) (local, domain string) {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return address[:i], address[i+1:]
	}
	return address, ""
}
