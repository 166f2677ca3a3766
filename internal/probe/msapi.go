package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mailprobe/internal/cache"
	"mailprobe/internal/models"
	"mailprobe/internal/provider"
	"mailprobe/internal/proxy"
	"mailprobe/internal/ratelimit"
)

const (
	credentialTypeURL = "https://login.microsoftonline.com/common/GetCredentialType"
	throttleBackoff   = 60 * time.Second
	apiCatchAllKey    = "msapi_catchall:"
	apiCatchAllTTL    = 30 * time.Minute
)

// MicrosoftAPIProbe asks the GetCredentialType endpoint whether an
// account exists. The endpoint answers for consumer and most tenant
// accounts without authentication.
type MicrosoftAPIProbe struct {
	endpoint string
	client   *http.Client
	limiter  *ratelimit.Limiter
	domains  *cache.TTLStore
	proxies  *proxy.Manager
	log      *zap.Logger

	retryDelays []time.Duration
}

func NewMicrosoftAPIProbe(limiter *ratelimit.Limiter, domains *cache.TTLStore, proxies *proxy.Manager, log *zap.Logger) *MicrosoftAPIProbe {
	return &MicrosoftAPIProbe{
		endpoint:    credentialTypeURL,
		client:      newSharedClient(10 * time.Second),
		limiter:     limiter,
		domains:     domains,
		proxies:     proxies,
		log:         log,
		retryDelays: []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
	}
}

func (p *MicrosoftAPIProbe) Name() string { return "api" }

type credentialTypeResponse struct {
	IfExistsResult int `json:"IfExistsResult"`
	ThrottleStatus int `json:"ThrottleStatus"`
}

// Probe decides from IfExistsResult, after first ruling out domains
// where the API acknowledges any local part.
func (p *MicrosoftAPIProbe) Probe(ctx context.Context, address string, _ provider.Tag) models.ProbeOutcome {
	_, domain := splitAddress(address)

	if err := p.limiter.Wait(ctx, domain); err != nil {
		return errOutcome("rate limit wait interrupted", err)
	}
	defer p.limiter.Record(domain)

	catchAll, err := p.isAPICatchAll(ctx, domain)
	if err != nil {
		return errOutcome("Microsoft API unreachable", err)
	}
	if catchAll {
		// The API would say "exists" for anything; a browser probe is
		// the only way to tell.
		return models.ProbeOutcome{
			Kind:   models.OutcomeError,
			Reason: "Microsoft API reports every address as existing",
		}
	}

	resp, err := p.query(ctx, address)
	if err != nil {
		return errOutcome("Microsoft API unreachable", err)
	}

	switch {
	case resp.ThrottleStatus == 1:
		p.limiter.SetBackoff(domain, throttleBackoff)
		return models.ProbeOutcome{
			Kind:   models.OutcomeError,
			Reason: "Microsoft API throttled",
		}
	case resp.IfExistsResult == 0:
		return models.ProbeOutcome{
			Kind:     models.OutcomeDefinitiveValid,
			Reason:   "Microsoft account exists",
			Evidence: map[string]string{"if_exists_result": "0"},
		}
	case resp.IfExistsResult == 1:
		return models.ProbeOutcome{
			Kind:     models.OutcomeDefinitiveInvalid,
			Reason:   "Microsoft account does not exist",
			Evidence: map[string]string{"if_exists_result": "1"},
		}
	}
	return models.ProbeOutcome{
		Kind:     models.OutcomeAmbiguous,
		Reason:   "Microsoft API gave no decision",
		Evidence: map[string]string{"if_exists_result": fmt.Sprint(resp.IfExistsResult)},
	}
}

func (p *MicrosoftAPIProbe) isAPICatchAll(ctx context.Context, domain string) (bool, error) {
	key := apiCatchAllKey + domain
	if v, ok := p.domains.Get(key); ok {
		return v.(bool), nil
	}

	ghost := randomLocalPart(16) + "@" + domain
	resp, err := p.query(ctx, ghost)
	if err != nil {
		return false, err
	}
	if resp.ThrottleStatus == 1 {
		p.limiter.SetBackoff(domain, throttleBackoff)
		return false, nil
	}

	catchAll := resp.IfExistsResult == 0
	p.domains.Set(key, catchAll, apiCatchAllTTL)
	if catchAll {
		p.log.Info("api-level catch-all detected", zap.String("domain", domain))
	}
	return catchAll, nil
}

// query POSTs the browser-like GetCredentialType body, retrying network
// errors with exponential backoff.
func (p *MicrosoftAPIProbe) query(ctx context.Context, address string) (*credentialTypeResponse, error) {
	body := map[string]interface{}{
		"Username":                       address,
		"isOtherIdpSupported":            false,
		"checkPhones":                    false,
		"isRemoteNGCSupported":           true,
		"isCookieBannerShown":            false,
		"isFidoSupported":                true,
		"country":                        "US",
		"forceotclogin":                  false,
		"isExternalFederationDisallowed": false,
		"isRemoteConnectSupported":       false,
		"federationFlags":                0,
		"isSignup":                       false,
		"isAccessPassSupported":          true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= len(p.retryDelays); attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, p.retryDelays[attempt-1]); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(withProxy(ctx, p.proxies.Next()), http.MethodPost, p.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", randomUserAgent())
		req.Header.Set("Origin", "https://login.microsoftonline.com")
		req.Header.Set("Referer", "https://login.microsoftonline.com/")

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			continue
		}

		var out credentialTypeResponse
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			lastErr = models.NewProbeError(models.ErrParseAmbiguous, err)
			continue
		}
		return &out, nil
	}
	return nil, models.NewProbeError(models.ErrTransientNetwork, lastErr)
}
