package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailprobe/internal/cache"
	"mailprobe/internal/dnsx"
	"mailprobe/internal/models"
	"mailprobe/internal/provider"
	"mailprobe/internal/proxy"
	"mailprobe/internal/ratelimit"
)

const (
	smtpTimeout       = 10 * time.Second
	catchAllMemoTTL   = 30 * time.Minute
	catchAllMemoKey   = "smtp_catchall:"
	reasonCatchAll    = "Domain has catch-all configuration"
	reasonMailboxGone = "Mailbox unavailable"
)

// SMTPProbe opens an SMTP conversation with the domain's mail
// exchangers and interprets the RCPT reply. Optionally it detects
// catch-all domains with a synthesized local part.
type SMTPProbe struct {
	HelloHost string
	MailFrom  string
	CatchAll  bool

	resolver *dnsx.Resolver
	limiter  *ratelimit.Limiter
	domains  *cache.TTLStore
	proxies  *proxy.Manager
	log      *zap.Logger

	// Prevents the host IP from being banned for opening too many
	// concurrent connections.
	sem chan struct{}

	// Overridable for tests.
	dial        func(ctx context.Context, mxHost string) (net.Conn, error)
	retryDelays []time.Duration
}

func NewSMTPProbe(helloHost, mailFrom string, catchAll bool, resolver *dnsx.Resolver, limiter *ratelimit.Limiter, domains *cache.TTLStore, proxies *proxy.Manager, log *zap.Logger) *SMTPProbe {
	p := &SMTPProbe{
		HelloHost:   helloHost,
		MailFrom:    mailFrom,
		CatchAll:    catchAll,
		resolver:    resolver,
		limiter:     limiter,
		domains:     domains,
		proxies:     proxies,
		log:         log,
		sem:         make(chan struct{}, 15),
		retryDelays: []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
	}
	p.dial = p.dialMX
	return p
}

func (p *SMTPProbe) Name() string { return "smtp" }

func (p *SMTPProbe) dialMX(ctx context.Context, mxHost string) (net.Conn, error) {
	addr := mxHost + ":25"
	if p.proxies.SMTPEnabled() {
		return p.proxies.DialContext(ctx, "tcp", addr, smtpTimeout, p.proxies.Next())
	}
	d := net.Dialer{Timeout: smtpTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

// Probe implements the RCPT check across the domain's MX hosts.
func (p *SMTPProbe) Probe(ctx context.Context, address string, _ provider.Tag) models.ProbeOutcome {
	_, domain := splitAddress(address)

	mxHosts := p.resolver.MX(ctx, domain)
	if len(mxHosts) == 0 {
		return models.ProbeOutcome{
			Kind:   models.OutcomeDefinitiveInvalid,
			Reason: "Domain has no mail servers",
		}
	}

	if err := p.limiter.Wait(ctx, domain); err != nil {
		return errOutcome("rate limit wait interrupted", err)
	}
	defer p.limiter.Record(domain)

	var lastErr string
	for _, mx := range mxHosts {
		code, msg, err := p.rcptWithRetry(ctx, mx, address)
		if err != nil {
			lastErr = err.Error()
			p.log.Debug("smtp conversation failed, trying next MX",
				zap.String("mx", mx), zap.Error(err))
			continue
		}

		evidence := map[string]string{
			"mx":   mx,
			"code": strconv.Itoa(code),
			"msg":  msg,
		}

		switch {
		case code == 250 || code == 251:
			if p.CatchAll && p.isCatchAll(ctx, domain, mx) {
				return models.ProbeOutcome{
					Kind:     models.OutcomeAmbiguous,
					Reason:   reasonCatchAll,
					Evidence: evidence,
				}
			}
			return models.ProbeOutcome{
				Kind:     models.OutcomeDefinitiveValid,
				Reason:   "Mailbox accepted by mail server",
				Evidence: evidence,
			}
		case code == 550:
			// Many providers answer 550 for greylisting and
			// reputation blocks, so it is ambiguous on its own.
			return models.ProbeOutcome{
				Kind:     models.OutcomeAmbiguous,
				Reason:   reasonMailboxGone,
				Evidence: evidence,
			}
		default:
			lastErr = fmt.Sprintf("RCPT rejected with %d %s", code, msg)
		}
	}

	return models.ProbeOutcome{
		Kind:   models.OutcomeError,
		Reason: "All mail servers unreachable or rejecting",
		Evidence: map[string]string{
			"last_error": lastErr,
		},
	}
}

// rcptWithRetry retries the conversation on network errors with 2/4/8s
// backoff before giving up on this MX.
func (p *SMTPProbe) rcptWithRetry(ctx context.Context, mxHost, address string) (int, string, error) {
	var lastErr error
	for attempt := 0; attempt <= len(p.retryDelays); attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, p.retryDelays[attempt-1]); err != nil {
				return 0, "", err
			}
		}
		code, msg, err := p.rcpt(ctx, mxHost, address)
		if err == nil {
			return code, msg, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, "", ctx.Err()
		}
	}
	return 0, "", models.NewProbeError(models.ErrTransientNetwork, lastErr)
}

// rcpt runs one EHLO / STARTTLS / MAIL FROM / RCPT TO conversation and
// returns the RCPT reply. The reply code is data, not an error; only
// network and protocol failures come back as errors.
func (p *SMTPProbe) rcpt(ctx context.Context, mxHost, address string) (int, string, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return 0, "", ctx.Err()
	}
	defer func() { <-p.sem }()

	conn, err := p.dial(ctx, mxHost)
	if err != nil {
		return 0, "", fmt.Errorf("connection failed: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(smtpTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	tp := textproto.NewConn(conn)

	if _, _, err := tp.ReadResponse(220); err != nil {
		return 0, "", fmt.Errorf("banner rejected: %w", err)
	}

	ehloMsg, err := p.ehlo(tp)
	if err != nil {
		return 0, "", err
	}

	if strings.Contains(strings.ToUpper(ehloMsg), "STARTTLS") {
		if _, err := tp.Cmd("STARTTLS"); err != nil {
			return 0, "", err
		}
		if _, _, err := tp.ReadResponse(220); err != nil {
			return 0, "", fmt.Errorf("STARTTLS rejected: %w", err)
		}
		tlsConn := tls.Client(conn, &tls.Config{ServerName: mxHost})
		tlsConn.SetDeadline(deadline)
		tp = textproto.NewConn(tlsConn)
		if _, err := p.ehlo(tp); err != nil {
			return 0, "", fmt.Errorf("EHLO after STARTTLS: %w", err)
		}
	}

	if _, err := tp.Cmd("MAIL FROM:<%s>", p.MailFrom); err != nil {
		return 0, "", err
	}
	if _, _, err := tp.ReadResponse(250); err != nil {
		return 0, "", fmt.Errorf("MAIL FROM rejected: %w", err)
	}

	if _, err := tp.Cmd("RCPT TO:<%s>", address); err != nil {
		return 0, "", err
	}
	code, msg, err := tp.ReadResponse(0)

	tp.Cmd("QUIT")
	tp.Close()

	// ReadResponse(0) disables the expected-code check, so an error here
	// is a wire failure, never a reply code.
	if err != nil {
		return 0, "", fmt.Errorf("network read error: %w", err)
	}
	return code, msg, nil
}

func (p *SMTPProbe) ehlo(tp *textproto.Conn) (string, error) {
	if _, err := tp.Cmd("EHLO %s", p.HelloHost); err != nil {
		return "", err
	}
	_, msg, err := tp.ReadResponse(250)
	if err != nil {
		return "", fmt.Errorf("EHLO rejected: %w", err)
	}
	return msg, nil
}

// isCatchAll probes a synthesized address against the same MX and memos
// the answer per domain.
func (p *SMTPProbe) isCatchAll(ctx context.Context, domain, mxHost string) bool {
	key := catchAllMemoKey + domain
	if v, ok := p.domains.Get(key); ok {
		return v.(bool)
	}

	ghost := randomLocalPart(16) + "@" + domain
	code, _, err := p.rcptWithRetry(ctx, mxHost, ghost)
	catchAll := err == nil && (code == 250 || code == 251)

	if err == nil {
		p.domains.Set(key, catchAll, catchAllMemoTTL)
	}
	if catchAll {
		p.log.Info("catch-all domain detected", zap.String("domain", domain))
	}
	return catchAll
}

func errOutcome(reason string, err error) models.ProbeOutcome {
	out := models.ProbeOutcome{Kind: models.OutcomeError, Reason: reason}
	if err != nil {
		out.Evidence = map[string]string{"error": err.Error()}
	}
	return out
}
