package probe

import (
	"context"
	"crypto/rand"
	"math/big"
	mrand "math/rand"
	"net/http"
	"net/url"
	"time"

	"mailprobe/internal/models"
	"mailprobe/internal/provider"
)

// Prober is the one capability every probe technique exposes: given an
// address, produce a partial outcome. The strategy composes probes
// uniformly through this interface.
type Prober interface {
	Name() string
	Probe(ctx context.Context, address string, tag provider.Tag) models.ProbeOutcome
}

type contextKey string

const proxyCtxKey contextKey = "proxyURL"

// newSharedClient builds the HTTP client all HTTPS probes share. The
// proxy is chosen per request through a context key so one Transport
// (and its connection pool) serves every rotation.
func newSharedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: func(req *http.Request) (*url.URL, error) {
				if p, ok := req.Context().Value(proxyCtxKey).(*url.URL); ok && p != nil {
					return p, nil
				}
				return nil, nil
			},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func withProxy(ctx context.Context, pURL *url.URL) context.Context {
	if pURL == nil {
		return ctx
	}
	return context.WithValue(ctx, proxyCtxKey, pURL)
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
}

func randomUserAgent() string {
	return userAgents[mrand.Intn(len(userAgents))]
}

const localPartAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomLocalPart synthesizes a local part that cannot plausibly exist,
// used for catch-all detection.
func randomLocalPart(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(localPartAlphabet))))
		if err != nil {
			b[i] = 'x'
			continue
		}
		b[i] = localPartAlphabet[idx.Int64()]
	}
	return string(b)
}

func splitAddress(address string) (local, domain string) {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == '@' {
			return address[:i], address[i+1:]
		}
	}
	return address, ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
