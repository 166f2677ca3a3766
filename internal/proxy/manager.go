package proxy

import (
	"fmt"
	"net/url"
	"sync/atomic"
)

// Manager rotates through the configured proxies and owns the
// concurrency semaphore shared by all proxied connections.
type Manager struct {
	proxies []*url.URL
	counter uint64

	sem         chan struct{}
	smtpEnabled bool
}

// NewManager parses the proxy list and sets the concurrency limit and
// SMTP routing toggle. If no limit is provided it defaults to the number
// of proxies.
func NewManager(proxyList []string, limit int, enableSMTP bool) (*Manager, error) {
	var parsed []*url.URL
	for _, p := range proxyList {
		if p == "" {
			continue
		}
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL '%s': %w", p, err)
		}
		parsed = append(parsed, u)
	}

	if limit <= 0 {
		limit = len(parsed)
		if limit == 0 {
			limit = 10 // Failsafe
		}
	}

	return &Manager{
		proxies:     parsed,
		sem:         make(chan struct{}, limit),
		smtpEnabled: enableSMTP,
	}, nil
}

// Next returns the next proxy in rotation, nil when none are configured.
func (m *Manager) Next() *url.URL {
	if m == nil || len(m.proxies) == 0 {
		return nil
	}
	n := atomic.AddUint64(&m.counter, 1)
	return m.proxies[(n-1)%uint64(len(m.proxies))]
}

// Enabled reports whether any proxies are configured.
func (m *Manager) Enabled() bool {
	return m != nil && len(m.proxies) > 0
}

// SMTPEnabled reports whether port-25 traffic should route through the
// proxies as well.
func (m *Manager) SMTPEnabled() bool {
	return m != nil && m.smtpEnabled
}
