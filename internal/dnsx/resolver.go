package dnsx

import (
	"context"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MXLookuper is the slice of net.Resolver the engine needs. Tests swap in
// a mock resolver.
type MXLookuper interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

const lookupTimeout = 5 * time.Second

// Resolver caches MX lookups per domain for the life of the process.
type Resolver struct {
	r   MXLookuper
	log *zap.Logger

	mu    sync.RWMutex
	cache map[string][]string
}

// New builds a Resolver backed by a Go-native net.Resolver with a strict
// dial timeout. A slow upstream DNS server must not stall a probe.
func New(log *zap.Logger) *Resolver {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: 3 * time.Second}
			return d.DialContext(ctx, network, address)
		},
	}
	return NewWithLookuper(r, log)
}

// NewWithLookuper builds a Resolver over a custom lookuper.
func NewWithLookuper(r MXLookuper, log *zap.Logger) *Resolver {
	return &Resolver{
		r:     r,
		log:   log,
		cache: make(map[string][]string),
	}
}

// MX returns the domain's mail exchangers ordered by preference,
// lowercased with any trailing dot stripped. An empty slice means the
// domain has no mail servers; callers classify that as invalid. Results
// are cached until restart.
func (rs *Resolver) MX(ctx context.Context, domain string) []string {
	domain = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))

	rs.mu.RLock()
	hosts, ok := rs.cache[domain]
	rs.mu.RUnlock()
	if ok {
		return hosts
	}

	lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	records, err := rs.r.LookupMX(lctx, domain)
	if err != nil {
		rs.log.Debug("mx lookup failed", zap.String("domain", domain), zap.Error(err))
		// Not cached: the failure may be transient and the next caller
		// should get a fresh attempt.
		return nil
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })

	hosts = make([]string, 0, len(records))
	for _, mx := range records {
		host := strings.ToLower(strings.TrimSuffix(mx.Host, "."))
		if host == "" {
			continue
		}
		hosts = append(hosts, host)
	}

	rs.mu.Lock()
	rs.cache[domain] = hosts
	rs.mu.Unlock()

	return hosts
}

// Flush drops all cached lookups.
func (rs *Resolver) Flush() {
	rs.mu.Lock()
	rs.cache = make(map[string][]string)
	rs.mu.Unlock()
}
