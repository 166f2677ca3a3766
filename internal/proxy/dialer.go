package proxy

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	netproxy "golang.org/x/net/proxy"
)

// proxyConn wraps net.Conn so the semaphore token is released exactly
// once when the caller closes the connection.
type proxyConn struct {
	net.Conn
	release     func()
	releaseOnce sync.Once
}

func (pc *proxyConn) Close() error {
	pc.releaseOnce.Do(pc.release)
	return pc.Conn.Close()
}

// DialContext dials addr directly, or through pURL when proxying is
// enabled. The target hostname is resolved locally first so the proxy
// only ever sees an IP; some SOCKS endpoints refuse remote DNS.
func (m *Manager) DialContext(ctx context.Context, network, addr string, timeout time.Duration, pURL *url.URL) (net.Conn, error) {
	directDialer := &net.Dialer{Timeout: timeout}

	if !m.Enabled() || pURL == nil {
		return directDialer.DialContext(ctx, network, addr)
	}

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout waiting for proxy slot: %w", ctx.Err())
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil && net.ParseIP(host) == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr == nil && len(ips) > 0 {
			resolvedIP := ips[0].String()
			for _, ip := range ips {
				if ip.To4() != nil {
					resolvedIP = ip.String()
					break
				}
			}
			addr = net.JoinHostPort(resolvedIP, port)
		}
	}

	pdialer, err := netproxy.FromURL(pURL, directDialer)
	if err != nil {
		<-m.sem
		return nil, fmt.Errorf("proxy dialer for %s: %w", pURL.Host, err)
	}

	var conn net.Conn
	if cdialer, ok := pdialer.(netproxy.ContextDialer); ok {
		conn, err = cdialer.DialContext(ctx, network, addr)
	} else {
		conn, err = pdialer.Dial(network, addr)
	}
	if err != nil {
		<-m.sem
		return nil, fmt.Errorf("proxy dial %s via %s: %w", addr, pURL.Host, err)
	}

	return &proxyConn{Conn: conn, release: func() { <-m.sem }}, nil
}
