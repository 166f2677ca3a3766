package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(max int, window time.Duration) (*Limiter, *time.Time) {
	l := New(max, window, zap.NewNop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestWindowSaturation(t *testing.T) {
	l, now := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.False(t, l.IsLimited("example.org"))
		l.Record("example.org")
		*now = now.Add(time.Second)
	}
	require.True(t, l.IsLimited("example.org"))

	// Oldest entry ages out of the window.
	*now = now.Add(time.Minute)
	assert.False(t, l.IsLimited("example.org"))
}

func TestBackoffOverridesWindow(t *testing.T) {
	l, now := newTestLimiter(10, time.Minute)

	l.SetBackoff("example.org", 30*time.Second)
	require.True(t, l.IsLimited("example.org"))
	assert.Equal(t, 30*time.Second, l.RemainingBackoff("example.org"))

	*now = now.Add(31 * time.Second)
	assert.False(t, l.IsLimited("example.org"))
	assert.Zero(t, l.RemainingBackoff("example.org"))
}

func TestSetBackoffNeverShortens(t *testing.T) {
	l, _ := newTestLimiter(10, time.Minute)

	l.SetBackoff("example.org", time.Minute)
	l.SetBackoff("example.org", time.Second)
	assert.Equal(t, time.Minute, l.RemainingBackoff("example.org"))
}

func TestRemainingBackoffFromWindow(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute)

	l.Record("example.org")
	*now = now.Add(10 * time.Second)
	l.Record("example.org")

	// Window full; the first entry frees its slot 50s from now.
	assert.Equal(t, 50*time.Second, l.RemainingBackoff("example.org"))
}

func TestDomainsIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	l.Record("a.org")
	assert.True(t, l.IsLimited("a.org"))
	assert.False(t, l.IsLimited("b.org"))
}

func TestConcurrentAccess(t *testing.T) {
	l := New(100, time.Minute, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Record("example.org")
				l.IsLimited("example.org")
				l.RemainingBackoff("example.org")
			}
		}()
	}
	wg.Wait()

	assert.True(t, l.IsLimited("example.org"))
}
