package cache

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailprobe/internal/models"
)

func testResult(addr string, v models.Verdict) models.VerificationResult {
	return models.VerificationResult{
		Address:   addr,
		Verdict:   v,
		Reason:    "test",
		Provider:  "custom",
		Method:    models.MethodSMTP,
		Timestamp: time.Now(),
	}
}

func TestResultCacheRoundTrip(t *testing.T) {
	c := NewResultCache("", zap.NewNop())

	c.Set(testResult("a@example.org", models.VerdictValid))

	got, ok := c.Get("a@example.org")
	require.True(t, ok)
	assert.Equal(t, models.VerdictValid, got.Verdict)

	_, ok = c.Get("b@example.org")
	assert.False(t, ok)
}

func TestResultCacheEvictsOldestTenth(t *testing.T) {
	c := NewResultCache("", zap.NewNop())
	c.max = 100

	for i := 0; i < 100; i++ {
		c.Set(testResult(fmt.Sprintf("u%03d@example.org", i), models.VerdictValid))
	}
	require.Equal(t, 100, c.Len())

	c.Set(testResult("overflow@example.org", models.VerdictValid))

	assert.Equal(t, 91, c.Len())
	_, ok := c.Get("u000@example.org")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get("u009@example.org")
	assert.False(t, ok, "entire oldest decile should be evicted")
	_, ok = c.Get("u010@example.org")
	assert.True(t, ok)
	_, ok = c.Get("overflow@example.org")
	assert.True(t, ok)
}

func TestResultCacheUpdateDoesNotGrow(t *testing.T) {
	c := NewResultCache("", zap.NewNop())

	c.Set(testResult("a@example.org", models.VerdictRisky))
	c.Set(testResult("a@example.org", models.VerdictValid))

	assert.Equal(t, 1, c.Len())
	got, _ := c.Get("a@example.org")
	assert.Equal(t, models.VerdictValid, got.Verdict)
}

func TestResultCachePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verification_cache.json")

	c := NewResultCache(path, zap.NewNop())
	c.Set(testResult("a@example.org", models.VerdictInvalid))
	c.Save()

	reloaded := NewResultCache(path, zap.NewNop())
	got, ok := reloaded.Get("a@example.org")
	require.True(t, ok)
	assert.Equal(t, models.VerdictInvalid, got.Verdict)
}
