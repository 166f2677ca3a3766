package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailprobe/internal/cache"
	"mailprobe/internal/models"
	"mailprobe/internal/provider"
	"mailprobe/internal/proxy"
	"mailprobe/internal/ratelimit"
)

// fakeCredentialType simulates GetCredentialType with a per-address
// script. Unknown addresses (the synthesized catch-all ghosts) get the
// ghost response.
func fakeCredentialType(t *testing.T, known map[string]credentialTypeResponse, ghost credentialTypeResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"Username"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		resp, ok := known[body.Username]
		if !ok {
			resp = ghost
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAPIProbe(t *testing.T, srv *httptest.Server) (*MicrosoftAPIProbe, *ratelimit.Limiter) {
	t.Helper()
	proxies, err := proxy.NewManager(nil, 0, false)
	require.NoError(t, err)

	limiter := ratelimit.New(100, time.Minute, zap.NewNop())
	p := NewMicrosoftAPIProbe(limiter, cache.NewTTL(), proxies, zap.NewNop())
	p.endpoint = srv.URL
	p.retryDelays = []time.Duration{time.Millisecond}
	return p, limiter
}

func TestAPIProbeAccountExists(t *testing.T) {
	srv := fakeCredentialType(t,
		map[string]credentialTypeResponse{"ceo@contoso.example": {IfExistsResult: 0}},
		credentialTypeResponse{IfExistsResult: 1})
	p, _ := newTestAPIProbe(t, srv)

	out := p.Probe(context.Background(), "ceo@contoso.example", provider.Microsoft)
	assert.Equal(t, models.OutcomeDefinitiveValid, out.Kind)
}

func TestAPIProbeAccountMissing(t *testing.T) {
	srv := fakeCredentialType(t,
		map[string]credentialTypeResponse{"gone@contoso.example": {IfExistsResult: 1}},
		credentialTypeResponse{IfExistsResult: 1})
	p, _ := newTestAPIProbe(t, srv)

	out := p.Probe(context.Background(), "gone@contoso.example", provider.Microsoft)
	assert.Equal(t, models.OutcomeDefinitiveInvalid, out.Kind)
}

func TestAPIProbeCatchAllSkips(t *testing.T) {
	// Ghost addresses also "exist": the API is useless for this domain.
	srv := fakeCredentialType(t, nil, credentialTypeResponse{IfExistsResult: 0})
	p, _ := newTestAPIProbe(t, srv)

	out := p.Probe(context.Background(), "anyone@tenant.example", provider.Microsoft)
	assert.Equal(t, models.OutcomeError, out.Kind)
	assert.Contains(t, out.Reason, "every address")
}

func TestAPIProbeThrottleSetsBackoff(t *testing.T) {
	srv := fakeCredentialType(t, nil, credentialTypeResponse{ThrottleStatus: 1})
	p, limiter := newTestAPIProbe(t, srv)

	out := p.Probe(context.Background(), "user@tenant.example", provider.Microsoft)
	assert.Equal(t, models.OutcomeError, out.Kind)
	assert.Greater(t, limiter.RemainingBackoff("tenant.example"), 50*time.Second)
}

func TestAPIProbeServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	p, _ := newTestAPIProbe(t, srv)

	out := p.Probe(context.Background(), "user@tenant.example", provider.Microsoft)
	assert.Equal(t, models.OutcomeError, out.Kind)
	assert.True(t, strings.Contains(out.Reason, "unreachable"))
}
