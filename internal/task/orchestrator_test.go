package task

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxcpp/go-mockdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailprobe/internal/cache"
	"mailprobe/internal/dnsx"
	"mailprobe/internal/engine"
	"mailprobe/internal/history"
	"mailprobe/internal/models"
	"mailprobe/internal/probe"
	"mailprobe/internal/provider"
	"mailprobe/internal/results"
	"mailprobe/internal/settings"
)

type acceptAllProbe struct{}

func (acceptAllProbe) Name() string { return "smtp" }

func (acceptAllProbe) Probe(context.Context, string, provider.Tag) models.ProbeOutcome {
	return models.ProbeOutcome{
		Kind:   models.OutcomeDefinitiveValid,
		Reason: "Mailbox accepted by mail server",
	}
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	log := zap.NewNop()
	dir := t.TempDir()

	svc, err := settings.Load(filepath.Join(dir, "settings.json"), dir, nil, log)
	require.NoError(t, err)
	store, err := results.Open(dir, log)
	require.NoError(t, err)
	hist, err := history.Open(filepath.Join(dir, "history"), log)
	require.NoError(t, err)

	resolver := dnsx.NewWithLookuper(&mockdns.Resolver{
		Zones: map[string]mockdns.Zone{
			"example.org.": {MX: []net.MX{{Host: "mx.example.org.", Pref: 10}}},
		},
	}, log)

	eng := engine.New(engine.Config{
		Settings: svc,
		Resolver: resolver,
		Cache:    cache.NewResultCache(filepath.Join(dir, "cache.json"), log),
		Store:    store,
		History:  hist,
		Probes: map[provider.ProbeKind]probe.Prober{
			provider.ProbeSMTP: acceptAllProbe{},
		},
		Logger: log,
	})

	o := NewOrchestrator(eng, 3, 0, log)
	o.jitterMin, o.jitterMax = 0, 0
	return o
}

func waitForCompletion(t *testing.T, o *Orchestrator, id string) Progress {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, ok := o.Status(id)
		require.True(t, ok)
		if p.Status == models.TaskCompleted || p.Status == models.TaskFailed {
			return p
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task never finished")
	return Progress{}
}

func TestBatchProducesResultForEveryAddress(t *testing.T) {
	o := newTestOrchestrator(t)

	addresses := []string{
		"a@example.org", "b@example.org", "c@example.org",
		"d@example.org", "not-an-address",
	}
	id, err := o.StartBatch(context.Background(), addresses, models.MethodAuto)
	require.NoError(t, err)

	p := waitForCompletion(t, o, id)
	assert.Equal(t, models.TaskCompleted, p.Status)
	assert.Equal(t, models.MethodAuto, p.Method)
	assert.Equal(t, len(addresses), p.Completed)
	assert.InDelta(t, 100.0, p.Percent, 0.01)
	require.NotNil(t, p.End)

	res, ok := o.Results(id)
	require.True(t, ok)
	require.Len(t, res, len(addresses))
	assert.Equal(t, models.VerdictValid, res["a@example.org"].Verdict)
	assert.Equal(t, models.VerdictInvalid, res["not-an-address"].Verdict)
}

func TestStartBatchRejectsEmptyInput(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.StartBatch(context.Background(), nil, models.MethodAuto)
	assert.Error(t, err)
}

func TestStatusUnknownTask(t *testing.T) {
	o := newTestOrchestrator(t)
	_, ok := o.Status("nope")
	assert.False(t, ok)
	_, ok = o.Results("nope")
	assert.False(t, ok)
}

func TestStatusProgressMonotonic(t *testing.T) {
	o := newTestOrchestrator(t)

	var addresses []string
	for _, c := range "abcdefghij" {
		addresses = append(addresses, string(c)+"@example.org")
	}
	id, err := o.StartBatch(context.Background(), addresses, models.MethodAuto)
	require.NoError(t, err)

	last := 0
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, ok := o.Status(id)
		require.True(t, ok)
		assert.GreaterOrEqual(t, p.Completed, last)
		last = p.Completed
		if p.Status == models.TaskCompleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, len(addresses), last)
}
