package bounce

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailprobe/internal/models"
	"mailprobe/internal/settings"
)

func newTestVerifier(t *testing.T, accounts []settings.SMTPAccount) *Verifier {
	t.Helper()
	v, err := NewVerifier(t.TempDir(), accounts, zap.NewNop())
	require.NoError(t, err)
	return v
}

func twoAccounts() []settings.SMTPAccount {
	return []settings.SMTPAccount{
		{SMTPHost: "smtp.one.example", SMTPPort: 587, Address: "probe1@one.example", Password: "pw"},
		{SMTPHost: "smtp.two.example", SMTPPort: 587, Address: "probe2@two.example", Password: "pw"},
	}
}

func TestStartBatchWritesCSVAndRotatesAccounts(t *testing.T) {
	v := newTestVerifier(t, twoAccounts())

	var sentTo []string
	var senders []string
	var subjects []string
	v.send = func(acct settings.SMTPAccount, to, subject string) error {
		sentTo = append(sentTo, to)
		senders = append(senders, acct.Address)
		subjects = append(subjects, subject)
		return nil
	}

	id, err := v.StartBatch([]string{"a@example.org", "b@example.org", "c@example.org"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "batch_"))

	assert.Equal(t, []string{"a@example.org", "b@example.org", "c@example.org"}, sentTo)
	for _, s := range subjects {
		assert.Equal(t, "Email Verification - "+id, s)
	}
	// Accounts rotate across sends.
	assert.NotEqual(t, senders[0], senders[1])

	data, err := os.ReadFile(filepath.Join(v.dir, id+".csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Email,Status,Timestamp,Sender", lines[0])
	assert.Contains(t, lines[1], "a@example.org,sent")
}

func TestStartBatchRecordsFailedSends(t *testing.T) {
	v := newTestVerifier(t, twoAccounts())
	v.send = func(acct settings.SMTPAccount, to, subject string) error {
		if to == "bad@example.org" {
			return errors.New("connection refused")
		}
		return nil
	}

	id, err := v.StartBatch([]string{"ok@example.org", "bad@example.org"})
	require.NoError(t, err)

	status, err := v.BatchStatus(id)
	require.NoError(t, err)
	assert.Equal(t, 2, status["total"])
	assert.Equal(t, 1, status["sent"])
	assert.Equal(t, 1, status["failed"])
}

func TestStartBatchWithoutAccounts(t *testing.T) {
	v := newTestVerifier(t, nil)
	_, err := v.StartBatch([]string{"a@example.org"})
	require.Error(t, err)
	assert.Equal(t, models.ErrConfigMissing, models.KindOf(err))
}

func TestProcessResponsesClassifiesByBounce(t *testing.T) {
	v := newTestVerifier(t, twoAccounts())
	v.send = func(acct settings.SMTPAccount, to, subject string) error {
		if to == "unsendable@example.org" {
			return errors.New("refused")
		}
		return nil
	}
	v.poll = func(acct settings.SMTPAccount, log *zap.Logger) ([]string, error) {
		if acct.Address == "probe1@one.example" {
			return []string{"Ghost@example.org"}, nil
		}
		return nil, nil
	}

	id, err := v.StartBatch([]string{"ghost@example.org", "real@example.org", "unsendable@example.org"})
	require.NoError(t, err)

	outcomes, err := v.ProcessResponses(id)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, models.OutcomeDefinitiveInvalid, outcomes["ghost@example.org"].Kind)
	assert.Equal(t, models.OutcomeDefinitiveValid, outcomes["real@example.org"].Kind)
	assert.Equal(t, models.OutcomeError, outcomes["unsendable@example.org"].Kind)
}

func TestProcessResponsesUnknownBatch(t *testing.T) {
	v := newTestVerifier(t, twoAccounts())
	_, err := v.ProcessResponses("batch_0_missing")
	assert.Error(t, err)
}

func TestBatchesListing(t *testing.T) {
	v := newTestVerifier(t, twoAccounts())
	v.send = func(settings.SMTPAccount, string, string) error { return nil }

	first, err := v.StartBatch([]string{"a@example.org"})
	require.NoError(t, err)
	second, err := v.StartBatch([]string{"b@example.org"})
	require.NoError(t, err)

	ids, err := v.Batches()
	require.NoError(t, err)
	assert.Contains(t, ids, first)
	assert.Contains(t, ids, second)
}
