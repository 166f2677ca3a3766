package results

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailprobe/internal/models"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	return s, dir
}

func result(addr string, v models.Verdict) models.VerificationResult {
	return models.VerificationResult{
		Address:   addr,
		Verdict:   v,
		Reason:    "probe said so",
		Provider:  "gmail",
		Method:    models.MethodSMTP,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAppendWritesCategoryRow(t *testing.T) {
	s, dir := openTestStore(t)

	wrote, err := s.Append(result("a@example.org", models.VerdictValid))
	require.NoError(t, err)
	assert.True(t, wrote)

	f, err := os.Open(filepath.Join(dir, "Valid.csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Email", "Provider", "Timestamp", "Reason", "Method"}, rows[0])
	assert.Equal(t, "a@example.org", rows[1][0])
	assert.Equal(t, "gmail", rows[1][1])
	assert.Equal(t, "probe said so", rows[1][3])
}

func TestAppendIdempotentAcrossCategories(t *testing.T) {
	s, _ := openTestStore(t)

	wrote, err := s.Append(result("a@example.org", models.VerdictRisky))
	require.NoError(t, err)
	require.True(t, wrote)

	// Same address with a different verdict must not produce a second row.
	wrote, err = s.Append(result("A@Example.org", models.VerdictValid))
	require.NoError(t, err)
	assert.False(t, wrote)

	cat, ok := s.Lookup("a@example.org")
	require.True(t, ok)
	assert.Equal(t, "Risky", cat)
}

func TestIndexSurvivesReopen(t *testing.T) {
	s, dir := openTestStore(t)
	_, err := s.Append(result("a@example.org", models.VerdictInvalid))
	require.NoError(t, err)

	reopened, err := Open(dir, zap.NewNop())
	require.NoError(t, err)

	cat, ok := reopened.Lookup("a@example.org")
	require.True(t, ok)
	assert.Equal(t, "Invalid", cat)

	wrote, err := reopened.Append(result("a@example.org", models.VerdictValid))
	require.NoError(t, err)
	assert.False(t, wrote)
}

func TestRecordKeepsProvider(t *testing.T) {
	s, dir := openTestStore(t)
	_, err := s.Append(result("a@example.org", models.VerdictValid))
	require.NoError(t, err)

	rec, ok := s.Record("a@example.org")
	require.True(t, ok)
	assert.Equal(t, "Valid", rec.Category)
	assert.Equal(t, "gmail", rec.Provider)

	// The provider column must also survive a reopen from the CSV.
	reopened, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	rec, ok = reopened.Record("a@example.org")
	require.True(t, ok)
	assert.Equal(t, "gmail", rec.Provider)
}

func TestSummary(t *testing.T) {
	s, _ := openTestStore(t)

	_, _ = s.Append(result("a@example.org", models.VerdictValid))
	_, _ = s.Append(result("b@example.org", models.VerdictValid))
	_, _ = s.Append(result("c@example.org", models.VerdictCustom))

	sum := s.Summary()
	assert.Equal(t, 2, sum["valid"])
	assert.Equal(t, 1, sum["custom"])
	assert.Equal(t, 0, sum["invalid"])
	assert.Equal(t, 0, sum["risky"])
}
