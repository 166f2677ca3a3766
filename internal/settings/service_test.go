package settings

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testKey(t *testing.T) *[32]byte {
	t.Helper()
	key, err := KeyFromHex(hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	require.NoError(t, err)
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey(t)

	blob, err := seal(key, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, blob, "hunter2")

	got, err := open(key, blob)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key := testKey(t)
	blob, err := seal(key, "hunter2")
	require.NoError(t, err)

	other, err := KeyFromHex(hex.EncodeToString([]byte("ffffffffffffffffffffffffffffffff")))
	require.NoError(t, err)

	_, err = open(other, blob)
	assert.Error(t, err)
}

func TestAccountsPersistEncrypted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	key := testKey(t)

	svc, err := Load(path, dir, key, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, svc.AddSMTPAccount(SMTPAccount{
		SMTPHost: "smtp.example.org",
		SMTPPort: 587,
		IMAPHost: "imap.example.org",
		IMAPPort: 993,
		Address:  "probe@example.org",
		Password: "hunter2",
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")

	reloaded, err := Load(path, dir, key, zap.NewNop())
	require.NoError(t, err)
	accounts := reloaded.SMTPAccounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, "hunter2", accounts[0].Password)
}

func TestGettersAndDefaults(t *testing.T) {
	dir := t.TempDir()
	svc, err := Load(filepath.Join(dir, "settings.json"), dir, nil, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "fallback", svc.Get("missing", "fallback"))
	assert.Equal(t, 7, svc.GetInt("missing", 7))
	assert.True(t, svc.IsEnabled("missing", true))

	require.NoError(t, svc.Set("workers", "4"))
	require.NoError(t, svc.Set("catch_all_detection", "true"))
	assert.Equal(t, 4, svc.GetInt("workers", 1))
	assert.True(t, svc.IsEnabled("catch_all_detection", false))
	assert.Equal(t, []string{"chromium"}, svc.Browsers())
}

func TestDomainListsReload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "D-blacklist.csv"), []byte("Domain\nspam.example\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "D-WhiteList.csv"), []byte("partner.example\n"), 0o644))

	svc, err := Load(filepath.Join(dir, "settings.json"), dir, nil, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, svc.IsBlacklisted("SPAM.example"))
	assert.True(t, svc.IsWhitelisted("partner.example"))
	assert.False(t, svc.IsBlacklisted("partner.example"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "D-blacklist.csv"), []byte("other.example\n"), 0o644))
	require.NoError(t, svc.Reload())
	assert.False(t, svc.IsBlacklisted("spam.example"))
	assert.True(t, svc.IsBlacklisted("other.example"))
}
