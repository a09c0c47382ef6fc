package admission

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowListCreatedEmptyIfMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowed.txt")

	al, err := Load(path, nil)
	require.NoError(t, err)
	defer al.Close()

	assert.False(t, al.Contains("deadbeef"))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestAllowListIgnoresBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowed.txt")
	require.NoError(t, os.WriteFile(path, []byte("aabbcc\n\n  \nDDEEFF\n"), 0o644))

	al, err := Load(path, nil)
	require.NoError(t, err)
	defer al.Close()

	assert.True(t, al.Contains("aabbcc"))
	assert.True(t, al.Contains("ddeeff"), "lookups and storage are case-insensitive")
	assert.False(t, al.Contains("000000"))
}

func TestAllowListHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowed.txt")
	require.NoError(t, os.WriteFile(path, []byte("111111\n"), 0o644))

	al, err := Load(path, nil)
	require.NoError(t, err)
	defer al.Close()
	require.True(t, al.Contains("111111"))

	require.NoError(t, os.WriteFile(path, []byte("222222\n"), 0o644))

	assert.Eventually(t, func() bool {
		return al.Contains("222222") && !al.Contains("111111")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPeerKeyHashRequiresCertificate(t *testing.T) {
	_, err := PeerKeyHash(nil)
	assert.ErrorIs(t, err, ErrNoClientCertificate)
}

func TestCloseReasonMatchesSpecWireStrings(t *testing.T) {
	assert.Equal(t, "Client certificate required", CloseReason(ErrNoClientCertificate))
	assert.Equal(t, "Client certificate not whitelisted", CloseReason(ErrNotWhitelisted))
}
