package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func testEntry() *Entry {
	return &Entry{
		Credential: RefreshCredential{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RefreshToken: "1//refresh",
		},
		Token: AccessToken{
			Token:     "access",
			ExpiresAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		MintedAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), "tokens", "cache.json")}

	require.NoError(t, store.Save("review.example.org", testEntry()))

	entry, err := store.Load("review.example.org")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "1//refresh", entry.Credential.RefreshToken)
	assert.Equal(t, "access", entry.Token.Token)
	assert.True(t, entry.MintedAt.Equal(time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)))
}

func TestFileStoreLoadMissing(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), "cache.json")}

	entry, err := store.Load("review.example.org")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestFileStoreLoadUnknownKey(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), "cache.json")}
	require.NoError(t, store.Save("review.example.org", testEntry()))

	entry, err := store.Load("other.example.org")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestFileStoreKeepsOtherEntries(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), "cache.json")}
	require.NoError(t, store.Save("a.example.org", testEntry()))

	second := testEntry()
	second.Token.Token = "other-access"
	require.NoError(t, store.Save("b.example.org", second))

	entry, err := store.Load("a.example.org")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "access", entry.Token.Token)
}

func TestFileStoreDelete(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), "cache.json")}
	require.NoError(t, store.Save("review.example.org", testEntry()))

	deleted, err := store.Delete("review.example.org")
	require.NoError(t, err)
	assert.True(t, deleted)

	entry, err := store.Load("review.example.org")
	require.NoError(t, err)
	assert.Nil(t, entry)

	deleted, err = store.Delete("review.example.org")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestFileStoreRejectsNilEntry(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), "cache.json")}

	err := store.Save("review.example.org", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry is nil")
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	store := &FileStore{Path: path}
	_, err := store.Load("review.example.org")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse token cache")
}

func TestFileStorePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens", "cache.json")
	store := &FileStore{Path: path}
	require.NoError(t, store.Save("review.example.org", testEntry()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())
}

func TestKeyringStoreRoundTrip(t *testing.T) {
	keyring.MockInit()
	store := &KeyringStore{Service: "gerritctl-test"}

	entry, err := store.Load("review.example.org")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, store.Save("review.example.org", testEntry()))

	entry, err = store.Load("review.example.org")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "1//refresh", entry.Credential.RefreshToken)

	deleted, err := store.Delete("review.example.org")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete("review.example.org")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestKeyringStoreDefaultService(t *testing.T) {
	store := &KeyringStore{}
	assert.Equal(t, "gerritctl", store.service())

	store.Service = "custom"
	assert.Equal(t, "custom", store.service())
}
