package stores

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSTokenStore_GetSetClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	store, err := NewFSTokenStore(path, "", "")
	require.NoError(t, err)

	_, ok := store.Get()
	assert.False(t, ok, "new store should be empty")

	store.Set("T1")
	token, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "T1", token)

	store.Clear()
	_, ok = store.Get()
	assert.False(t, ok, "cleared store should be empty")
}

func TestFSTokenStore_SurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	store, err := NewFSTokenStore(path, "", "")
	require.NoError(t, err)
	store.Set("persisted")

	reloaded, err := NewFSTokenStore(path, "", "")
	require.NoError(t, err)
	token, ok := reloaded.Get()
	require.True(t, ok)
	assert.Equal(t, "persisted", token)
}

func TestFSTokenStore_ClearPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	store, err := NewFSTokenStore(path, "", "")
	require.NoError(t, err)
	store.Set("T1")
	store.Clear()

	reloaded, err := NewFSTokenStore(path, "", "")
	require.NoError(t, err)
	_, ok := reloaded.Get()
	assert.False(t, ok)
}

func TestFSTokenStore_ProfilesAreIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	work, err := NewFSTokenStore(path, "", "work")
	require.NoError(t, err)
	work.Set("work-token")

	home, err := NewFSTokenStore(path, "", "home")
	require.NoError(t, err)
	_, ok := home.Get()
	assert.False(t, ok)

	home.Set("home-token")
	home.Clear()

	again, err := NewFSTokenStore(path, "", "work")
	require.NoError(t, err)
	token, ok := again.Get()
	require.True(t, ok)
	assert.Equal(t, "work-token", token)
}

func TestFSTokenStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	store, err := NewFSTokenStore(path, "", "")
	require.NoError(t, err)
	store.Set("T1")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFSTokenStore_Encrypted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	store, err := NewFSTokenStore(path, "", "", WithPassphrase("correct horse"))
	require.NoError(t, err)
	store.Set("secret-access-token")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "secret-access-token"), "token must not appear in plaintext")

	reloaded, err := NewFSTokenStore(path, "", "", WithPassphrase("correct horse"))
	require.NoError(t, err)
	token, ok := reloaded.Get()
	require.True(t, ok)
	assert.Equal(t, "secret-access-token", token)

	// a wrong passphrase reads as no session and keeps the sealed file
	wrong, err := NewFSTokenStore(path, "", "", WithPassphrase("wrong"))
	require.NoError(t, err)
	_, ok = wrong.Get()
	assert.False(t, ok)

	backups, err := filepath.Glob(path + ".unreadable-*")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	restored, err := NewFSTokenStore(backups[0], "", "", WithPassphrase("correct horse"))
	require.NoError(t, err)
	token, ok = restored.Get()
	require.True(t, ok)
	assert.Equal(t, "secret-access-token", token)
}

func TestFSTokenStore_CorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	store, err := NewFSTokenStore(path, "", "")
	require.NoError(t, err)
	_, ok := store.Get()
	assert.False(t, ok)

	backups, err := filepath.Glob(filepath.Join(dir, "session.json.unreadable-*"))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	raw, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw))

	store.Set("T1")
	reloaded, err := NewFSTokenStore(path, "", "")
	require.NoError(t, err)
	token, ok := reloaded.Get()
	require.True(t, ok)
	assert.Equal(t, "T1", token)
}

func TestFSTokenStore_NullProfileEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"profiles":{"default":null,"work":{"access_token":"W1"}}}`), 0600))

	store, err := NewFSTokenStore(path, "", "")
	require.NoError(t, err)
	_, ok := store.Get()
	assert.False(t, ok)

	work, err := NewFSTokenStore(path, "", "work")
	require.NoError(t, err)
	token, ok := work.Get()
	require.True(t, ok)
	assert.Equal(t, "W1", token)
}
