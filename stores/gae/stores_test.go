//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEmulatorClient connects to the Datastore emulator, skipping the test when
// none is configured.
func newEmulatorClient(t *testing.T) *datastore.Client {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	project := os.Getenv("DATASTORE_PROJECT_ID")
	if project == "" {
		project = "websession-test"
	}
	client, err := datastore.NewClient(context.Background(), project)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestTokenStore_GetSetClear(t *testing.T) {
	client := newEmulatorClient(t)
	store := NewTokenStore(client, "test-"+uuid.NewString(), "")

	_, ok := store.Get()
	assert.False(t, ok)

	store.Set("T1")
	token, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "T1", token)

	store.Clear()
	_, ok = store.Get()
	assert.False(t, ok)
}

func TestTokenStore_NamespaceIsolation(t *testing.T) {
	client := newEmulatorClient(t)
	a := NewTokenStore(client, "tenant-a-"+uuid.NewString(), "default")
	b := NewTokenStore(client, "tenant-b-"+uuid.NewString(), "default")

	a.Set("token-a")
	_, ok := b.Get()
	assert.False(t, ok)
	a.Clear()
}

func TestTokenStore_Key(t *testing.T) {
	store := NewTokenStore(nil, "ns", "")
	key := store.key()
	assert.Equal(t, KindAccessToken, key.Kind)
	assert.Equal(t, "default", key.Name)
	assert.Equal(t, "ns", key.Namespace)
}
