package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okynn/senderctl/internal/identity"
	"github.com/okynn/senderctl/internal/testutil/testlog"
)

func TestRecordsRoundTrip(t *testing.T) {
	testlog.Start(t)
	r := NewRecords(filepath.Join(t.TempDir(), "sessions.json"))

	added, err := r.Add("alice", "628123456789")
	require.NoError(t, err)
	require.True(t, added)

	added, err = r.Add("alice", "628123456789")
	require.NoError(t, err)
	assert.False(t, added, "duplicate add must be a no-op")

	_, err = r.Add("alice", "628987654321")
	require.NoError(t, err)
	_, err = r.Add("staff:700123", "628111222333")
	require.NoError(t, err)

	all, err := r.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"628123456789", "628987654321"}, all["alice"])
	assert.Equal(t, []string{"628111222333"}, all["staff:700123"])

	total, err := r.TotalCount()
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestRecordsRemoveDropsEmptyTenant(t *testing.T) {
	testlog.Start(t)
	r := NewRecords(filepath.Join(t.TempDir(), "sessions.json"))
	_, err := r.Add("bob", "628123456789")
	require.NoError(t, err)

	removed, err := r.Remove("bob", "628123456789")
	require.NoError(t, err)
	require.True(t, removed)

	all, err := r.Load()
	require.NoError(t, err)
	_, ok := all["bob"]
	assert.False(t, ok, "empty tenant key must be pruned")

	removed, err = r.Remove("bob", "628123456789")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRecordsCorruptDocumentResets(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	r := NewRecords(path)
	all, err := r.Load()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRecordsNumbersUnknownTenant(t *testing.T) {
	testlog.Start(t)
	r := NewRecords(filepath.Join(t.TempDir(), "sessions.json"))
	_, err := r.Numbers("nobody")
	assert.ErrorIs(t, err, ErrTenantUnknown)
}

func TestCredentialStoreLifecycle(t *testing.T) {
	testlog.Start(t)
	s := NewCredentialStore(t.TempDir())
	id := identity.Identity{Tenant: "staff:700123", Number: "628123456789"}

	assert.False(t, s.HasBundle(id))
	_, err := s.Load(id)
	assert.ErrorIs(t, err, ErrNoCredentials)

	require.NoError(t, s.Persist(id, []byte(`{"noiseKey":"x"}`)))
	assert.True(t, s.HasBundle(id))

	bundle, err := s.Load(id)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"noiseKey":"x"}`), bundle)

	// Tenant namespace separator must not leak into the path.
	assert.NotContains(t, s.Dir(id), ":")

	require.NoError(t, s.Delete(id))
	assert.False(t, s.HasBundle(id))
	assert.NoError(t, s.Delete(id), "deleting an absent dir is a no-op")
}
