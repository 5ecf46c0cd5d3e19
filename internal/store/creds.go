package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/okynn/senderctl/internal/identity"
)

var ErrNoCredentials = errors.New("store: no credentials")

// CredentialBundleFile is the marker file whose presence distinguishes a
// usable credential directory from one that never completed pairing.
const CredentialBundleFile = "creds.json"

// CredentialStore maps identities to on-disk credential directories and
// performs the load/persist/delete operations the lifecycle driver needs.
// Bundle contents are opaque to the orchestrator.
type CredentialStore struct {
	root string
}

// NewCredentialStore binds a credential store to its root directory.
func NewCredentialStore(root string) *CredentialStore {
	return &CredentialStore{root: root}
}

// Dir returns the credential directory for one identity without creating it.
func (s *CredentialStore) Dir(id identity.Identity) string {
	return filepath.Join(s.root, "users", pathSegment(id.Tenant), "device"+id.Number)
}

// EnsureDir creates the credential directory if absent and returns its path.
func (s *CredentialStore) EnsureDir(id identity.Identity) (string, error) {
	dir := s.Dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: create credential dir %s: %w", dir, err)
	}
	return dir, nil
}

// HasBundle reports whether the identity holds a usable credential bundle.
func (s *CredentialStore) HasBundle(id identity.Identity) bool {
	_, err := os.Stat(filepath.Join(s.Dir(id), CredentialBundleFile))
	return err == nil
}

// Load reads the identity's credential bundle.
func (s *CredentialStore) Load(id identity.Identity) ([]byte, error) {
	path := filepath.Join(s.Dir(id), CredentialBundleFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoCredentials, id)
		}
		return nil, fmt.Errorf("store: read credential bundle %s: %w", path, err)
	}
	return data, nil
}

// Persist writes a refreshed credential bundle for the identity.
func (s *CredentialStore) Persist(id identity.Identity, bundle []byte) error {
	dir, err := s.EnsureDir(id)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, CredentialBundleFile)
	if err := os.WriteFile(path, bundle, 0o600); err != nil {
		return fmt.Errorf("store: write credential bundle %s: %w", path, err)
	}
	return nil
}

// Delete removes the identity's credential directory recursively.
// Deleting an absent directory is a no-op.
func (s *CredentialStore) Delete(id identity.Identity) error {
	dir := s.Dir(id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("store: delete credential dir %s: %w", dir, err)
	}
	return nil
}

// pathSegment rewrites the tenant namespace separator into a
// filesystem-safe form (staff:700 -> staff_700).
func pathSegment(tenant string) string {
	return strings.ReplaceAll(tenant, ":", "_")
}
