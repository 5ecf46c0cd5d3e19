// Package store owns the flat-file persistence consumed by the session
// orchestrator: the tenant -> numbers session record document and the
// per-identity credential directories.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/okynn/senderctl/internal/logging"
)

var ErrTenantUnknown = errors.New("store: tenant unknown")

// Records persists which numbers each tenant has successfully connected.
// The document is read fully and rewritten fully on every mutation; the
// mutex serializes read-modify-write cycles within this process.
type Records struct {
	path string
	mu   sync.Mutex
}

// NewRecords binds a session-record store to a JSON document path.
func NewRecords(path string) *Records {
	return &Records{path: path}
}

// Load reads the full tenant -> numbers mapping. A missing document is an
// empty mapping. A corrupt document is reset to empty so the daemon can
// keep running; affected tenants re-pair interactively.
func (r *Records) Load() (map[string][]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

// Add appends a number to a tenant's record if not already present.
// Returns false when the number was already recorded.
func (r *Records) Add(tenant, number string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.loadLocked()
	if err != nil {
		return false, err
	}
	for _, existing := range all[tenant] {
		if existing == number {
			return false, nil
		}
	}
	all[tenant] = append(all[tenant], number)
	if err := r.saveLocked(all); err != nil {
		return false, err
	}
	return true, nil
}

// Remove drops a number from a tenant's record. The tenant key itself is
// removed once its last number is gone.
func (r *Records) Remove(tenant, number string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.loadLocked()
	if err != nil {
		return false, err
	}
	numbers, ok := all[tenant]
	if !ok {
		return false, nil
	}
	kept := numbers[:0]
	removed := false
	for _, existing := range numbers {
		if existing == number {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return false, nil
	}
	if len(kept) == 0 {
		delete(all, tenant)
	} else {
		all[tenant] = kept
	}
	if err := r.saveLocked(all); err != nil {
		return false, err
	}
	return true, nil
}

// Numbers returns the recorded numbers for one tenant, insertion-ordered.
func (r *Records) Numbers(tenant string) ([]string, error) {
	all, err := r.Load()
	if err != nil {
		return nil, err
	}
	numbers, ok := all[tenant]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTenantUnknown, tenant)
	}
	out := make([]string, len(numbers))
	copy(out, numbers)
	return out, nil
}

// TotalCount returns the number of persisted identities across all tenants.
func (r *Records) TotalCount() (int, error) {
	all, err := r.Load()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, numbers := range all {
		total += len(numbers)
	}
	return total, nil
}

func (r *Records) loadLocked() (map[string][]string, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string][]string{}, nil
		}
		return nil, fmt.Errorf("store: read session records %s: %w", r.path, err)
	}
	out := map[string][]string{}
	if err := json.Unmarshal(data, &out); err != nil {
		logger := logging.Component("store")
		logger.Warn().
			Str("path", r.path).
			Err(err).
			Msg("session records corrupt, resetting")
		if err := r.saveLocked(map[string][]string{}); err != nil {
			return nil, err
		}
		return map[string][]string{}, nil
	}
	return out, nil
}

func (r *Records) saveLocked(all map[string][]string) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode session records: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: create records dir: %w", err)
		}
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("store: write session records %s: %w", r.path, err)
	}
	return nil
}
