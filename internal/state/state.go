// Package state is the persisted-state collaborator spec §6 describes as
// "external to the core, specified for contract completeness": a single
// JSON blob at a fixed path holding model profiles, permanent permission
// grants, and the todo list. The core only depends on Load/Save primitives,
// never on the file's internal schema beyond the wfmodel types it stores.
//
// Grounded on internal/auth.ProfileStore's load-or-default / mutex-guarded /
// mkdir-then-atomic-write persistence shape, generalized from auth profiles
// to this module's three named blobs.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/writeflow/writeflow/pkg/wfmodel"
)

const (
	filename    = "state.json"
	fileVersion = 1
)

// ModelProfile names a model configuration a user can switch between via
// /model (spec §6 REPL contract).
type ModelProfile struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	IsDefault bool  `json:"is_default,omitempty"`
}

// PermanentGrant is the on-disk shape of a wfmodel.SessionGrant with
// Kind==GrantPermanent. Predicates are not serializable so only the scope
// that survives a restart — tool name — is persisted; a grant narrowed by
// an InputPredicate at grant time reverts to an unscoped permanent grant
// across restarts.
type PermanentGrant struct {
	ToolName  string    `json:"tool_name"`
	GrantedAt time.Time `json:"granted_at"`
}

// Blob is the full on-disk shape.
type Blob struct {
	Version         int              `json:"version"`
	ModelProfiles   []ModelProfile   `json:"model_profiles,omitempty"`
	PermanentGrants []PermanentGrant `json:"permanent_grants,omitempty"`
	Todos           []wfmodel.TodoItem `json:"todos,omitempty"`
}

// Store guards a Blob with a mutex and knows its own path on disk.
type Store struct {
	mu   sync.RWMutex
	path string
	blob Blob
}

// Load reads path, returning a fresh empty Store if the file does not yet
// exist (first run).
func Load(path string) (*Store, error) {
	s := &Store{path: path, blob: Blob{Version: fileVersion}}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("state: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.blob); err != nil {
		return nil, fmt.Errorf("state: parse %s: %w", path, err)
	}
	return s, nil
}

// DefaultPath joins stateDir with the fixed blob filename.
func DefaultPath(stateDir string) string {
	return filepath.Join(stateDir, filename)
}

// Save marshals the current blob and writes it to s.path, creating parent
// directories as needed. Writes go through a temp file plus rename so a
// crash mid-write never leaves a truncated blob behind.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: mkdir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(s.blob, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("state: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("state: rename %s: %w", tmp, err)
	}
	return nil
}

// ModelProfiles returns a copy of the configured model profiles.
func (s *Store) ModelProfiles() []ModelProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ModelProfile, len(s.blob.ModelProfiles))
	copy(out, s.blob.ModelProfiles)
	return out
}

// SetModelProfiles replaces the stored model profiles (does not save).
func (s *Store) SetModelProfiles(profiles []ModelProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob.ModelProfiles = profiles
}

// PermanentGrants returns a copy of the stored permanent grants.
func (s *Store) PermanentGrants() []PermanentGrant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PermanentGrant, len(s.blob.PermanentGrants))
	copy(out, s.blob.PermanentGrants)
	return out
}

// AddPermanentGrant records toolName as permanently granted, replacing any
// existing entry for the same tool, and returns the resulting list.
func (s *Store) AddPermanentGrant(toolName string, grantedAt time.Time) []PermanentGrant {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.blob.PermanentGrants[:0:0]
	for _, g := range s.blob.PermanentGrants {
		if g.ToolName != toolName {
			filtered = append(filtered, g)
		}
	}
	s.blob.PermanentGrants = append(filtered, PermanentGrant{ToolName: toolName, GrantedAt: grantedAt})
	out := make([]PermanentGrant, len(s.blob.PermanentGrants))
	copy(out, s.blob.PermanentGrants)
	return out
}

// Todos returns a copy of the persisted todo list.
func (s *Store) Todos() []wfmodel.TodoItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wfmodel.TodoItem, len(s.blob.Todos))
	copy(out, s.blob.Todos)
	return out
}

// SetTodos replaces the persisted todo list. The caller is responsible for
// wfmodel.SingleInProgress; the store itself does not enforce core
// invariants (spec §6: the core depends on read/write primitives only).
func (s *Store) SetTodos(items []wfmodel.TodoItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob.Todos = items
}
