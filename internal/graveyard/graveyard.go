// Package graveyard — graveyard.go
//
// Write-once, tamper-evident tombstone storage for dead members.
//
// Persistence model:
//   - One JSON file per dead member: <dir>/<id>.json.
//   - Written via temp-file + atomic rename, exactly like the ledger.
//   - After the rename, the file is chmod'd to 0o444 (read-only for all).
//     The OS becomes a co-enforcer of write-once semantics: even a bug
//     that tries to rewrite a tombstone hits a permission error, not a
//     silent overwrite.
//
// Index model:
//   - On Open, the directory is scanned; every "<id>.json" filename
//     becomes an in-memory index entry, giving Contains O(1) lookup
//     without a disk read (the "Lazarus check" must be cheap — it runs
//     on every member creation).
//   - An unparseable tombstone file aborts startup: a corrupt graveyard
//     is as serious as a corrupt ledger.
package graveyard

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/govops/console/internal/ids"
)

// Sentinel errors surfaced by the graveyard.
var (
	// ErrAlreadySealed indicates a bury() call for an id already present
	// in the graveyard. Logically unreachable absent corruption, since
	// the member pool's die() is idempotent and checks Contains first.
	ErrAlreadySealed = errors.New("graveyard: identity already sealed")

	// ErrPersist indicates an I/O failure writing a tombstone file.
	ErrPersist = errors.New("graveyard: persist failure")

	// ErrNotFound indicates load() was called for an id with no tombstone.
	ErrNotFound = errors.New("graveyard: tombstone not found")

	// ErrTampered indicates verify() found a mismatch between the stored
	// causal_hash_at_death and what the tombstone's own fields recompute.
	ErrTampered = errors.New("graveyard: tombstone verification failed")
)

// ScarEntry records a single damage increment attributed to a member.
type ScarEntry struct {
	TimestampMs int64  `json:"timestamp_ms"`
	Severity    string `json:"severity"`
	Source      string `json:"source"`
	Amount      int    `json:"amount"`
}

// Tombstone is the write-once record of a dead member.
type Tombstone struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Seed             string      `json:"seed"`
	CreatedAtMs      int64       `json:"created_at_ms"`
	DiedAtMs         int64       `json:"died_at_ms"`
	PeakEnergy       int         `json:"peak_energy"`
	FinalEnergy      int         `json:"final_energy"`
	TasksAttempted   int         `json:"tasks_attempted"`
	TasksSucceeded   int         `json:"tasks_succeeded"`
	EfficiencyRating float64     `json:"efficiency_rating"`
	Scars            []ScarEntry `json:"scars"`

	// LedgerHashAtDeath is the ledger's causal hash at the moment of
	// burial, sampled from the ledger tail. CausalHashAtDeath chains from
	// it, which is what lets Verify recompute the latter purely from
	// fields stored in this file, with no second copy on disk.
	LedgerHashAtDeath string `json:"ledger_hash_at_death"`
	CausalHashAtDeath string `json:"causal_hash_at_death"`
}

// TombstonePayload returns the canonical payload hashed into
// CausalHashAtDeath: every field except the two hashes themselves.
func TombstonePayload(t Tombstone) map[string]any {
	scars := make([]any, 0, len(t.Scars))
	for _, sc := range t.Scars {
		scars = append(scars, map[string]any{
			"timestamp_ms": sc.TimestampMs,
			"severity":     sc.Severity,
			"source":       sc.Source,
			"amount":       sc.Amount,
		})
	}
	return map[string]any{
		"id":                t.ID,
		"name":              t.Name,
		"seed":              t.Seed,
		"created_at_ms":     t.CreatedAtMs,
		"died_at_ms":        t.DiedAtMs,
		"peak_energy":       t.PeakEnergy,
		"final_energy":      t.FinalEnergy,
		"tasks_attempted":   t.TasksAttempted,
		"tasks_succeeded":   t.TasksSucceeded,
		"efficiency_rating": t.EfficiencyRating,
		"scars":             scars,
	}
}

// Stats summarizes the graveyard population.
type Stats struct {
	Count        int     `json:"count"`
	MeanLifespan float64 `json:"mean_lifespan_ms"`
}

// Store indexes and persists tombstones under a directory. The zero value
// is not usable; call Open.
type Store struct {
	mu    sync.RWMutex
	dir   string
	log   *zap.Logger
	index map[string]bool
}

// Open scans dir for existing tombstones and builds the in-memory index.
// The directory is created if missing. Any file matching "*.json" whose
// contents do not parse as a Tombstone aborts startup.
func Open(dir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("graveyard.Open: mkdir %q: %w", dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("graveyard.Open: read dir %q: %w", dir, err)
	}

	idx := make(map[string]bool)
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("graveyard.Open: read %q: %w", path, err)
		}
		var tomb Tombstone
		if err := json.Unmarshal(data, &tomb); err != nil {
			return nil, fmt.Errorf("graveyard.Open: unparseable tombstone %q: %w", path, err)
		}
		id := strings.TrimSuffix(ent.Name(), ".json")
		if tomb.ID != id {
			return nil, fmt.Errorf("graveyard.Open: tombstone %q id mismatch: file says %q, content says %q", path, id, tomb.ID)
		}
		idx[id] = true
	}

	log.Info("graveyard indexed", zap.String("dir", dir), zap.Int("count", len(idx)))
	return &Store{dir: dir, log: log, index: idx}, nil
}

// Contains reports whether id has a tombstone, via the in-memory index
// only (O(1), no disk access). This backs the Lazarus check.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index[id]
}

// Bury writes tomb to disk and adds its id to the index. Returns
// ErrAlreadySealed if the id is already present. The file is written via
// temp+rename, then chmod'd to 0o444 (read-only) before the call returns.
func (s *Store) Bury(tomb Tombstone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index[tomb.ID] {
		return ErrAlreadySealed
	}

	data, err := json.MarshalIndent(tomb, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPersist, err)
	}

	path := filepath.Join(s.dir, tomb.ID+".json")
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write tmp %q: %v", ErrPersist, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename %q -> %q: %v", ErrPersist, tmp, path, err)
	}
	if err := os.Chmod(path, 0o444); err != nil {
		// The tombstone content is already durable; failing to lock the
		// permission bits is logged but not fatal to the bury itself.
		s.log.Warn("graveyard: chmod read-only failed", zap.String("path", path), zap.Error(err))
	}

	s.index[tomb.ID] = true
	s.log.Info("member buried", zap.String("id", tomb.ID), zap.String("name", tomb.Name))
	return nil
}

// Load reads and returns the tombstone for id.
func (s *Store) Load(id string) (Tombstone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.index[id] {
		return Tombstone{}, ErrNotFound
	}
	path := filepath.Join(s.dir, id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return Tombstone{}, fmt.Errorf("graveyard.Load: read %q: %w", path, err)
	}
	var tomb Tombstone
	if err := json.Unmarshal(data, &tomb); err != nil {
		return Tombstone{}, fmt.Errorf("graveyard.Load: parse %q: %w", path, err)
	}
	return tomb, nil
}

// ListIDs returns all indexed ids in sorted order.
func (s *Store) ListIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.index))
	for id := range s.index {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats computes population statistics over all tombstones.
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	if len(ids) == 0 {
		return Stats{}, nil
	}

	var totalLifespan float64
	for _, id := range ids {
		tomb, err := s.Load(id)
		if err != nil {
			return Stats{}, fmt.Errorf("graveyard.Stats: load %q: %w", id, err)
		}
		totalLifespan += float64(tomb.DiedAtMs - tomb.CreatedAtMs)
	}

	return Stats{
		Count:        len(ids),
		MeanLifespan: totalLifespan / float64(len(ids)),
	}, nil
}

// Verify re-reads the tombstone for id and recomputes causal_hash_at_death
// from the stored scar/event list and ledger_hash_at_death, comparing
// against the stored value. Any edit to the file after burial — a scar
// amount, an energy figure, the death timestamp — changes the recomputed
// hash and is reported as ErrTampered.
func (s *Store) Verify(id string) error {
	tomb, err := s.Load(id)
	if err != nil {
		return err
	}

	recomputed := ids.CausalHash(tomb.LedgerHashAtDeath, 0, tomb.DiedAtMs, "tombstone_sealed", TombstonePayload(tomb))
	if recomputed != tomb.CausalHashAtDeath {
		return fmt.Errorf("%w: tombstone %q: stored %q, recomputed %q", ErrTampered, id, tomb.CausalHashAtDeath, recomputed)
	}
	return nil
}
