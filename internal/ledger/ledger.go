// Package ledger — ledger.go
//
// Append-only, causally-linked event log for the governance engine.
//
// Persistence model:
//   - A single JSON file holding the full ordered event sequence.
//   - Every append re-marshals the whole sequence and writes it via
//     temp-file + atomic os.Rename, never open-for-append. The OS becomes
//     a co-enforcer: readers never observe a partial write.
//   - No segmentation, no truncation. For the target scale (a simulated
//     governance network, not a production audit system) rewriting the
//     whole file on every append is acceptable; see DESIGN.md for the
//     sizing rationale.
//
// Integrity model:
//   - seq starts at 1 and increases by exactly 1 per event, for the
//     lifetime of the backing file.
//   - causal_hash is SHA-256 over (prev_causal_hash, seq, timestamp_ms,
//     kind, canonical payload); the genesis event's prev is the all-zero
//     hash (ids.ZeroHash).
//   - On Open, the full file is loaded and the chain is re-verified. A
//     broken chain or non-contiguous seq is fatal: Open returns
//     ErrTampered and the caller must refuse to serve traffic.
//
// Concurrency: callers serialize Append through the single-writer engine
// discipline; the Store itself also holds an internal mutex so Tail/Range
// reads are always consistent with the last completed Append.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/govops/console/internal/ids"
)

// Sentinel errors surfaced by the ledger.
var (
	// ErrPersist indicates an I/O failure durably writing the ledger file.
	// Callers must treat this as fatal to the writer role.
	ErrPersist = errors.New("ledger: persist failure")

	// ErrTampered indicates the on-disk chain failed verification, either
	// at startup or via an explicit Verify call.
	ErrTampered = errors.New("ledger: chain verification failed")
)

// Event kinds, per the governance data model.
const (
	KindProposalOpened  = "proposal_opened"
	KindVoteCast        = "vote_cast"
	KindProposalSealed  = "proposal_sealed"
	KindMemberDamaged   = "member_damaged"
	KindMemberDied      = "member_died"
	KindTombstoneSealed = "tombstone_sealed"
	KindResync          = "resync"
)

// Severity levels for an Event.
const (
	SeverityInfo = "info"
	SeverityWarn = "warn"
	SeverityCrit = "crit"
)

// Event is one entry in the causal chain.
type Event struct {
	Seq         int64          `json:"seq"`
	TimestampMs int64          `json:"timestamp_ms"`
	Kind        string         `json:"kind"`
	Message     string         `json:"message"`
	Severity    string         `json:"severity"`
	Payload     map[string]any `json:"payload,omitempty"`
	CausalHash  string         `json:"causal_hash"`
}

// fileFormat is the on-disk envelope for the ledger file.
type fileFormat struct {
	SchemaVersion string  `json:"schema_version"`
	Events        []Event `json:"events"`
}

const schemaVersion = "1"

// Store is the append-only event log. The zero value is not usable; call
// Open.
type Store struct {
	mu       sync.RWMutex
	path     string
	log      *zap.Logger
	events   []Event
	onAppend func(kind string)
}

// OnAppend registers a callback invoked after every successful Append,
// with the event's kind — the hook the observability package uses to
// drive LedgerEventsTotal / LedgerTotalSeq without this package importing
// Prometheus directly, mirroring broadcast.Hub's OnResync/OnDrop.
func (s *Store) OnAppend(fn func(kind string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAppend = fn
}

// Open loads path (if it exists) and verifies its causal chain. A missing
// file is treated as an empty, freshly-initialized ledger. A present file
// that fails verification returns ErrTampered wrapped with detail — the
// caller must not serve traffic in that case.
func Open(path string, log *zap.Logger) (*Store, error) {
	s := &Store{path: path, log: log}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("ledger.Open: read %q: %w", path, err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("%w: ledger.Open: parse %q: %v", ErrTampered, path, err)
	}

	if err := verifyChain(ff.Events); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTampered, err)
	}

	s.events = ff.Events
	log.Info("ledger loaded", zap.String("path", path), zap.Int("events", len(s.events)))
	return s, nil
}

// verifyChain checks seq contiguity starting at 1 and recomputes every
// causal hash from its neighbor.
func verifyChain(events []Event) error {
	prevHash := ids.ZeroHash
	var prevSeq int64
	for i, e := range events {
		wantSeq := prevSeq + 1
		if e.Seq != wantSeq {
			return fmt.Errorf("event %d: seq %d, want %d", i, e.Seq, wantSeq)
		}
		want := ids.CausalHash(prevHash, e.Seq, e.TimestampMs, e.Kind, e.Payload)
		if want != e.CausalHash {
			return fmt.Errorf("event %d (seq %d): causal_hash mismatch: stored %q, recomputed %q", i, e.Seq, e.CausalHash, want)
		}
		prevHash = e.CausalHash
		prevSeq = e.Seq
	}
	return nil
}

// Append assigns the next seq, computes the causal hash, appends the
// event to the in-memory sequence, and durably persists the full file via
// temp-file + atomic rename. On I/O failure the in-memory sequence is
// rolled back and ErrPersist is returned — callers must treat this as
// fatal per the error handling design.
func (s *Store) Append(kind, severity, message string, payload map[string]any) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevHash := ids.ZeroHash
	var nextSeq int64 = 1
	if n := len(s.events); n > 0 {
		prevHash = s.events[n-1].CausalHash
		nextSeq = s.events[n-1].Seq + 1
	}

	evt := Event{
		Seq:         nextSeq,
		TimestampMs: time.Now().UnixMilli(),
		Kind:        kind,
		Message:     message,
		Severity:    severity,
		Payload:     payload,
	}
	evt.CausalHash = ids.CausalHash(prevHash, evt.Seq, evt.TimestampMs, evt.Kind, evt.Payload)

	candidate := append(append([]Event(nil), s.events...), evt)
	if err := s.persist(candidate); err != nil {
		s.log.Error("ledger append: persist failed", zap.Error(err), zap.Int64("seq", evt.Seq))
		return Event{}, fmt.Errorf("%w: %v", ErrPersist, err)
	}
	s.events = candidate
	onAppend := s.onAppend

	s.log.Info("ledger event appended",
		zap.Int64("seq", evt.Seq),
		zap.String("kind", evt.Kind),
		zap.String("severity", evt.Severity))

	if onAppend != nil {
		onAppend(evt.Kind)
	}
	return evt, nil
}

// persist writes events to s.path via temp-file + atomic rename, following
// the same discipline as the teacher's hint-file writer: write to a
// sibling temp path with restrictive permissions, then rename over the
// destination so readers never observe a partial write.
func (s *Store) persist(events []Event) error {
	ff := fileFormat{SchemaVersion: schemaVersion, Events: events}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %q: %w", dir, err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write tmp %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %q -> %q: %w", tmp, s.path, err)
	}
	return nil
}

// Tail returns the last n events in ledger order (oldest first). If n
// exceeds the ledger size, the full sequence is returned.
func (s *Store) Tail(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	if n > len(s.events) {
		n = len(s.events)
	}
	out := make([]Event, n)
	copy(out, s.events[len(s.events)-n:])
	return out
}

// Range returns events with seq in [from, to], inclusive. Both bounds
// must be valid seq values (1-indexed, contiguous); an out-of-range
// request is clamped rather than erroring.
func (s *Store) Range(from, to int64) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.Seq >= from && e.Seq <= to {
			out = append(out, e)
		}
	}
	return out
}

// Total returns the current seq counter (0 if the ledger is empty).
func (s *Store) Total() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return 0
	}
	return s.events[len(s.events)-1].Seq
}

// LastCausalHash returns the causal hash of the most recent event, or
// ids.ZeroHash if the ledger is empty. Used by the member pool to stamp
// a tombstone's causal_hash_at_death.
func (s *Store) LastCausalHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return ids.ZeroHash
	}
	return s.events[len(s.events)-1].CausalHash
}

// Verify re-runs chain verification over the current in-memory sequence.
// Exposed for ad-hoc operator verification outside of startup.
func (s *Store) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := verifyChain(s.events); err != nil {
		return fmt.Errorf("%w: %v", ErrTampered, err)
	}
	return nil
}
