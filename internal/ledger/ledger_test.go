package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestAppendAssignsSeqAndChains(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "governance_history.json"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	e1, err := s.Append(KindProposalOpened, SeverityInfo, "opened P1", map[string]any{"title": "P1"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e1.Seq != 1 {
		t.Fatalf("first event seq = %d, want 1", e1.Seq)
	}

	e2, err := s.Append(KindVoteCast, SeverityInfo, "vote cast", map[string]any{"member_id": "m1"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e2.Seq != 2 {
		t.Fatalf("second event seq = %d, want 2", e2.Seq)
	}
	if e1.CausalHash == e2.CausalHash {
		t.Fatal("consecutive events must not share a causal hash")
	}
	if s.Total() != 2 {
		t.Fatalf("Total() = %d, want 2", s.Total())
	}
}

func TestOpenVerifiesChainOnReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "governance_history.json")

	s, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.Append(KindVoteCast, SeverityInfo, "vote", map[string]any{"i": i}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	reopened, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Total() != 5 {
		t.Fatalf("reopened Total() = %d, want 5", reopened.Total())
	}
	if err := reopened.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestOpenRejectsTamperedChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "governance_history.json")

	s, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Append(KindVoteCast, SeverityInfo, "vote", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Corrupt the file on disk: flip a character in the stored hash.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	corrupted := []byte(string(raw))
	for i, b := range corrupted {
		if b == 'a' {
			corrupted[i] = 'b'
			break
		}
	}
	if err := os.WriteFile(path, corrupted, 0o644); err != nil {
		t.Fatalf("write corrupted: %v", err)
	}

	_, err = Open(path, zap.NewNop())
	if err == nil {
		t.Fatal("expected Open to reject a tampered chain")
	}
	if !errors.Is(err, ErrTampered) {
		t.Fatalf("expected ErrTampered, got %v", err)
	}
}

func TestTailReturnsMostRecentInOrder(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "l.json"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := s.Append(KindVoteCast, SeverityInfo, "vote", map[string]any{"i": i}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	tail := s.Tail(3)
	if len(tail) != 3 {
		t.Fatalf("Tail(3) returned %d events", len(tail))
	}
	if tail[0].Seq != 8 || tail[2].Seq != 10 {
		t.Fatalf("Tail(3) seqs = %d..%d, want 8..10", tail[0].Seq, tail[2].Seq)
	}
}
