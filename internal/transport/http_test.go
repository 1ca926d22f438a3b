package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/govops/console/internal/admin"
	"github.com/govops/console/internal/broadcast"
	"github.com/govops/console/internal/engine"
	"github.com/govops/console/internal/graveyard"
	"github.com/govops/console/internal/ledger"
	"github.com/govops/console/internal/members"
	"github.com/govops/console/internal/proposals"
)

func newTestServer(t *testing.T, adminKey string) (*Server, *http.ServeMux, *engine.Engine) {
	t.Helper()
	dir := t.TempDir()
	log := zap.NewNop()

	l, err := ledger.Open(filepath.Join(dir, "ledger.json"), log)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	gy, err := graveyard.Open(filepath.Join(dir, "graveyard"), log)
	if err != nil {
		t.Fatalf("graveyard.Open: %v", err)
	}
	mp := members.New(gy, l, 1500, log)
	eng := engine.New(log, l, gy, mp)
	eng.Broadcast = broadcast.New(256, eng.Snapshot, log)
	eng.Proposals = proposals.New(l, mp, eng.Broadcast, proposals.Config{
		VoteEnergyCost:  30,
		ConsensusCutoff: 0.80,
		ScarDamage:      proposals.ScarDamage{Low: 40, Medium: 70, High: 110},
	}, log)

	ingress := admin.NewIngress(admin.NewGate(adminKey), eng.Proposals, eng.Proposals, eng.Members, log)
	srv, mux := NewServer(eng, ingress, 30*time.Second, t.TempDir(), log)
	return srv, mux, eng
}

func TestStateEndpointReturnsSnapshot(t *testing.T) {
	_, mux, eng := newTestServer(t, "secret")
	eng.Members.Create("m1", 100)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var state engine.State
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(state.Members) != 1 {
		t.Fatalf("members = %d, want 1", len(state.Members))
	}
}

func TestGraveyardEndpointsEmptyAndNotFound(t *testing.T) {
	_, mux, _ := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/graveyard", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/graveyard/no-such-id", nil)
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec2.Code)
	}
}

func TestAdminProposalRequiresKey(t *testing.T) {
	_, mux, _ := newTestServer(t, "secret")

	body, _ := json.Marshal(proposalRequestBody{Title: "T", Risk: "low"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/proposal", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminProposalSucceedsWithHeaderKey(t *testing.T) {
	_, mux, _ := newTestServer(t, "secret")

	body, _ := json.Marshal(proposalRequestBody{Title: "raise the reserve", Risk: "medium"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/proposal", bytes.NewReader(body))
	req.Header.Set("X-Admin-Key", "secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp proposalResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ProposalID == "" {
		t.Fatal("expected a non-empty proposal id")
	}
}

func TestAdminVoteSucceedsWithBearerToken(t *testing.T) {
	_, mux, eng := newTestServer(t, "secret")
	eng.Members.Create("alice", 100)

	pbody, _ := json.Marshal(proposalRequestBody{Title: "T", Risk: "low"})
	preq := httptest.NewRequest(http.MethodPost, "/api/admin/proposal", bytes.NewReader(pbody))
	preq.Header.Set("Authorization", "Bearer secret")
	prec := httptest.NewRecorder()
	mux.ServeHTTP(prec, preq)
	var presp proposalResponseBody
	json.NewDecoder(prec.Body).Decode(&presp)

	vbody, _ := json.Marshal(voteRequestBody{ProposalID: presp.ProposalID, Choice: "for", MemberName: "alice"})
	vreq := httptest.NewRequest(http.MethodPost, "/api/admin/vote", bytes.NewReader(vbody))
	vreq.Header.Set("Authorization", "Bearer secret")
	vrec := httptest.NewRecorder()
	mux.ServeHTTP(vrec, vreq)
	if vrec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", vrec.Code, vrec.Body.String())
	}
}

func TestAdminProposalMalformedBodyIs400(t *testing.T) {
	_, mux, _ := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodPost, "/api/admin/proposal", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-Admin-Key", "secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
