package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketDeliversStatusThenSnapshot(t *testing.T) {
	_, mux, _ := newTestServer(t, "secret")
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var status struct {
		Type string `json:"type"`
		Mode string `json:"mode"`
	}
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status.Type != "status" || status.Mode != "live" {
		t.Fatalf("status = %+v, want {status live}", status)
	}

	var snapshot struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snapshot.Type != "snapshot" {
		t.Fatalf("snapshot.Type = %q, want snapshot", snapshot.Type)
	}
}

func TestWebSocketReceivesLiveProposalBroadcast(t *testing.T) {
	_, mux, eng := newTestServer(t, "secret")
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// Drain status + snapshot.
	var discard map[string]any
	conn.ReadJSON(&discard)
	conn.ReadJSON(&discard)

	if _, err := eng.Proposals.OpenProposal("broadcast test", "low", time.Minute); err != nil {
		t.Fatalf("OpenProposal: %v", err)
	}

	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read proposal broadcast: %v", err)
	}
	if msg["type"] != "ledger_event" {
		t.Fatalf("msg type = %v, want ledger_event", msg["type"])
	}
}
