// Package transport — http.go
//
// The public HTTP surface: static dashboard assets, read-only state
// probes, and the admin JSON routes. Request/response shaping follows
// the operator socket's Request/Response struct idiom, adapted from a
// length-prefixed Unix socket protocol to ordinary JSON bodies over
// net/http — this console's public surface has no operator-only
// trust boundary to protect with a filesystem socket, so plain HTTP plus
// the admin shared-secret gate takes its place.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/govops/console/internal/admin"
	"github.com/govops/console/internal/engine"
	"github.com/govops/console/internal/graveyard"
	"github.com/govops/console/internal/proposals"
)

// Server holds everything the HTTP mux needs to answer requests.
type Server struct {
	eng           *engine.Engine
	ingress       *admin.Ingress
	defaultWindow time.Duration
	staticDir     string
	log           *zap.Logger
	hub           *Hub
}

// NewServer creates a Server and returns the configured *http.ServeMux.
func NewServer(eng *engine.Engine, ingress *admin.Ingress, defaultWindow time.Duration, staticDir string, log *zap.Logger) (*Server, *http.ServeMux) {
	s := &Server{
		eng:           eng,
		ingress:       ingress,
		defaultWindow: defaultWindow,
		staticDir:     staticDir,
		log:           log,
		hub:           newHub(eng, log),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/graveyard", s.handleGraveyardList)
	mux.HandleFunc("/api/graveyard/", s.handleGraveyardOne)
	mux.HandleFunc("/api/admin/proposal", s.handleAdminProposal)
	mux.HandleFunc("/api/admin/vote", s.handleAdminVote)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	return s, mux
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.LatestState())
}

type graveyardListResponse struct {
	IDs   []string         `json:"ids"`
	Stats graveyard.Stats  `json:"stats"`
}

func (s *Server) handleGraveyardList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ids := s.eng.GraveyardIDs()
	stats, err := s.eng.Graveyard.Stats()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, graveyardListResponse{IDs: ids, Stats: stats})
}

func (s *Server) handleGraveyardOne(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Path[len("/api/graveyard/"):]
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	tomb, err := s.eng.GraveyardTombstone(id)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownTombstone) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tomb)
}

type proposalRequestBody struct {
	Title           string `json:"title"`
	Risk            string `json:"risk"`
	VotingWindowSec int    `json:"voting_window_secs"`
}

type proposalResponseBody struct {
	ProposalID string `json:"proposal_id"`
}

func (s *Server) handleAdminProposal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body proposalRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	id, err := s.ingress.InjectProposal(admin.InjectProposalRequest{
		Secret:          adminSecret(r),
		Title:           body.Title,
		Risk:            body.Risk,
		VotingWindowSec: body.VotingWindowSec,
	}, s.defaultWindow)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposalResponseBody{ProposalID: id})
}

type voteRequestBody struct {
	ProposalID string `json:"proposal_id"`
	Choice     string `json:"choice"`
	MemberID   string `json:"member_id"`
	MemberName string `json:"member_name"`
}

type voteResponseBody struct {
	Receipt proposals.Receipt `json:"receipt"`
}

func (s *Server) handleAdminVote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body voteRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	receipt, err := s.ingress.InjectVote(admin.InjectVoteRequest{
		Secret:     adminSecret(r),
		ProposalID: body.ProposalID,
		Choice:     body.Choice,
		MemberID:   body.MemberID,
		MemberName: body.MemberName,
	})
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, voteResponseBody{Receipt: receipt})
}

func adminSecret(r *http.Request) string {
	if key := r.Header.Get("X-Admin-Key"); key != "" {
		return key
	}
	const bearerPrefix = "Bearer "
	if auth := r.Header.Get("Authorization"); len(auth) > len(bearerPrefix) && auth[:len(bearerPrefix)] == bearerPrefix {
		return auth[len(bearerPrefix):]
	}
	return ""
}

func writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, admin.ErrUnauthorized):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, admin.ErrBadRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, proposals.ErrUnknownMember), errors.Is(err, proposals.ErrUnknownProposal):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, proposals.ErrMemberDead), errors.Is(err, proposals.ErrVotingClosed), errors.Is(err, proposals.ErrDoubleVote):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
