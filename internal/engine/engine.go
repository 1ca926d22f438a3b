// Package engine — the single logical owner wiring the ledger, graveyard,
// member pool, proposal engine, tick driver, and broadcast hub together.
//
// This plays the orchestration role cmd/octoreflex/main.go gives its
// collection of subsystems (storage, BPF processor, escalation engine,
// gossip server): one process-lifetime object holding every collaborator,
// constructed once at startup and handed to the transport layer and the
// tick driver's goroutine. Unlike the teacher's main.go, which wires
// subsystems directly in func main, this console collects that wiring
// into a reusable Engine so the transport and admin packages share one
// consistent view without depending on cmd/governanced directly.
//
// The engine also hosts the State Snapshot API. Its own lock covers only
// the metrics history; ledger, member, graveyard, and proposal reads each
// go through that collaborator's own lock, so a snapshot is not atomic
// across them and a mutation may land between two of its reads.
package engine

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/govops/console/internal/broadcast"
	"github.com/govops/console/internal/graveyard"
	"github.com/govops/console/internal/ledger"
	"github.com/govops/console/internal/members"
	"github.com/govops/console/internal/proposals"
)

// ErrUnknownTombstone is returned by GraveyardTombstone for an id with no
// sealed tombstone.
var ErrUnknownTombstone = errors.New("engine: unknown tombstone")

const (
	metricsHistoryLimit = 200
	ledgerEventsLimit    = 200
	graveyardIDsLimit    = 32
)

// Engine bundles every governance collaborator behind one lock for
// snapshot consistency. Individual collaborators (Ledger, Members,
// Proposals, Graveyard) still enforce their own invariants internally;
// this lock only protects the metrics-history ring this package adds on
// top of them.
type Engine struct {
	log *zap.Logger

	Ledger    *ledger.Store
	Graveyard *graveyard.Store
	Members   *members.Pool
	Proposals *proposals.Engine
	Broadcast *broadcast.Hub

	mu             sync.Mutex
	metricsHistory []proposals.RoundMetrics
}

// New wires the ledger, graveyard, and member pool into an Engine.
// Proposals and Broadcast are left nil: constructing the broadcast hub
// requires a snapshot function that closes over the engine (Snapshot
// below), which in turn requires LatestState to be able to read
// Proposals — a dependency cycle resolved by two-phase construction.
// Callers (cmd/governanced) finish wiring like so:
//
//	eng := engine.New(log, ledgerStore, graveyardStore, memberPool)
//	eng.Broadcast = broadcast.New(cap, eng.Snapshot, log)
//	memberPool.SetBroadcaster(eng.Broadcast)
//	eng.Proposals = proposals.New(ledgerStore, memberPool, eng.Broadcast, cfg, log)
func New(log *zap.Logger, l *ledger.Store, gy *graveyard.Store, mp *members.Pool) *Engine {
	return &Engine{
		log:       log,
		Ledger:    l,
		Graveyard: gy,
		Members:   mp,
	}
}

// RecordRoundMetrics appends m to the bounded in-memory metrics history
// exposed by the snapshot API. Called from the proposal engine's OnSealed
// hook (the proposal engine itself publishes m to subscribers as a
// "metrics" message; this is purely the snapshot-history side of that
// event).
func (e *Engine) RecordRoundMetrics(m proposals.RoundMetrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metricsHistory = append(e.metricsHistory, m)
	if len(e.metricsHistory) > metricsHistoryLimit {
		e.metricsHistory = e.metricsHistory[len(e.metricsHistory)-metricsHistoryLimit:]
	}
}

// GraveyardView summarizes graveyard state for a snapshot.
type GraveyardView struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}

// State is the full read-only view returned by LatestState. Each part is
// read under its own collaborator's lock, not under one shared lock.
type State struct {
	MetricsHistory []proposals.RoundMetrics `json:"metrics_history"`
	Members        []members.Member         `json:"members"`
	LedgerEvents   []ledger.Event            `json:"ledger_events"`
	Graveyard      GraveyardView             `json:"graveyard"`
	OpenProposal   *proposals.Proposal       `json:"open_proposal,omitempty"`
}

// LatestState assembles the full snapshot: the last 200 round metrics,
// every member, the last 200 ledger events, the last 32 graveyard ids in
// id sort order (not burial order) plus total count, and the currently
// open proposal if any.
func (e *Engine) LatestState() State {
	e.mu.Lock()
	history := append([]proposals.RoundMetrics(nil), e.metricsHistory...)
	e.mu.Unlock()

	ids := e.Graveyard.ListIDs()
	recentIDs := ids
	if len(recentIDs) > graveyardIDsLimit {
		recentIDs = recentIDs[len(recentIDs)-graveyardIDsLimit:]
	}

	var openProposal *proposals.Proposal
	if id, ok := e.Proposals.OpenProposalID(); ok {
		if p, err := e.Proposals.Get(id); err == nil {
			openProposal = &p
		}
	}

	return State{
		MetricsHistory: history,
		Members:        e.Members.All(),
		LedgerEvents:   e.Ledger.Tail(ledgerEventsLimit),
		Graveyard:      GraveyardView{IDs: recentIDs, Count: len(ids)},
		OpenProposal:   openProposal,
	}
}

// Snapshot implements broadcast.ResyncSnapshotFunc: it wraps LatestState
// in the "snapshot" envelope the hub sends to new and lagging subscribers.
func (e *Engine) Snapshot() any {
	return struct {
		Type string `json:"type"`
		State
	}{Type: "snapshot", State: e.LatestState()}
}

// GraveyardIDs returns every sealed tombstone id, sorted by id.
func (e *Engine) GraveyardIDs() []string {
	return e.Graveyard.ListIDs()
}

// GraveyardTombstone loads a single tombstone by id.
func (e *Engine) GraveyardTombstone(id string) (graveyard.Tombstone, error) {
	tomb, err := e.Graveyard.Load(id)
	if err != nil {
		if errors.Is(err, graveyard.ErrNotFound) {
			return graveyard.Tombstone{}, ErrUnknownTombstone
		}
		return graveyard.Tombstone{}, err
	}
	return tomb, nil
}
