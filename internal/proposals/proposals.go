// Package proposals — proposals.go
//
// The proposal lifecycle: Open → Sealed (terminal), vote acceptance with
// the five ordered precondition checks from §4.5, and deterministic
// tallying with dissent-based scar attribution.
//
// Like members.Pool, the engine depends on its collaborators (ledger,
// member pool, broadcast hub) through narrow interfaces rather than
// concrete types, following the same "inject the collaborator, mutex-
// guard the owned state" shape the teacher uses throughout
// (escalation.ProcessState, budget.Bucket, governance.ConstitutionalKernel).
package proposals

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/govops/console/internal/ids"
	"github.com/govops/console/internal/ledger"
	"github.com/govops/console/internal/members"
)

// Sentinel errors surfaced by the proposal engine.
var (
	ErrUnknownMember   = errors.New("proposals: unknown member")
	ErrMemberDead      = errors.New("proposals: member is dead")
	ErrUnknownProposal = errors.New("proposals: unknown proposal")
	ErrVotingClosed    = errors.New("proposals: voting is closed")
	ErrDoubleVote      = errors.New("proposals: member already voted")
)

// State is a proposal's lifecycle stage.
type State string

const (
	StateOpen   State = "open"
	StateSealed State = "sealed"
)

// Outcome is the sealed classification of a proposal's tally.
type Outcome string

const (
	OutcomeConsensus Outcome = "consensus"
	OutcomeMajority  Outcome = "majority"
	OutcomeFailed    Outcome = "failed"
)

// Choice is a single member's vote.
type Choice string

const (
	ChoiceFor     Choice = "for"
	ChoiceAgainst Choice = "against"
	ChoiceAbstain Choice = "abstain"
)

// Tally holds for/against/abstain counts.
type Tally struct {
	For     int `json:"for"`
	Against int `json:"against"`
	Abstain int `json:"abstain"`
}

// Proposal is a snapshot of one proposal's state. Engine methods return
// copies; callers never hold a pointer into engine-owned memory.
type Proposal struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Risk         string           `json:"risk"`
	OpenedAtMs   int64            `json:"opened_at_ms"`
	VotingWindow time.Duration    `json:"voting_window"`
	ClosesAtMs   int64            `json:"closes_at_ms"`
	State        State            `json:"state"`
	Votes        map[string]Choice `json:"votes"`
	Outcome      *Outcome         `json:"outcome,omitempty"`
	Tally        Tally            `json:"tally"`
}

// Receipt is returned from a successful CastVote.
type Receipt struct {
	ProposalID string `json:"proposal_id"`
	MemberID   string `json:"member_id"`
	Choice     Choice `json:"choice"`
	SeqAtVote  int64  `json:"seq_at_vote"`
}

// RoundMetrics is the derived, not-persisted-beyond-the-ledger summary of
// a just-sealed proposal, matching §3's Round Metrics shape.
type RoundMetrics struct {
	Round          int     `json:"round"`
	ProposalID     string  `json:"proposal_id"`
	Title          string  `json:"title"`
	Risk           string  `json:"risk"`
	ForVotes       int     `json:"for_votes"`
	AgainstVotes   int     `json:"against_votes"`
	AbstainVotes   int     `json:"abstain_votes"`
	TurnoutPct     float64 `json:"turnout_pct"`
	DissentRatePct float64 `json:"dissent_rate_pct"`
	ScarsRound     int     `json:"scars_round"`
	TotalDamage    int     `json:"total_damage"`
	LedgerTotal    int64   `json:"ledger_total"`
	Members        int     `json:"members"`
	Outcome        Outcome `json:"outcome"`
}

// MemberSource is the subset of members.Pool the proposal engine needs.
type MemberSource interface {
	Get(id string) (members.Member, error)
	All() []members.Member
	AddDamage(id string, amount int, source, severity string) (members.DeathResult, error)
	DecrementEnergy(id string, amount int, cause string) (members.DeathResult, error)
}

// LedgerAppender is the subset of ledger.Store the proposal engine needs.
type LedgerAppender interface {
	Append(kind, severity, message string, payload map[string]any) (ledger.Event, error)
	Total() int64
}

// Broadcaster is the subset of the broadcast hub the proposal engine
// needs to publish typed messages as side effects of state transitions.
type Broadcaster interface {
	Publish(msg any)
}

// ScarDamage maps risk level to dissent scar damage, per §4.5.
type ScarDamage struct {
	Low    int
	Medium int
	High   int
}

// ScarAmount returns the configured scar damage for a risk level,
// defaulting to Medium for an unrecognized value.
func (s ScarDamage) ScarAmount(risk string) int {
	switch risk {
	case "low":
		return s.Low
	case "high":
		return s.High
	default:
		return s.Medium
	}
}

// Config holds the proposal engine's tunable economics.
type Config struct {
	VoteEnergyCost  int
	ConsensusCutoff float64
	ScarDamage      ScarDamage
}

// Engine owns the set of proposals and their vote tallying. The zero
// value is not usable; call New.
type Engine struct {
	mu      sync.Mutex
	log     *zap.Logger
	ledger  LedgerAppender
	members MemberSource
	bcast   Broadcaster
	cfg     Config

	proposals map[string]*Proposal
	order     []string // insertion order, for deterministic iteration
	round     int

	onOpened func(risk string)
	onSealed func(RoundMetrics)
	onVote   func(choice Choice)
}

// New creates an Engine with no proposals.
func New(ledger LedgerAppender, members MemberSource, bcast Broadcaster, cfg Config, log *zap.Logger) *Engine {
	return &Engine{
		log:       log,
		ledger:    ledger,
		members:   members,
		bcast:     bcast,
		cfg:       cfg,
		proposals: make(map[string]*Proposal),
	}
}

// SetConfig live-applies a hot-reloaded voting economics config
// (VoteEnergyCost, ConsensusCutoff, ScarDamage). All three are
// non-destructive: they only affect proposals opened or sealed after the
// call, never rewriting an already-sealed outcome.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// OnOpened, OnSealed, and OnVote register observability hooks fired after
// the corresponding state transition, mirroring broadcast.Hub's
// OnResync/OnDrop. Nil until set — cmd/governanced wires these to the
// observability package's Prometheus counters (and OnSealed also to the
// engine's metrics history) without this package importing either.
func (e *Engine) OnOpened(fn func(risk string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onOpened = fn
}

func (e *Engine) OnSealed(fn func(RoundMetrics)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSealed = fn
}

func (e *Engine) OnVote(fn func(choice Choice)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onVote = fn
}

// OpenProposal creates a new Open proposal, appends proposal_opened, and
// broadcasts it.
func (e *Engine) OpenProposal(title, risk string, window time.Duration) (Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	p := &Proposal{
		ID:           ids.New(),
		Title:        title,
		Risk:         risk,
		OpenedAtMs:   now.UnixMilli(),
		VotingWindow: window,
		ClosesAtMs:   now.Add(window).UnixMilli(),
		State:        StateOpen,
		Votes:        make(map[string]Choice),
	}
	e.proposals[p.ID] = p
	e.order = append(e.order, p.ID)

	_, err := e.ledger.Append(ledger.KindProposalOpened, ledger.SeverityInfo,
		fmt.Sprintf("proposal opened: %s", title),
		map[string]any{"proposal_id": p.ID, "title": title, "risk": risk, "voting_window_ms": window.Milliseconds()})
	if err != nil {
		return Proposal{}, err
	}

	e.log.Info("proposal opened", zap.String("id", p.ID), zap.String("title", title), zap.String("risk", risk))
	e.bcast.Publish(proposalOpenedMessage(*p))
	if e.onOpened != nil {
		e.onOpened(risk)
	}
	return *p, nil
}

// CastVote records a vote, checking preconditions in the exact order
// specified by §4.5 (first matching failure wins).
func (e *Engine) CastVote(proposalID, memberID string, choice Choice) (Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.members.Get(memberID)
	if err != nil {
		return Receipt{}, ErrUnknownMember
	}
	if !m.Alive {
		return Receipt{}, ErrMemberDead
	}

	p, ok := e.proposals[proposalID]
	if !ok {
		return Receipt{}, ErrUnknownProposal
	}
	if p.State == StateSealed || time.Now().UnixMilli() >= p.ClosesAtMs {
		return Receipt{}, ErrVotingClosed
	}
	if _, voted := p.Votes[memberID]; voted {
		return Receipt{}, ErrDoubleVote
	}

	p.Votes[memberID] = choice
	switch choice {
	case ChoiceFor:
		p.Tally.For++
	case ChoiceAgainst:
		p.Tally.Against++
	case ChoiceAbstain:
		p.Tally.Abstain++
	}

	evt, err := e.ledger.Append(ledger.KindVoteCast, ledger.SeverityInfo,
		fmt.Sprintf("vote cast on %s", p.Title),
		map[string]any{"proposal_id": proposalID, "member_id": memberID, "choice": string(choice)})
	if err != nil {
		return Receipt{}, err
	}

	e.bcast.Publish(voteCastMessage(evt))
	if e.onVote != nil {
		e.onVote(choice)
	}

	if _, derr := e.members.DecrementEnergy(memberID, e.cfg.VoteEnergyCost, "vote_cast"); derr != nil {
		e.log.Warn("vote cast but energy decrement failed", zap.String("member_id", memberID), zap.Error(derr))
	}

	if e.allAliveHaveVoted(p) {
		e.sealProposal(p)
	}

	return Receipt{ProposalID: proposalID, MemberID: memberID, Choice: choice, SeqAtVote: evt.Seq}, nil
}

// allAliveHaveVoted reports whether every currently alive member has cast
// a vote on p.
func (e *Engine) allAliveHaveVoted(p *Proposal) bool {
	for _, m := range e.members.All() {
		if !m.Alive {
			continue
		}
		if _, voted := p.Votes[m.ID]; !voted {
			return false
		}
	}
	return true
}

// CloseExpired seals every Open proposal whose ClosesAtMs has passed.
// Called by the tick driver once per tick.
func (e *Engine) CloseExpired(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	nowMs := now.UnixMilli()
	for _, id := range e.order {
		p := e.proposals[id]
		if p.State == StateOpen && nowMs >= p.ClosesAtMs {
			e.sealProposal(p)
		}
	}
}

// sealProposal applies the tally rule from §4.5, attributes dissent
// scars, appends proposal_sealed, flips state, and broadcasts a metrics
// message. Callers must hold e.mu.
func (e *Engine) sealProposal(p *Proposal) {
	V := p.Tally.For + p.Tally.Against
	var outcome Outcome
	var scarredIDs []string
	var totalDamage int

	switch {
	case V == 0:
		outcome = OutcomeFailed
	case p.Tally.For == p.Tally.Against:
		outcome = OutcomeFailed
	default:
		winning := p.Tally.For
		if p.Tally.Against > winning {
			winning = p.Tally.Against
		}
		ratio := float64(winning) / float64(V)
		if ratio >= e.cfg.ConsensusCutoff {
			outcome = OutcomeConsensus
		} else {
			outcome = OutcomeMajority
		}
	}

	if outcome == OutcomeMajority {
		losingChoice := ChoiceFor
		if p.Tally.For > p.Tally.Against {
			losingChoice = ChoiceAgainst
		}
		severity := "warn"
		if p.Risk == "high" {
			severity = "crit"
		}
		amount := e.cfg.ScarDamage.ScarAmount(p.Risk)

		for _, memberID := range sortedVoterIDs(p.Votes) {
			if p.Votes[memberID] != losingChoice {
				continue
			}
			scarredIDs = append(scarredIDs, memberID)
			totalDamage += amount
			if _, err := e.members.AddDamage(memberID, amount, p.ID, severity); err != nil {
				e.log.Warn("scar attribution failed", zap.String("member_id", memberID), zap.Error(err))
			}
		}
	}

	p.State = StateSealed
	p.Outcome = &outcome

	_, err := e.ledger.Append(ledger.KindProposalSealed, ledger.SeverityInfo,
		fmt.Sprintf("proposal sealed: %s (%s)", p.Title, outcome),
		map[string]any{
			"proposal_id": p.ID,
			"outcome":     string(outcome),
			"for":         p.Tally.For,
			"against":     p.Tally.Against,
			"abstain":     p.Tally.Abstain,
		})
	if err != nil {
		e.log.Error("failed to append proposal_sealed", zap.String("proposal_id", p.ID), zap.Error(err))
		return
	}

	e.round++
	allMembers := e.members.All()
	turnout := 0.0
	if len(allMembers) > 0 {
		turnout = float64(p.Tally.For+p.Tally.Against+p.Tally.Abstain) / float64(len(allMembers)) * 100
	}
	dissentRate := 0.0
	if V > 0 {
		losing := p.Tally.Against
		if p.Tally.For < p.Tally.Against {
			losing = p.Tally.For
		}
		dissentRate = float64(losing) / float64(V) * 100
	}

	metrics := RoundMetrics{
		Round:          e.round,
		ProposalID:     p.ID,
		Title:          p.Title,
		Risk:           p.Risk,
		ForVotes:       p.Tally.For,
		AgainstVotes:   p.Tally.Against,
		AbstainVotes:   p.Tally.Abstain,
		TurnoutPct:     turnout,
		DissentRatePct: dissentRate,
		ScarsRound:     len(scarredIDs),
		TotalDamage:    totalDamage,
		LedgerTotal:    e.ledger.Total(),
		Members:        len(allMembers),
		Outcome:        outcome,
	}

	e.log.Info("proposal sealed",
		zap.String("id", p.ID),
		zap.String("outcome", string(outcome)),
		zap.Int("for", p.Tally.For),
		zap.Int("against", p.Tally.Against),
		zap.Int("abstain", p.Tally.Abstain))

	e.bcast.Publish(proposalSealedMessage(*p))
	e.bcast.Publish(metricsMessage(metrics))
	if e.onSealed != nil {
		e.onSealed(metrics)
	}
}

func sortedVoterIDs(votes map[string]Choice) []string {
	ids := make([]string, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns a snapshot of the proposal with the given id.
func (e *Engine) Get(id string) (Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[id]
	if !ok {
		return Proposal{}, ErrUnknownProposal
	}
	return cloneProposal(p), nil
}

// OpenProposalID returns the id of the current Open proposal, if any.
func (e *Engine) OpenProposalID() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.order {
		if e.proposals[id].State == StateOpen {
			return id, true
		}
	}
	return "", false
}

func cloneProposal(p *Proposal) Proposal {
	cp := *p
	cp.Votes = make(map[string]Choice, len(p.Votes))
	for k, v := range p.Votes {
		cp.Votes[k] = v
	}
	if p.Outcome != nil {
		o := *p.Outcome
		cp.Outcome = &o
	}
	return cp
}
