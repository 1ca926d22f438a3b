// Package admin — admin.go
//
// Validated entry points for injecting proposals and votes, guarded by a
// shared-secret gate.
//
// Authentication follows the constant-time comparison idiom used
// throughout the HTTP middleware examined for this console
// (crypto/subtle.ConstantTimeCompare against the configured secret,
// never a plain == which would leak timing information about how many
// leading bytes matched). The request/response shape follows the
// teacher's operator socket protocol (Request/Response JSON structs
// dispatched by command), adapted from a Unix socket to HTTP handlers.
package admin

import (
	"crypto/subtle"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/govops/console/internal/members"
	"github.com/govops/console/internal/proposals"
)

// Sentinel errors surfaced by the admin ingress.
var (
	ErrUnauthorized = errors.New("admin: unauthorized")
	ErrBadRequest   = errors.New("admin: bad request")
)

// ProposalOpener is the subset of proposals.Engine needed to inject a
// proposal.
type ProposalOpener interface {
	OpenProposal(title, risk string, window time.Duration) (proposals.Proposal, error)
}

// VoteCaster is the subset of proposals.Engine needed to inject a vote.
type VoteCaster interface {
	CastVote(proposalID, memberID string, choice proposals.Choice) (proposals.Receipt, error)
}

// MemberResolver resolves a member name to the first alive member with
// that name, for vote injection by name rather than id.
type MemberResolver interface {
	FirstAliveByName(name string) (members.Member, bool)
}

// Gate holds the configured admin secret and performs the constant-time
// comparison every admin request must pass.
type Gate struct {
	secret string
}

// NewGate creates a Gate for the given secret. An empty secret means
// every request is rejected — matching the "unset admin key ⇒ 401
// unconditionally" environment contract.
func NewGate(secret string) Gate {
	return Gate{secret: secret}
}

// Check compares candidate against the configured secret in constant
// time. An empty configured secret always fails, regardless of
// candidate.
func (g Gate) Check(candidate string) bool {
	if g.secret == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(g.secret)) == 1
}

// Ingress wires the admin operations against the engine's proposal
// collaborators.
type Ingress struct {
	log      *zap.Logger
	gate     Gate
	opener   ProposalOpener
	voter    VoteCaster
	resolver MemberResolver
}

// NewIngress creates an Ingress.
func NewIngress(gate Gate, opener ProposalOpener, voter VoteCaster, resolver MemberResolver, log *zap.Logger) *Ingress {
	return &Ingress{log: log, gate: gate, opener: opener, voter: voter, resolver: resolver}
}

// InjectProposalRequest is the validated input to InjectProposal.
type InjectProposalRequest struct {
	Secret          string
	Title           string
	Risk            string
	VotingWindowSec int
}

// InjectProposal opens a proposal on behalf of an administrator.
func (in *Ingress) InjectProposal(req InjectProposalRequest, defaultWindow time.Duration) (string, error) {
	if !in.gate.Check(req.Secret) {
		return "", ErrUnauthorized
	}
	if req.Title == "" {
		return "", errBadRequest("title is required")
	}
	switch req.Risk {
	case "low", "medium", "high":
	default:
		return "", errBadRequest("risk must be one of low, medium, high")
	}

	window := defaultWindow
	if req.VotingWindowSec > 0 {
		window = time.Duration(req.VotingWindowSec) * time.Second
	}

	p, err := in.opener.OpenProposal(req.Title, req.Risk, window)
	if err != nil {
		return "", err
	}
	in.log.Info("admin injected proposal", zap.String("proposal_id", p.ID), zap.String("title", p.Title))
	return p.ID, nil
}

// InjectVoteRequest is the validated input to InjectVote.
type InjectVoteRequest struct {
	Secret     string
	ProposalID string
	Choice     string
	MemberID   string
	MemberName string
}

// InjectVote casts a vote on behalf of an administrator. If MemberID is
// empty, MemberName is resolved to the first alive member with that
// name; ambiguity among same-named members is not an error.
func (in *Ingress) InjectVote(req InjectVoteRequest) (proposals.Receipt, error) {
	if !in.gate.Check(req.Secret) {
		return proposals.Receipt{}, ErrUnauthorized
	}
	if req.ProposalID == "" {
		return proposals.Receipt{}, errBadRequest("proposal_id is required")
	}

	choice := proposals.Choice(req.Choice)
	switch choice {
	case proposals.ChoiceFor, proposals.ChoiceAgainst, proposals.ChoiceAbstain:
	default:
		return proposals.Receipt{}, errBadRequest("choice must be one of for, against, abstain")
	}

	memberID := req.MemberID
	if memberID == "" {
		if req.MemberName == "" {
			return proposals.Receipt{}, errBadRequest("member_id or member_name is required")
		}
		resolved, ok := in.resolver.FirstAliveByName(req.MemberName)
		if !ok {
			return proposals.Receipt{}, errBadRequest("no alive member with that name")
		}
		memberID = resolved.ID
	}

	receipt, err := in.voter.CastVote(req.ProposalID, memberID, choice)
	if err != nil {
		return proposals.Receipt{}, err
	}
	in.log.Info("admin injected vote", zap.String("proposal_id", req.ProposalID), zap.String("member_id", memberID), zap.String("choice", string(choice)))
	return receipt, nil
}

type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }
func (e badRequestError) Unwrap() error { return ErrBadRequest }

func errBadRequest(msg string) error { return badRequestError{msg: msg} }
