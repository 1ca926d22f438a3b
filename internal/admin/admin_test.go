package admin

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/govops/console/internal/members"
	"github.com/govops/console/internal/proposals"
)

type fakeOpener struct {
	lastTitle  string
	lastRisk   string
	lastWindow time.Duration
	err        error
}

func (f *fakeOpener) OpenProposal(title, risk string, window time.Duration) (proposals.Proposal, error) {
	if f.err != nil {
		return proposals.Proposal{}, f.err
	}
	f.lastTitle, f.lastRisk, f.lastWindow = title, risk, window
	return proposals.Proposal{ID: "p1", Title: title, Risk: risk}, nil
}

type fakeVoter struct {
	lastProposal, lastMember string
	lastChoice               proposals.Choice
	err                      error
}

func (f *fakeVoter) CastVote(proposalID, memberID string, choice proposals.Choice) (proposals.Receipt, error) {
	if f.err != nil {
		return proposals.Receipt{}, f.err
	}
	f.lastProposal, f.lastMember, f.lastChoice = proposalID, memberID, choice
	return proposals.Receipt{ProposalID: proposalID, MemberID: memberID, Choice: choice}, nil
}

type fakeResolver struct {
	byName map[string]members.Member
}

func (f *fakeResolver) FirstAliveByName(name string) (members.Member, bool) {
	m, ok := f.byName[name]
	return m, ok
}

func TestInjectProposalRejectsWrongSecret(t *testing.T) {
	in := NewIngress(NewGate("topsecret"), &fakeOpener{}, &fakeVoter{}, &fakeResolver{}, zap.NewNop())
	_, err := in.InjectProposal(InjectProposalRequest{Secret: "wrong", Title: "T", Risk: "low"}, time.Minute)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestInjectProposalRejectsEmptyConfiguredSecret(t *testing.T) {
	in := NewIngress(NewGate(""), &fakeOpener{}, &fakeVoter{}, &fakeResolver{}, zap.NewNop())
	_, err := in.InjectProposal(InjectProposalRequest{Secret: "", Title: "T", Risk: "low"}, time.Minute)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for unset admin key, got %v", err)
	}
}

func TestInjectProposalValidatesFields(t *testing.T) {
	opener := &fakeOpener{}
	in := NewIngress(NewGate("topsecret"), opener, &fakeVoter{}, &fakeResolver{}, zap.NewNop())

	if _, err := in.InjectProposal(InjectProposalRequest{Secret: "topsecret", Title: "", Risk: "low"}, time.Minute); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("empty title: want ErrBadRequest, got %v", err)
	}
	if _, err := in.InjectProposal(InjectProposalRequest{Secret: "topsecret", Title: "T", Risk: "extreme"}, time.Minute); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("bad risk: want ErrBadRequest, got %v", err)
	}
}

func TestInjectProposalSucceedsAndUsesCustomWindow(t *testing.T) {
	opener := &fakeOpener{}
	in := NewIngress(NewGate("topsecret"), opener, &fakeVoter{}, &fakeResolver{}, zap.NewNop())

	id, err := in.InjectProposal(InjectProposalRequest{Secret: "topsecret", Title: "raise quorum", Risk: "high", VotingWindowSec: 45}, time.Minute)
	if err != nil {
		t.Fatalf("InjectProposal: %v", err)
	}
	if id != "p1" {
		t.Fatalf("id = %q, want p1", id)
	}
	if opener.lastWindow != 45*time.Second {
		t.Fatalf("window = %v, want 45s", opener.lastWindow)
	}
}

func TestInjectVoteResolvesByName(t *testing.T) {
	resolver := &fakeResolver{byName: map[string]members.Member{
		"alice": {ID: "m-alice", Name: "alice", Alive: true},
	}}
	voter := &fakeVoter{}
	in := NewIngress(NewGate("topsecret"), &fakeOpener{}, voter, resolver, zap.NewNop())

	_, err := in.InjectVote(InjectVoteRequest{Secret: "topsecret", ProposalID: "p1", Choice: "for", MemberName: "alice"})
	if err != nil {
		t.Fatalf("InjectVote: %v", err)
	}
	if voter.lastMember != "m-alice" {
		t.Fatalf("resolved member = %q, want m-alice", voter.lastMember)
	}
}

func TestInjectVoteUnknownNameIsBadRequest(t *testing.T) {
	in := NewIngress(NewGate("topsecret"), &fakeOpener{}, &fakeVoter{}, &fakeResolver{byName: map[string]members.Member{}}, zap.NewNop())
	_, err := in.InjectVote(InjectVoteRequest{Secret: "topsecret", ProposalID: "p1", Choice: "for", MemberName: "ghost"})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("want ErrBadRequest, got %v", err)
	}
}

func TestInjectVoteRejectsBadChoice(t *testing.T) {
	in := NewIngress(NewGate("topsecret"), &fakeOpener{}, &fakeVoter{}, &fakeResolver{}, zap.NewNop())
	_, err := in.InjectVote(InjectVoteRequest{Secret: "topsecret", ProposalID: "p1", Choice: "maybe", MemberID: "m0"})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("want ErrBadRequest, got %v", err)
	}
}

func TestInjectVoteRequiresMemberIdentifier(t *testing.T) {
	in := NewIngress(NewGate("topsecret"), &fakeOpener{}, &fakeVoter{}, &fakeResolver{}, zap.NewNop())
	_, err := in.InjectVote(InjectVoteRequest{Secret: "topsecret", ProposalID: "p1", Choice: "for"})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("want ErrBadRequest, got %v", err)
	}
}

func TestInjectVotePropagatesEngineError(t *testing.T) {
	voter := &fakeVoter{err: proposals.ErrDoubleVote}
	in := NewIngress(NewGate("topsecret"), &fakeOpener{}, voter, &fakeResolver{}, zap.NewNop())
	_, err := in.InjectVote(InjectVoteRequest{Secret: "topsecret", ProposalID: "p1", Choice: "for", MemberID: "m0"})
	if !errors.Is(err, proposals.ErrDoubleVote) {
		t.Fatalf("want ErrDoubleVote to propagate, got %v", err)
	}
}
