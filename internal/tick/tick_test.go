package tick

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/govops/console/internal/members"
	"github.com/govops/console/internal/proposals"
)

type fakeEngine struct {
	proposals    map[string]*proposals.Proposal
	openID       string
	hasOpen      bool
	closeExpired int
	opened       []proposals.Proposal
	votes        []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{proposals: make(map[string]*proposals.Proposal)}
}

func (f *fakeEngine) CloseExpired(now time.Time) { f.closeExpired++ }

func (f *fakeEngine) OpenProposalID() (string, bool) { return f.openID, f.hasOpen }

func (f *fakeEngine) OpenProposal(title, risk string, window time.Duration) (proposals.Proposal, error) {
	p := proposals.Proposal{ID: "p-" + title, Title: title, Risk: risk, VotingWindow: window, Votes: map[string]proposals.Choice{}}
	f.proposals[p.ID] = &p
	f.openID = p.ID
	f.hasOpen = true
	f.opened = append(f.opened, p)
	return p, nil
}

func (f *fakeEngine) CastVote(proposalID, memberID string, choice proposals.Choice) (proposals.Receipt, error) {
	p := f.proposals[proposalID]
	p.Votes[memberID] = choice
	f.votes = append(f.votes, memberID)
	return proposals.Receipt{ProposalID: proposalID, MemberID: memberID, Choice: choice}, nil
}

func (f *fakeEngine) Get(id string) (proposals.Proposal, error) {
	p, ok := f.proposals[id]
	if !ok {
		return proposals.Proposal{}, proposals.ErrUnknownProposal
	}
	return *p, nil
}

type fakeMembers struct {
	all       []members.Member
	decrement map[string]int
}

func (f *fakeMembers) All() []members.Member { return f.all }

func (f *fakeMembers) DecrementEnergy(id string, amount int, cause string) (members.DeathResult, error) {
	if f.decrement == nil {
		f.decrement = map[string]int{}
	}
	f.decrement[id] += amount
	return members.DeathResult{}, nil
}

func testConfig() Config {
	return Config{Period: time.Second, AutoMode: true, FatalDamage: 1500, TickEnergyCost: 5}
}

func TestTickCallsCloseExpiredOncePerTick(t *testing.T) {
	fe := newFakeEngine()
	fm := &fakeMembers{}
	d := New(fe, fm, testConfig(), 1, zap.NewNop())

	d.Tick(time.Now())
	if fe.closeExpired != 1 {
		t.Fatalf("CloseExpired called %d times, want 1", fe.closeExpired)
	}
}

func TestTickAutoOpensWhenNoneOpenAndAutoModeEnabled(t *testing.T) {
	fe := newFakeEngine()
	fm := &fakeMembers{}
	d := New(fe, fm, testConfig(), 1, zap.NewNop())

	d.Tick(time.Now())
	if len(fe.opened) != 1 {
		t.Fatalf("opened %d proposals, want 1", len(fe.opened))
	}
}

func TestTickDoesNotAutoOpenWhenAutoModeDisabled(t *testing.T) {
	fe := newFakeEngine()
	fm := &fakeMembers{}
	cfg := testConfig()
	cfg.AutoMode = false
	d := New(fe, fm, cfg, 1, zap.NewNop())

	d.Tick(time.Now())
	if len(fe.opened) != 0 {
		t.Fatalf("opened %d proposals, want 0 with auto-mode disabled", len(fe.opened))
	}
}

func TestTickSimulatesVotesForNonVotingAliveMembers(t *testing.T) {
	fe := newFakeEngine()
	fm := &fakeMembers{all: []members.Member{
		{ID: "m1", Alive: true},
		{ID: "m2", Alive: false},
	}}
	d := New(fe, fm, testConfig(), 1, zap.NewNop())

	d.Tick(time.Now())
	if len(fe.votes) != 1 || fe.votes[0] != "m1" {
		t.Fatalf("votes = %v, want exactly [m1] (dead member must not vote)", fe.votes)
	}
}

func TestTickSkipsMembersWhoAlreadyVoted(t *testing.T) {
	fe := newFakeEngine()
	p, _ := fe.OpenProposal("pre-existing", "low", time.Minute)
	fe.proposals[p.ID].Votes["m1"] = proposals.ChoiceFor

	fm := &fakeMembers{all: []members.Member{{ID: "m1", Alive: true}}}
	d := New(fe, fm, testConfig(), 1, zap.NewNop())

	d.Tick(time.Now())
	if len(fe.votes) != 0 {
		t.Fatalf("votes = %v, want none (m1 already voted)", fe.votes)
	}
}

func TestTickAppliesEnergyDecrementToAliveMembersOnly(t *testing.T) {
	fe := newFakeEngine()
	fm := &fakeMembers{all: []members.Member{
		{ID: "m1", Alive: true},
		{ID: "m2", Alive: false},
	}}
	d := New(fe, fm, testConfig(), 1, zap.NewNop())

	d.Tick(time.Now())
	if fm.decrement["m1"] != 5 {
		t.Fatalf("m1 decrement = %d, want 5", fm.decrement["m1"])
	}
	if _, dead := fm.decrement["m2"]; dead {
		t.Fatal("dead member m2 must not receive an energy decrement")
	}
}

func TestTickCyclesThroughSyntheticCatalog(t *testing.T) {
	fe := newFakeEngine()
	fm := &fakeMembers{}
	cfg := testConfig()
	cfg.SyntheticCatalog = []SyntheticProposal{
		{Title: "A", Risk: "low", Window: time.Second},
		{Title: "B", Risk: "high", Window: time.Second},
	}
	d := New(fe, fm, cfg, 1, zap.NewNop())

	d.Tick(time.Now())
	if len(fe.opened) != 1 || fe.opened[0].Title != "A" {
		t.Fatalf("first auto-open = %+v, want title A", fe.opened)
	}

	// Seal the open proposal manually to let a new one open next tick.
	fe.hasOpen = false
	d.Tick(time.Now())
	if len(fe.opened) != 2 || fe.opened[1].Title != "B" {
		t.Fatalf("second auto-open = %+v, want title B", fe.opened)
	}
}
