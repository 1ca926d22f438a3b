// Package tick — the cooperative scheduler advancing governance rounds.
//
// Modeled on kernel.Processor's ticker-driven goroutine (ctx-cancellable,
// a single background loop, metrics on every iteration) but without a
// ring buffer: there is nothing to read, only the engine's own clock to
// drive. Each step of a tick calls the proposal engine's exported
// methods, which take its lock one call at a time; the tick as a whole
// holds no lock, so admin operations can interleave between its steps.
// Ticks run on a single goroutine, so a slow tick simply delays the next
// one rather than overlapping it.
package tick

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/govops/console/internal/members"
	"github.com/govops/console/internal/policy"
	"github.com/govops/console/internal/proposals"
)

// ProposalEngine is the subset of proposals.Engine the tick driver needs.
type ProposalEngine interface {
	CloseExpired(now time.Time)
	OpenProposalID() (string, bool)
	OpenProposal(title, risk string, window time.Duration) (proposals.Proposal, error)
	CastVote(proposalID, memberID string, choice proposals.Choice) (proposals.Receipt, error)
	Get(id string) (proposals.Proposal, error)
}

// MemberSource is the subset of members.Pool the tick driver needs.
type MemberSource interface {
	All() []members.Member
	DecrementEnergy(id string, amount int, cause string) (members.DeathResult, error)
}

// SyntheticProposal is a curated template the driver may open automatically
// when no proposal is currently open and auto-mode is enabled.
type SyntheticProposal struct {
	Title  string
	Risk   string
	Window time.Duration
}

// defaultCatalog is the built-in curated list of synthetic proposals used
// when the caller does not supply one.
var defaultCatalog = []SyntheticProposal{
	{Title: "ratify the quarterly resource allocation", Risk: "low", Window: 30 * time.Second},
	{Title: "adopt the revised dissent-arbitration procedure", Risk: "medium", Window: 30 * time.Second},
	{Title: "authorize emergency reserve drawdown", Risk: "high", Window: 20 * time.Second},
	{Title: "seat a new delegate to the oversight committee", Risk: "medium", Window: 30 * time.Second},
	{Title: "suspend a member pending review", Risk: "high", Window: 20 * time.Second},
}

// Config holds the tick driver's tunables.
type Config struct {
	Period          time.Duration
	AutoMode        bool
	PolicyName      string
	FatalDamage     int
	TickEnergyCost  int
	SyntheticCatalog []SyntheticProposal
}

// Driver advances governance rounds at Config.Period. The zero value is
// not usable; call New.
type Driver struct {
	log       *zap.Logger
	cfgMu     sync.Mutex
	cfg       Config
	engine    ProposalEngine
	members   MemberSource
	rng       *rand.Rand
	catalogAt int
	onTick    func()
}

// OnTick registers a callback invoked once every completed Tick, for
// driving TicksTotal — mirroring broadcast.Hub's OnResync/OnDrop.
func (d *Driver) OnTick(fn func()) {
	d.onTick = fn
}

// SetTuning live-applies the non-destructive tunables (auto-mode and the
// per-tick energy cost) from a hot-reloaded config. Period is excluded —
// changing a running ticker's interval requires a restart, per the
// config package's destructive/non-destructive split.
func (d *Driver) SetTuning(autoMode bool, tickEnergyCost int) {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	d.cfg.AutoMode = autoMode
	d.cfg.TickEnergyCost = tickEnergyCost
}

// New creates a Driver. seed fixes the auto-vote simulation's randomness
// for reproducible tests; pass time.Now().UnixNano() in production.
func New(engine ProposalEngine, members MemberSource, cfg Config, seed int64, log *zap.Logger) *Driver {
	if len(cfg.SyntheticCatalog) == 0 {
		cfg.SyntheticCatalog = defaultCatalog
	}
	if cfg.PolicyName == "" {
		cfg.PolicyName = "risk_aware"
	}
	return &Driver{
		log:     log,
		cfg:     cfg,
		engine:  engine,
		members: members,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Run blocks, advancing one tick per Config.Period, until ctx is
// cancelled. Each tick runs to completion before the next is considered;
// a tick that overruns its period simply delays the following one.
func (d *Driver) Run(ctx context.Context) {
	period := d.cfg.Period
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("tick driver stopping")
			return
		case now := <-ticker.C:
			d.Tick(now)
		}
	}
}

// Tick performs exactly the four-step sequence: close expired proposals,
// auto-open a synthetic one if none is open, simulate votes for
// non-voting alive members, and apply the per-tick energy decrement.
func (d *Driver) Tick(now time.Time) {
	d.cfgMu.Lock()
	autoMode := d.cfg.AutoMode
	tickEnergyCost := d.cfg.TickEnergyCost
	d.cfgMu.Unlock()

	d.engine.CloseExpired(now)

	if _, open := d.engine.OpenProposalID(); !open && autoMode {
		d.openSynthetic()
	}

	if id, open := d.engine.OpenProposalID(); open {
		d.simulateVotes(id)
	}

	for _, m := range d.members.All() {
		if !m.Alive {
			continue
		}
		if _, err := d.members.DecrementEnergy(m.ID, tickEnergyCost, "tick"); err != nil {
			d.log.Warn("tick energy decrement failed", zap.String("member_id", m.ID), zap.Error(err))
		}
	}

	if d.onTick != nil {
		d.onTick()
	}
}

func (d *Driver) openSynthetic() {
	d.cfgMu.Lock()
	catalog := d.cfg.SyntheticCatalog
	d.cfgMu.Unlock()

	tmpl := catalog[d.catalogAt%len(catalog)]
	d.catalogAt++

	p, err := d.engine.OpenProposal(tmpl.Title, tmpl.Risk, tmpl.Window)
	if err != nil {
		d.log.Warn("tick driver failed to auto-open proposal", zap.Error(err))
		return
	}
	d.log.Info("tick driver auto-opened proposal", zap.String("id", p.ID), zap.String("title", p.Title))
}

func (d *Driver) simulateVotes(proposalID string) {
	p, err := d.engine.Get(proposalID)
	if err != nil {
		return
	}

	d.cfgMu.Lock()
	policyName := d.cfg.PolicyName
	fatalDamage := d.cfg.FatalDamage
	d.cfgMu.Unlock()

	vp, err := policy.Get(policyName)
	if err != nil {
		d.log.Error("tick driver: vote policy unavailable", zap.String("policy", policyName), zap.Error(err))
		return
	}

	for _, m := range d.members.All() {
		if !m.Alive {
			continue
		}
		if _, voted := p.Votes[m.ID]; voted {
			continue
		}

		choice := vp.Decide(policy.Input{Risk: p.Risk, Damage: m.Damage, FatalDamage: fatalDamage}, d.rng)

		var pc proposals.Choice
		switch choice {
		case policy.ChoiceFor:
			pc = proposals.ChoiceFor
		case policy.ChoiceAgainst:
			pc = proposals.ChoiceAgainst
		default:
			pc = proposals.ChoiceAbstain
		}

		if _, err := d.engine.CastVote(proposalID, m.ID, pc); err != nil {
			// The proposal may have sealed mid-loop (e.g. the last alive
			// member just voted); not worth logging as an error.
			d.log.Debug("tick driver simulated vote rejected", zap.String("member_id", m.ID), zap.Error(err))
		}
	}
}
