// Package members — members.go
//
// The member pool: living members of the simulated governance network,
// their energy/damage economics, and the one-way transition to death.
//
// Monotonicity invariants (enforced internally, never exposed as raw
// setters):
//   - energy only decreases, clamped at zero.
//   - damage only increases.
//   - alive flips true→false exactly once; every further mutation after
//     death is a no-op except for recording died_at.
//
// Identity uniqueness is enforced ontologically: Create consults the
// injected GraveyardIndex (the Lazarus check) before admitting a new
// member, following the same "interface injected, concrete type owned by
// the caller" shape as escalation.ProcessState and budget.Bucket use for
// their collaborators.
package members

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/govops/console/internal/graveyard"
	"github.com/govops/console/internal/ids"
	"github.com/govops/console/internal/ledger"
)

// Sentinel errors surfaced by the member pool.
var (
	// ErrIdentitySealed indicates the proposed id is already present in
	// the graveyard — the Lazarus check failed.
	ErrIdentitySealed = errors.New("members: identity already sealed in graveyard")

	// ErrUnknownMember indicates an operation referenced an id not in
	// the pool.
	ErrUnknownMember = errors.New("members: unknown member")

	// ErrMemberDead indicates an operation that requires a living member
	// was attempted against a dead one.
	ErrMemberDead = errors.New("members: member is dead")
)

// GraveyardIndex is the subset of graveyard.Store the member pool needs:
// the Lazarus check and burial on death.
type GraveyardIndex interface {
	Contains(id string) bool
	Bury(tomb graveyard.Tombstone) error
}

// LedgerHashSource supplies the current ledger tail hash, sampled into a
// tombstone's LedgerHashAtDeath at the moment of burial, and accepts the
// member_died / tombstone_sealed events die() appends as the terminal
// side effects of a death transition.
type LedgerHashSource interface {
	LastCausalHash() string
	Append(kind, severity, message string, payload map[string]any) (ledger.Event, error)
}

// Broadcaster is the subset of the broadcast hub die() needs to publish
// the member_died ledger event and the dedicated graveyard_event message
// announcing a new tombstone. A nil Broadcaster (the default until
// SetBroadcaster is called) makes Publish a no-op — useful in tests and
// during the engine's two-phase construction (the hub itself needs a
// snapshot function that reads the member pool, so it cannot exist
// before the pool does).
type Broadcaster interface {
	Publish(msg any)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Publish(any) {}

// Member is a snapshot of one member's observable state. Pool methods
// return copies; callers never get a pointer into pool-owned memory.
type Member struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Energy      int        `json:"energy"`
	Damage      int        `json:"damage"`
	Alive       bool       `json:"alive"`
	CreatedAtMs int64      `json:"created_at_ms"`
	DiedAtMs    *int64     `json:"died_at_ms,omitempty"`
	peakEnergy  int
	scars       []graveyard.ScarEntry
}

// DeathResult carries the outcome of a die() call, including the
// tombstone if burial actually occurred (nil if the call was a no-op
// against an already-dead member).
type DeathResult struct {
	Member    Member
	Tombstone *graveyard.Tombstone
}

// Pool owns the set of members. The zero value is not usable; call New.
type Pool struct {
	mu          sync.RWMutex
	log         *zap.Logger
	graveyard   GraveyardIndex
	ledgerHash  LedgerHashSource
	bcast       Broadcaster
	fatalDamage int
	members     map[string]*Member
	onDeath     func(cause string)
}

// New creates an empty Pool. fatalDamage is the accumulated-damage
// threshold (spec default 1500) that triggers death via AddDamage.
func New(gy GraveyardIndex, ledgerHash LedgerHashSource, fatalDamage int, log *zap.Logger) *Pool {
	return &Pool{
		log:         log,
		graveyard:   gy,
		ledgerHash:  ledgerHash,
		bcast:       noopBroadcaster{},
		fatalDamage: fatalDamage,
		members:     make(map[string]*Member),
	}
}

// SetBroadcaster finishes the pool's two-phase construction: called once
// the broadcast hub exists (it depends on a snapshot function that reads
// the pool, so it cannot be built first). Until called, die() publishes
// nothing.
func (p *Pool) SetBroadcaster(b Broadcaster) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bcast = b
}

// OnDeath registers a callback invoked with the cause string every time
// die() actually transitions a member, mirroring broadcast.Hub's
// OnResync/OnDrop. The observability package uses this to drive
// MembersDiedTotal without this package importing Prometheus directly.
func (p *Pool) OnDeath(fn func(cause string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDeath = fn
}

// SetFatalDamage live-applies a hot-reloaded fatal damage threshold.
// Non-destructive: it only changes the trigger point for future AddDamage
// calls, never retroactively kills or revives anyone.
func (p *Pool) SetFatalDamage(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fatalDamage = v
}

// Create generates a fresh id, performs the Lazarus check against the
// graveyard, and admits a new living member with the given starting
// energy. Returns ErrIdentitySealed in the (astronomically unlikely)
// event of an id collision with a sealed identity.
func (p *Pool) Create(name string, startingEnergy int) (Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := ids.New()
	if p.graveyard.Contains(id) {
		return Member{}, ErrIdentitySealed
	}

	now := time.Now().UnixMilli()
	m := &Member{
		ID:          id,
		Name:        name,
		Energy:      startingEnergy,
		Damage:      0,
		Alive:       true,
		CreatedAtMs: now,
		peakEnergy:  startingEnergy,
	}
	p.members[id] = m

	p.log.Info("member created", zap.String("id", id), zap.String("name", name), zap.Int("energy", startingEnergy))
	return *m, nil
}

// Get returns a snapshot of the member with the given id.
func (p *Pool) Get(id string) (Member, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.members[id]
	if !ok {
		return Member{}, ErrUnknownMember
	}
	return *m, nil
}

// All returns a snapshot of every member, sorted by id for deterministic
// output.
func (p *Pool) All() []Member {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Member, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FirstAliveByName returns the first living member (in id order) with the
// given name, for the admin ingress's name-based vote injection. Ambiguity
// among same-named members is resolved arbitrarily, per the interface
// contract — it is not an error.
func (p *Pool) FirstAliveByName(name string) (Member, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.members))
	for id := range p.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m := p.members[id]
		if m.Alive && m.Name == name {
			return *m, true
		}
	}
	return Member{}, false
}

// DecrementEnergy reduces a member's energy by amount, clamped at zero.
// If energy reaches zero, death is triggered via die(cause). A call
// against a dead or unknown member is a no-op returning ErrMemberDead /
// ErrUnknownMember respectively — the caller decides whether that is
// worth logging.
func (p *Pool) DecrementEnergy(id string, amount int, cause string) (DeathResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.members[id]
	if !ok {
		return DeathResult{}, ErrUnknownMember
	}
	if !m.Alive {
		return DeathResult{}, ErrMemberDead
	}
	if amount < 0 {
		amount = 0
	}

	m.Energy -= amount
	if m.Energy < 0 {
		m.Energy = 0
	}

	if m.Energy == 0 {
		return p.die(m, cause), nil
	}
	return DeathResult{Member: *m}, nil
}

// AddDamage increases a member's accumulated damage by amount, attributed
// to source for the tombstone's scar list. Crossing the fatal damage
// threshold triggers death via die("fatal_damage"). severity classifies
// the scar entry (e.g. "warn" or "crit"), matching the outcome
// classification rules of the proposal engine.
func (p *Pool) AddDamage(id string, amount int, source, severity string) (DeathResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.members[id]
	if !ok {
		return DeathResult{}, ErrUnknownMember
	}
	if !m.Alive {
		return DeathResult{}, ErrMemberDead
	}
	if amount < 0 {
		amount = 0
	}

	m.Damage += amount
	m.scars = append(m.scars, graveyard.ScarEntry{
		TimestampMs: time.Now().UnixMilli(),
		Severity:    severity,
		Source:      source,
		Amount:      amount,
	})

	if evt, err := p.ledgerHash.Append(ledger.KindMemberDamaged, severity,
		fmt.Sprintf("member damaged: %s (+%d from %s)", m.Name, amount, source),
		map[string]any{"member_id": m.ID, "amount": amount, "source": source, "total_damage": m.Damage}); err != nil {
		p.log.Error("failed to append member_damaged event", zap.String("id", m.ID), zap.Error(err))
	} else {
		p.bcast.Publish(ledgerEventMessage(evt))
	}

	if m.Damage >= p.fatalDamage {
		return p.die(m, "fatal_damage"), nil
	}
	return DeathResult{Member: *m}, nil
}

// Die marks the member dead and buries a tombstone. Idempotent: a repeat
// call against an already-dead member returns the prior state with a nil
// Tombstone and no error.
func (p *Pool) Die(id string, cause string) (DeathResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.members[id]
	if !ok {
		return DeathResult{}, ErrUnknownMember
	}
	return p.die(m, cause), nil
}

// die performs the actual one-way transition. Callers must hold p.mu.
func (p *Pool) die(m *Member, cause string) DeathResult {
	if !m.Alive {
		return DeathResult{Member: *m}
	}

	now := time.Now().UnixMilli()
	m.Alive = false
	m.DiedAtMs = &now

	var attempted, succeeded int
	for _, sc := range m.scars {
		attempted++
		if sc.Severity != "crit" {
			succeeded++
		}
	}
	var efficiency float64
	if attempted > 0 {
		efficiency = float64(succeeded) / float64(attempted)
	}

	ledgerHash := p.ledgerHash.LastCausalHash()
	tomb := graveyard.Tombstone{
		ID:               m.ID,
		Name:             m.Name,
		Seed:             m.ID[:8],
		CreatedAtMs:      m.CreatedAtMs,
		DiedAtMs:         now,
		PeakEnergy:       m.peakEnergy,
		FinalEnergy:      m.Energy,
		TasksAttempted:   attempted,
		TasksSucceeded:   succeeded,
		EfficiencyRating: efficiency,
		Scars:            append([]graveyard.ScarEntry(nil), m.scars...),
		LedgerHashAtDeath: ledgerHash,
	}
	tomb.CausalHashAtDeath = ids.CausalHash(ledgerHash, 0, now, "tombstone_sealed", graveyard.TombstonePayload(tomb))

	if err := p.graveyard.Bury(tomb); err != nil && !errors.Is(err, graveyard.ErrAlreadySealed) {
		// Burial failure here is an I/O problem surfaced by the
		// graveyard; the caller (engine) is responsible for treating
		// this as fatal per the ErrPersist propagation policy.
		p.log.Error("member died but burial failed", zap.String("id", m.ID), zap.Error(err))
	}

	p.log.Warn("member died",
		zap.String("id", m.ID),
		zap.String("name", m.Name),
		zap.String("cause", cause),
		zap.Int("damage", m.Damage))

	if evt, err := p.ledgerHash.Append(ledger.KindMemberDied, ledger.SeverityWarn,
		fmt.Sprintf("member died: %s (%s)", m.Name, cause),
		map[string]any{"member_id": m.ID, "name": m.Name, "cause": cause, "damage": m.Damage}); err != nil {
		p.log.Error("failed to append member_died event", zap.String("id", m.ID), zap.Error(err))
	} else {
		p.bcast.Publish(ledgerEventMessage(evt))
	}

	if _, err := p.ledgerHash.Append(ledger.KindTombstoneSealed, ledger.SeverityInfo,
		fmt.Sprintf("tombstone sealed: %s", m.ID),
		map[string]any{"member_id": m.ID}); err != nil {
		p.log.Error("failed to append tombstone_sealed event", zap.String("id", m.ID), zap.Error(err))
	} else {
		p.bcast.Publish(graveyardEventMessage(m.ID))
	}

	if p.onDeath != nil {
		p.onDeath(cause)
	}

	return DeathResult{Member: *m, Tombstone: &tomb}
}

// AliveCount returns the number of currently living members.
func (p *Pool) AliveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, m := range p.members {
		if m.Alive {
			n++
		}
	}
	return n
}
