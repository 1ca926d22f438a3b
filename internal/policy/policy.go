// Package policy — registry of vote simulation policies used by the tick
// driver's auto-vote mode.
//
// This mirrors contrib.RegisterScorer/GetScorer from the agent this
// console's ambient stack is descended from: a plugin registers itself in
// an init() function, and the active policy is selected by name from
// config. The built-in "risk_aware" policy implements the dissent model
// from §4.6; alternative policies (e.g. always-abstain for load testing,
// or a future ML-driven one) register under a different name without the
// tick driver needing to know about them.
//
// Contract:
//   - Decide must be goroutine-safe (the tick driver calls it without
//     holding any lock, and it may be reused in tests or concurrent
//     simulations).
//   - Decide must not block on I/O.
//   - Decide must be deterministic given the same *rand.Rand state.
package policy

import (
	"fmt"
	"math/rand"
	"sync"
)

// Choice mirrors the vote choices a proposal accepts.
type Choice string

const (
	ChoiceFor     Choice = "for"
	ChoiceAgainst Choice = "against"
	ChoiceAbstain Choice = "abstain"
)

// Input carries everything a VotePolicy needs to simulate one member's
// vote on the currently open proposal.
type Input struct {
	Risk        string // "low", "medium", "high"
	Damage      int
	FatalDamage int
}

// VotePolicy is the interface a vote simulation policy implements.
type VotePolicy interface {
	// Name returns the unique identifier used as the config key.
	Name() string

	// Decide returns a simulated vote choice for one member, using rng
	// for all randomness so callers can make simulation reproducible in
	// tests.
	Decide(in Input, rng *rand.Rand) Choice
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]VotePolicy)
)

// Register adds a policy to the registry. Panics if the name is already
// taken — call from init() in the defining package.
func Register(p VotePolicy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[p.Name()]; exists {
		panic(fmt.Sprintf("policy: %q already registered", p.Name()))
	}
	registry[p.Name()] = p
}

// Get returns the registered policy with the given name.
func Get(name string) (VotePolicy, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("policy: %q not registered (available: %v)", name, listNames())
	}
	return p, nil
}

// List returns the names of all registered policies.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return listNames()
}

func listNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	return names
}

// baseDissent maps risk level to the base dissent probability used by the
// built-in risk-aware policy, per §4.6.
var baseDissent = map[string]float64{
	"low":    0.10,
	"medium": 0.25,
	"high":   0.45,
}

// RiskAwarePolicy is the built-in vote simulation policy: dissent
// probability d = base(risk) * (1 - damage/fatalDamage), clamped to
// [0, 1]. The remaining probability mass splits 85/15 between "for" and
// "abstain", matching the spec's emphasis on dissent as the interesting
// tail rather than abstention.
type RiskAwarePolicy struct{}

func init() {
	Register(RiskAwarePolicy{})
}

// Name implements VotePolicy.
func (RiskAwarePolicy) Name() string { return "risk_aware" }

// Decide implements VotePolicy.
func (RiskAwarePolicy) Decide(in Input, rng *rand.Rand) Choice {
	base, ok := baseDissent[in.Risk]
	if !ok {
		base = baseDissent["medium"]
	}

	fatal := in.FatalDamage
	if fatal <= 0 {
		fatal = 1
	}
	damageFactor := 1.0 - float64(in.Damage)/float64(fatal)
	if damageFactor < 0 {
		damageFactor = 0
	}
	if damageFactor > 1 {
		damageFactor = 1
	}

	d := base * damageFactor
	if d < 0 {
		d = 0
	}
	if d > 1 {
		d = 1
	}

	roll := rng.Float64()
	switch {
	case roll < d:
		return ChoiceAgainst
	case roll < d+(1-d)*0.85:
		return ChoiceFor
	default:
		return ChoiceAbstain
	}
}
