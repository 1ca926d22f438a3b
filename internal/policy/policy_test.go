package policy

import (
	"math/rand"
	"testing"
)

func TestRiskAwareRegisteredByDefault(t *testing.T) {
	p, err := Get("risk_aware")
	if err != nil {
		t.Fatalf("Get(risk_aware): %v", err)
	}
	if p.Name() != "risk_aware" {
		t.Fatalf("Name() = %q, want risk_aware", p.Name())
	}
}

func TestGetUnknownPolicy(t *testing.T) {
	_, err := Get("does-not-exist")
	if err == nil {
		t.Fatal("expected error for unregistered policy")
	}
}

func TestDecideHighDamageNeverDissents(t *testing.T) {
	p := RiskAwarePolicy{}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		c := p.Decide(Input{Risk: "high", Damage: 1500, FatalDamage: 1500}, rng)
		if c == ChoiceAgainst {
			t.Fatal("a member at the fatal damage threshold should never dissent (damageFactor clamps to 0)")
		}
	}
}

func TestDecideZeroDamageHighRiskCanDissent(t *testing.T) {
	p := RiskAwarePolicy{}
	rng := rand.New(rand.NewSource(2))
	sawAgainst := false
	for i := 0; i < 1000; i++ {
		c := p.Decide(Input{Risk: "high", Damage: 0, FatalDamage: 1500}, rng)
		if c == ChoiceAgainst {
			sawAgainst = true
			break
		}
	}
	if !sawAgainst {
		t.Fatal("expected at least one dissenting vote out of 1000 high-risk, zero-damage rolls")
	}
}

func TestDoubleRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register(RiskAwarePolicy{})
}
