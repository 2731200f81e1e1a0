package commitment

import (
	"errors"
	"math/big"
	"testing"
)

func TestFundTracksContributions(t *testing.T) {
	engine, state, emitter, _ := newTestEngine(t)
	c := mustCreate(t, engine, state, defaultSpec())

	funder := addr(0xF0)
	state.setBalance(funder, "WETH", 1_000)
	if err := engine.Fund(funder, c.ID, "WETH", big.NewInt(400)); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	total, _ := engine.FundingPool(c.ID, "WETH")
	if total.Int64() != 400 {
		t.Fatalf("pool = %s, want 400", total)
	}
	contributed, _ := state.FundingContribution(c.ID, "WETH", funder)
	if contributed.Int64() != 400 {
		t.Fatalf("contribution = %s, want 400", contributed)
	}
	seen := emitter.typesSeen()
	if seen[len(seen)-1] != EventTypeFunded {
		t.Fatalf("missing funded event: %v", seen)
	}
}

func TestFundRejectsDisallowedToken(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	c := mustCreate(t, engine, state, defaultSpec())
	funder := addr(0xF0)
	state.setBalance(funder, "DOGE", 1_000)
	if err := engine.Fund(funder, c.ID, "DOGE", big.NewInt(10)); !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("disallowed funding token: %v", err)
	}
}

func TestFundRejectsZeroAmount(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	c := mustCreate(t, engine, state, defaultSpec())
	if err := engine.Fund(addr(0xF0), c.ID, "WETH", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero funding: %v", err)
	}
}

func TestRemoveFundingWhileActive(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	c := mustCreate(t, engine, state, defaultSpec())
	funder := addr(0xF0)
	state.setBalance(funder, "WETH", 1_000)
	if err := engine.Fund(funder, c.ID, "WETH", big.NewInt(400)); err != nil {
		t.Fatalf("Fund: %v", err)
	}

	if err := engine.RemoveFunding(funder, c.ID, "WETH", big.NewInt(150)); err != nil {
		t.Fatalf("RemoveFunding: %v", err)
	}
	if got := state.balance(funder, "WETH"); got.Int64() != 750 {
		t.Fatalf("funder balance = %s, want 750", got)
	}
	total, _ := engine.FundingPool(c.ID, "WETH")
	if total.Int64() != 250 {
		t.Fatalf("pool = %s, want 250", total)
	}
}

func TestRemoveFundingCappedAtContribution(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	c := mustCreate(t, engine, state, defaultSpec())
	funder := addr(0xF0)
	other := addr(0xF1)
	state.setBalance(funder, "WETH", 1_000)
	state.setBalance(other, "WETH", 1_000)
	_ = engine.Fund(funder, c.ID, "WETH", big.NewInt(100))
	_ = engine.Fund(other, c.ID, "WETH", big.NewInt(500))

	// A funder can never pull another funder's contribution.
	if err := engine.RemoveFunding(funder, c.ID, "WETH", big.NewInt(101)); !errors.Is(err, ErrFundingExceeded) {
		t.Fatalf("over-withdrawal: %v", err)
	}
}

func TestFundingFixedOutsideActive(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	c := mustCreate(t, engine, state, defaultSpec())
	funder := addr(0xF0)
	state.setBalance(funder, "WETH", 1_000)
	_ = engine.Fund(funder, c.ID, "WETH", big.NewInt(400))

	if err := engine.Cancel(creatorAddr, c.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := engine.RemoveFunding(funder, c.ID, "WETH", big.NewInt(100)); !errors.Is(err, ErrNotActive) {
		t.Fatalf("remove after cancel: %v", err)
	}
	if err := engine.Fund(funder, c.ID, "WETH", big.NewInt(100)); !errors.Is(err, ErrNotActive) {
		t.Fatalf("fund after cancel: %v", err)
	}
}
