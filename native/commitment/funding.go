package commitment

import "math/big"

// Fund adds to the commitment's public funding pool for an allow-listed
// token. Contributions are tracked per funder so they stay individually
// reclaimable while the commitment is active.
func (e *Engine) Fund(caller [20]byte, id uint64, token string, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()

	c, err := e.loadCommitment(id)
	if err != nil {
		return err
	}
	if c.Status != StatusActive {
		return ErrNotActive
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	if err := e.tokenAllowed(normalized); err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.transferToken(caller, e.vault, normalized, amt); err != nil {
		return err
	}
	if err := e.state.EscrowCredit(id, normalized, amt); err != nil {
		return err
	}
	if err := e.state.FundingAdd(id, normalized, caller, amt); err != nil {
		return err
	}
	e.emit(NewFundedEvent(c, caller, normalized, amt))
	return nil
}

// RemoveFunding withdraws up to the caller's own contributed amount while
// the commitment is still active. Once the commitment leaves Active the
// pool is fixed and only disbursed to winners.
func (e *Engine) RemoveFunding(caller [20]byte, id uint64, token string, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()

	c, err := e.loadCommitment(id)
	if err != nil {
		return err
	}
	if c.Status != StatusActive {
		return ErrNotActive
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	contributed, err := e.state.FundingContribution(id, normalized, caller)
	if err != nil {
		return err
	}
	if contributed.Cmp(amt) < 0 {
		return ErrFundingExceeded
	}
	if err := e.requireBalances(e.vault, map[string]*big.Int{normalized: amt}); err != nil {
		return err
	}
	if err := e.state.FundingSub(id, normalized, caller, amt); err != nil {
		return err
	}
	if err := e.state.EscrowDebit(id, normalized, amt); err != nil {
		return err
	}
	if err := e.transferToken(e.vault, caller, normalized, amt); err != nil {
		return err
	}
	e.emit(NewFundingRemovedEvent(c, caller, normalized, amt))
	return nil
}

// FundingPool returns the aggregated funding total for one token of a
// commitment without mutating state.
func (e *Engine) FundingPool(id uint64, token string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, err := e.loadCommitment(id); err != nil {
		return nil, err
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	return e.state.FundingTotal(id, normalized)
}
