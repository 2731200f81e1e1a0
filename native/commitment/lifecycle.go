package commitment

import (
	"math/big"

	"commitprotocol/native/fees"
)

// ComputeWinnerClaim evaluates the pure resolution formula. Losers' net
// stakes and any same-token public funding split evenly among winners on
// top of each winner's own net stake refund. Replayable: identical inputs
// always yield the identical claim.
func ComputeWinnerClaim(stake *big.Int, protocolBps uint32, totalParticipants, winnerCount uint64, funding *big.Int) (winnerClaim, protocolStakeFee *big.Int, err error) {
	if winnerCount == 0 || winnerCount > totalParticipants {
		return nil, nil, ErrInvalidWinners
	}
	fee, refund := fees.StakeCut(stake, protocolBps)
	failed := totalParticipants - winnerCount
	numerator := new(big.Int).Mul(refund, new(big.Int).SetUint64(failed))
	if funding != nil && funding.Sign() > 0 {
		numerator.Add(numerator, funding)
	}
	earnings := numerator.Div(numerator, new(big.Int).SetUint64(winnerCount))
	return new(big.Int).Add(refund, earnings), fee, nil
}

// resolveGuards validates the resolve preconditions in the documented
// order: creator, fulfillment period, active status. The period check is
// deliberately a strict comparison against the stored deadline, preserved
// from the source protocol rather than hardened (see DESIGN.md).
func (e *Engine) resolveGuards(c *Commitment, caller [20]byte) error {
	if caller != c.Creator {
		return ErrNotCreator
	}
	if e.now() <= c.FulfillDeadline {
		return ErrPeriodNotEnded
	}
	if c.Status != StatusActive {
		return ErrNotActive
	}
	return nil
}

// settleResolution applies the shared side effects of every resolution
// variant: the protocol's per-stake cut moves from commitment escrow to
// the fee pool, the claims record fixes the winner payout, and the status
// flips to Resolved.
func (e *Engine) settleResolution(c *Commitment, winnerCount uint64, root [32]byte) (*Claims, error) {
	funding, err := e.state.FundingTotal(c.ID, c.Token)
	if err != nil {
		return nil, err
	}
	winnerClaim, stakeFee, err := ComputeWinnerClaim(c.Stake, e.protocolShareBps, c.ParticipantCount, winnerCount, funding)
	if err != nil {
		return nil, err
	}
	totalFee := new(big.Int).Mul(stakeFee, new(big.Int).SetUint64(c.ParticipantCount))
	if totalFee.Sign() > 0 {
		if err := e.state.EscrowDebit(c.ID, c.Token, totalFee); err != nil {
			return nil, err
		}
		if err := e.state.FeePoolAdd(c.Token, totalFee); err != nil {
			return nil, err
		}
	}
	claims, err := e.loadClaims(c.ID)
	if err != nil {
		return nil, err
	}
	claims.WinnerClaim = winnerClaim
	claims.WinnerCount = winnerCount
	claims.Root = root
	if err := e.state.ClaimsPut(c.ID, claims); err != nil {
		return nil, err
	}
	c.Status = StatusResolved
	if err := e.state.CommitmentPut(c); err != nil {
		return nil, err
	}
	return claims, nil
}

// ResolveMerkle resolves the commitment by committing to a merkle root
// over the winner set. Individual winners prove membership at claim time,
// so arbitrarily large winner sets never need enumeration here. A zero
// root is rejected: claim verification reads a zero root as the explicit
// variant and would strand the escrow behind an empty winner set.
func (e *Engine) ResolveMerkle(caller [20]byte, id uint64, root [32]byte, winnerCount uint64) (*Claims, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := e.loadCommitment(id)
	if err != nil {
		return nil, err
	}
	if err := e.resolveGuards(c, caller); err != nil {
		return nil, err
	}
	if root == ([32]byte{}) {
		return nil, ErrInvalidRoot
	}
	claims, err := e.settleResolution(c, winnerCount, root)
	if err != nil {
		return nil, err
	}
	e.emit(NewResolvedEvent(c, claims))
	return claims.Clone(), nil
}

// ResolveExplicit resolves the commitment with an enumerated winner list.
// Duplicates are rejected outright; membership checks at claim time go
// through the stored winner set instead of a merkle proof.
func (e *Engine) ResolveExplicit(caller [20]byte, id uint64, winners [][20]byte) (*Claims, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := e.loadCommitment(id)
	if err != nil {
		return nil, err
	}
	if err := e.resolveGuards(c, caller); err != nil {
		return nil, err
	}
	if err := checkDuplicateWinners(winners); err != nil {
		return nil, err
	}
	if err := e.state.WinnerSetPut(id, winners); err != nil {
		return nil, err
	}
	claims, err := e.settleResolution(c, uint64(len(winners)), [32]byte{})
	if err != nil {
		return nil, err
	}
	e.emit(NewResolvedEvent(c, claims))
	return claims.Clone(), nil
}

// ResolveDisperse resolves with an enumerated winner list and pushes every
// payout in one batch through the configured disperse collaborator,
// marking each winner's receipt as claimed before any funds move.
func (e *Engine) ResolveDisperse(caller [20]byte, id uint64, winners [][20]byte) (*Claims, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if e.disperser == nil {
		return nil, ErrDisperserNotSet
	}
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := e.loadCommitment(id)
	if err != nil {
		return nil, err
	}
	if err := e.resolveGuards(c, caller); err != nil {
		return nil, err
	}
	if err := checkDuplicateWinners(winners); err != nil {
		return nil, err
	}
	receipts := make([]*Receipt, len(winners))
	for i, winner := range winners {
		receipt, ok, err := e.state.ReceiptByOwner(id, winner)
		if err != nil {
			return nil, err
		}
		if !ok || receipt == nil {
			return nil, ErrInvalidWinner
		}
		if receipt.Claimed {
			return nil, ErrAlreadyClaimed
		}
		receipts[i] = receipt
	}

	// Pre-validate every vault outflow leg before the first durable write,
	// so a shortfall cannot strand burnt receipts or a half-settled pool.
	winnerCount := uint64(len(winners))
	funding, err := e.state.FundingTotal(id, c.Token)
	if err != nil {
		return nil, err
	}
	winnerClaim, _, err := ComputeWinnerClaim(c.Stake, e.protocolShareBps, c.ParticipantCount, winnerCount, funding)
	if err != nil {
		return nil, err
	}
	shares, err := e.fundingShares(c, winnerCount)
	if err != nil {
		return nil, err
	}
	outflows := make(map[string]*big.Int)
	addOutflow(outflows, c.Token, new(big.Int).Mul(winnerClaim, new(big.Int).SetUint64(winnerCount)))
	for token, share := range shares {
		addOutflow(outflows, token, new(big.Int).Mul(share, new(big.Int).SetUint64(winnerCount)))
	}
	if err := e.requireBalances(e.vault, outflows); err != nil {
		return nil, err
	}

	if err := e.state.WinnerSetPut(id, winners); err != nil {
		return nil, err
	}
	claims, err := e.settleResolution(c, winnerCount, [32]byte{})
	if err != nil {
		return nil, err
	}

	// Claim flags flip before the outward batch, so a failing disperse
	// collaborator can never be replayed into a double payout.
	amounts := make([]*big.Int, len(winners))
	for i, receipt := range receipts {
		receipt.Claimed = true
		if err := e.state.ReceiptPut(receipt); err != nil {
			return nil, err
		}
		amounts[i] = cloneBigInt(claims.WinnerClaim)
	}
	totalPayout := new(big.Int).Mul(claims.WinnerClaim, new(big.Int).SetUint64(claims.WinnerCount))
	if totalPayout.Sign() > 0 {
		if err := e.state.EscrowDebit(id, c.Token, totalPayout); err != nil {
			return nil, err
		}
		if err := e.disperser.Disperse(e.vault, c.Token, winners, amounts); err != nil {
			return nil, err
		}
	}
	if err := e.disperseFundingPools(c, winners, claims.WinnerCount); err != nil {
		return nil, err
	}
	e.emit(NewResolvedEvent(c, claims))
	return claims.Clone(), nil
}

// disperseFundingPools pushes each non-stake funding pool to the winners
// pro rata through the disperse collaborator.
func (e *Engine) disperseFundingPools(c *Commitment, winners [][20]byte, winnerCount uint64) error {
	tokens, err := e.state.FundingTokens(c.ID)
	if err != nil {
		return err
	}
	for _, token := range tokens {
		if token == c.Token {
			continue
		}
		total, err := e.state.FundingTotal(c.ID, token)
		if err != nil {
			return err
		}
		if total.Sign() <= 0 {
			continue
		}
		share := new(big.Int).Div(total, new(big.Int).SetUint64(winnerCount))
		if share.Sign() <= 0 {
			continue
		}
		amounts := make([]*big.Int, len(winners))
		for i := range winners {
			amounts[i] = new(big.Int).Set(share)
		}
		payout := new(big.Int).Mul(share, new(big.Int).SetUint64(winnerCount))
		if err := e.state.EscrowDebit(c.ID, token, payout); err != nil {
			return err
		}
		if err := e.disperser.Disperse(e.vault, token, winners, amounts); err != nil {
			return err
		}
	}
	return nil
}

// Cancel moves an active commitment to Cancelled. The creator or the
// protocol admin may cancel regardless of how many participants joined;
// stakes become refundable at face value through the cancelled-claim path.
// Both deadlines are zeroed so no later code path can re-derive time
// remaining.
func (e *Engine) Cancel(caller [20]byte, id uint64) error {
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
	if caller != c.Creator && !e.isAdmin(caller) {
		return ErrNotCreator
	}
	c.Status = StatusCancelled
	c.JoinDeadline = 0
	c.FulfillDeadline = 0
	if err := e.state.CommitmentPut(c); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(c))
	return nil
}

// EmergencyCancel moves an active commitment to EmergencyCancelled. Admin
// only, at any time while active; every unclaimed receipt holder can then
// withdraw their raw stake through the cancelled-claim path.
func (e *Engine) EmergencyCancel(caller [20]byte, id uint64) error {
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
	if !e.isAdmin(caller) {
		return ErrNotAdmin
	}
	if c.Status != StatusActive {
		return ErrNotActive
	}
	c.Status = StatusEmergencyCancelled
	if err := e.state.CommitmentPut(c); err != nil {
		return err
	}
	e.emit(NewEmergencyCancelledEvent(c))
	return nil
}

// EmergencyWithdraw drains whatever escrow remains for an emergency
// cancelled commitment to the supplied address. Admin escape hatch; it
// covers the stake token and every funded token.
func (e *Engine) EmergencyWithdraw(caller [20]byte, id uint64, to [20]byte) error {
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
	if !e.isAdmin(caller) {
		return ErrNotAdmin
	}
	if c.Status != StatusEmergencyCancelled {
		return ErrNotEmergencyState
	}
	tokens, err := e.state.FundingTokens(id)
	if err != nil {
		return err
	}
	seen := map[string]bool{c.Token: true}
	drain := []string{c.Token}
	for _, token := range tokens {
		if !seen[token] {
			seen[token] = true
			drain = append(drain, token)
		}
	}
	balances := make(map[string]*big.Int, len(drain))
	outflows := make(map[string]*big.Int)
	for _, token := range drain {
		balance, err := e.state.EscrowBalance(id, token)
		if err != nil {
			return err
		}
		if balance.Sign() <= 0 {
			continue
		}
		balances[token] = balance
		addOutflow(outflows, token, balance)
	}
	if err := e.requireBalances(e.vault, outflows); err != nil {
		return err
	}
	for _, token := range drain {
		balance := balances[token]
		if balance == nil {
			continue
		}
		if err := e.state.EscrowDebit(id, token, balance); err != nil {
			return err
		}
		if err := e.transferToken(e.vault, to, token, balance); err != nil {
			return err
		}
	}
	e.emit(NewEmergencyWithdrawnEvent(c, to))
	return nil
}

func checkDuplicateWinners(winners [][20]byte) error {
	if len(winners) == 0 {
		return ErrInvalidWinners
	}
	seen := make(map[[20]byte]struct{}, len(winners))
	for _, winner := range winners {
		if _, dup := seen[winner]; dup {
			return ErrDuplicateWinner
		}
		seen[winner] = struct{}{}
	}
	return nil
}
