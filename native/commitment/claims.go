package commitment

import "math/big"

// ClaimRewards pays out a winner's one-time reward against an unclaimed
// receipt. Membership is verified against the stored merkle root (or the
// explicit winner set when no root was committed). The claimed flag flips
// in durable state before any outward transfer.
func (e *Engine) ClaimRewards(caller [20]byte, receiptID ReceiptID, proof [][32]byte) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	receipt, ok, err := e.state.ReceiptGet(receiptID)
	if err != nil {
		return nil, err
	}
	if !ok || receipt == nil || receipt.Owner != caller {
		return nil, ErrNotParticipant
	}
	c, err := e.loadCommitment(receiptID.CommitmentID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusResolved {
		return nil, ErrNotResolved
	}
	if receipt.Claimed {
		return nil, ErrAlreadyClaimed
	}
	claims, err := e.loadClaims(c.ID)
	if err != nil {
		return nil, err
	}
	if claims.Root != ([32]byte{}) {
		if !VerifyProof(LeafForAddress(caller), proof, claims.Root) {
			return nil, ErrInvalidWinner
		}
	} else {
		member, err := e.state.WinnerSetHas(c.ID, caller)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, ErrInvalidWinner
		}
	}

	payout := cloneBigInt(claims.WinnerClaim)
	shares, err := e.fundingShares(c, claims.WinnerCount)
	if err != nil {
		return nil, err
	}
	if payout.Sign() == 0 && len(shares) == 0 {
		return nil, ErrNoRewards
	}
	outflows := make(map[string]*big.Int)
	addOutflow(outflows, c.Token, payout)
	for token, share := range shares {
		addOutflow(outflows, token, share)
	}
	if err := e.requireBalances(e.vault, outflows); err != nil {
		return nil, err
	}

	receipt.Claimed = true
	if err := e.state.ReceiptPut(receipt); err != nil {
		return nil, err
	}
	if payout.Sign() > 0 {
		if err := e.state.EscrowDebit(c.ID, c.Token, payout); err != nil {
			return nil, err
		}
		if err := e.transferToken(e.vault, caller, c.Token, payout); err != nil {
			return nil, err
		}
	}
	for token, share := range shares {
		if err := e.state.EscrowDebit(c.ID, token, share); err != nil {
			return nil, err
		}
		if err := e.transferToken(e.vault, caller, token, share); err != nil {
			return nil, err
		}
	}
	e.emit(NewRewardsClaimedEvent(c, receipt, payout))
	return payout, nil
}

// fundingShares returns the per-winner cut of every funded token other
// than the commitment's stake token. The stake-token pool is already part
// of the winner claim numerator at resolution.
func (e *Engine) fundingShares(c *Commitment, winnerCount uint64) (map[string]*big.Int, error) {
	if winnerCount == 0 {
		return nil, nil
	}
	tokens, err := e.state.FundingTokens(c.ID)
	if err != nil {
		return nil, err
	}
	shares := make(map[string]*big.Int)
	for _, token := range tokens {
		if token == c.Token {
			continue
		}
		total, err := e.state.FundingTotal(c.ID, token)
		if err != nil {
			return nil, err
		}
		share := new(big.Int).Div(total, new(big.Int).SetUint64(winnerCount))
		if share.Sign() > 0 {
			shares[token] = share
		}
	}
	return shares, nil
}

// ClaimCreator withdraws the creator fee accrued so far. Repeatable while
// the accrual grows: each call pays the delta between CreatorClaim and
// CreatorClaimed, then advances the claimed watermark.
func (e *Engine) ClaimCreator(caller [20]byte, id uint64) (*big.Int, error) {
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
	if caller != c.Creator {
		return nil, ErrNotCreator
	}
	claims, err := e.loadClaims(id)
	if err != nil {
		return nil, err
	}
	owed := new(big.Int).Sub(claims.CreatorClaim, claims.CreatorClaimed)
	if owed.Sign() <= 0 {
		return nil, ErrNothingToClaim
	}
	if err := e.requireBalances(e.vault, map[string]*big.Int{c.Token: owed}); err != nil {
		return nil, err
	}
	claims.CreatorClaimed = cloneBigInt(claims.CreatorClaim)
	if err := e.state.ClaimsPut(id, claims); err != nil {
		return nil, err
	}
	if err := e.state.EscrowDebit(id, c.Token, owed); err != nil {
		return nil, err
	}
	if err := e.transferToken(e.vault, caller, c.Token, owed); err != nil {
		return nil, err
	}
	e.emit(NewCreatorClaimedEvent(c, owed))
	return owed, nil
}

// ClaimCancelled refunds the flat stake amount against an unclaimed
// receipt of a cancelled or emergency cancelled commitment. No fee beyond
// what was already taken at join time.
func (e *Engine) ClaimCancelled(caller [20]byte, receiptID ReceiptID) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	receipt, ok, err := e.state.ReceiptGet(receiptID)
	if err != nil {
		return nil, err
	}
	if !ok || receipt == nil || receipt.Owner != caller {
		return nil, ErrNotParticipant
	}
	c, err := e.loadCommitment(receiptID.CommitmentID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusCancelled && c.Status != StatusEmergencyCancelled {
		return nil, ErrNotCancelled
	}
	if receipt.Claimed {
		return nil, ErrAlreadyClaimed
	}
	refund := cloneBigInt(c.Stake)
	if err := e.requireBalances(e.vault, map[string]*big.Int{c.Token: refund}); err != nil {
		return nil, err
	}
	receipt.Claimed = true
	if err := e.state.ReceiptPut(receipt); err != nil {
		return nil, err
	}
	if err := e.state.EscrowDebit(c.ID, c.Token, refund); err != nil {
		return nil, err
	}
	if err := e.transferToken(e.vault, caller, c.Token, refund); err != nil {
		return nil, err
	}
	e.emit(NewCancelledStakeClaimedEvent(c, receipt, refund))
	return refund, nil
}

// WithdrawProtocolFees clears the accumulated fee pool for the token and
// pays it to the designated fee recipient in one atomic movement.
func (e *Engine) WithdrawProtocolFees(caller [20]byte, token string) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if e.protocolFeeAddr == ([20]byte{}) || caller != e.protocolFeeAddr {
		return nil, ErrNotFeeRecipient
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	amount, err := e.state.FeePoolBalance(normalized)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrEmptyFeePool
	}
	if err := e.requireBalances(e.vault, map[string]*big.Int{normalized: amount}); err != nil {
		return nil, err
	}
	if _, err := e.state.FeePoolClear(normalized); err != nil {
		return nil, err
	}
	if err := e.transferToken(e.vault, caller, normalized, amount); err != nil {
		return nil, err
	}
	e.emit(NewProtocolFeesWithdrawnEvent(normalized, caller, amount))
	return amount, nil
}
