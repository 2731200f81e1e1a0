package fees

import "math/big"

// BpsDenominator is the basis-point scale used by every fee rate in the
// protocol: 10_000 bps == 100%.
const BpsDenominator = 10_000

// Share computes floor(amount * bps / 10_000). Nil or non-positive amounts
// and zero rates yield zero. The input is never mutated.
func Share(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return share.Div(share, big.NewInt(BpsDenominator))
}

// SplitInput captures the amounts and rates evaluated when a participant
// pays into a commitment.
type SplitInput struct {
	Stake       *big.Int
	CreatorFee  *big.Int
	ProtocolBps uint32
	ClientBps   uint32
}

// SplitResult summarises each stakeholder's cut of a single intake. The
// protocol skim applies to the creator fee, the client share to the stake;
// CreatorNet is the creator fee remainder after the protocol skim.
type SplitResult struct {
	ProtocolSkim *big.Int
	ClientShare  *big.Int
	CreatorNet   *big.Int
}

// Split evaluates the fee obligations for one stake intake. The caller is
// responsible for moving the resulting amounts; Split performs arithmetic
// only.
func Split(input SplitInput) SplitResult {
	result := SplitResult{
		ProtocolSkim: Share(input.CreatorFee, input.ProtocolBps),
		ClientShare:  Share(input.Stake, input.ClientBps),
		CreatorNet:   big.NewInt(0),
	}
	if input.CreatorFee != nil && input.CreatorFee.Sign() > 0 {
		result.CreatorNet = new(big.Int).Sub(input.CreatorFee, result.ProtocolSkim)
	}
	return result
}

// StakeCut computes the protocol's per-stake fee taken at resolution and
// the per-winner stake refund that remains.
func StakeCut(stake *big.Int, protocolBps uint32) (fee, refund *big.Int) {
	fee = Share(stake, protocolBps)
	if stake == nil {
		return fee, big.NewInt(0)
	}
	return fee, new(big.Int).Sub(stake, fee)
}
