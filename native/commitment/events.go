package commitment

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"commitprotocol/core/types"
)

const (
	EventTypeCreated             = "commitment.created"
	EventTypeJoined              = "commitment.joined"
	EventTypeResolved            = "commitment.resolved"
	EventTypeCancelled           = "commitment.cancelled"
	EventTypeEmergencyCancelled  = "commitment.emergency_cancelled"
	EventTypeEmergencyWithdrawn  = "commitment.emergency_withdrawn"
	EventTypeFunded              = "commitment.funded"
	EventTypeFundingRemoved      = "commitment.funding_removed"
	EventTypeRewardsClaimed      = "commitment.rewards_claimed"
	EventTypeCreatorClaimed      = "commitment.creator_claimed"
	EventTypeCancelledClaimed    = "commitment.cancelled_stake_claimed"
	EventTypeProtocolFeesDrained = "commitment.protocol_fees_withdrawn"
)

type commitmentEvent struct {
	evt *types.Event
}

func (e commitmentEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e commitmentEvent) Event() *types.Event { return e.evt }

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func baseAttrs(c *Commitment) map[string]string {
	attrs := make(map[string]string)
	if c == nil {
		return attrs
	}
	attrs["id"] = strconv.FormatUint(c.ID, 10)
	attrs["creator"] = hexAddr(c.Creator)
	attrs["token"] = c.Token
	attrs["stake"] = cloneBigInt(c.Stake).String()
	attrs["status"] = c.Status.String()
	return attrs
}

// NewCreatedEvent returns the canonical payload for a newly created
// commitment.
func NewCreatedEvent(c *Commitment) *types.Event {
	attrs := baseAttrs(c)
	if c != nil {
		attrs["creatorFee"] = cloneBigInt(c.CreatorFee).String()
		attrs["joinDeadline"] = strconv.FormatInt(c.JoinDeadline, 10)
		attrs["fulfillDeadline"] = strconv.FormatInt(c.FulfillDeadline, 10)
		attrs["metadataURI"] = c.MetadataURI
	}
	return &types.Event{Type: EventTypeCreated, Attributes: attrs}
}

// NewJoinedEvent returns the payload emitted per minted receipt, including
// the creator's auto-enrollment at creation.
func NewJoinedEvent(c *Commitment, r *Receipt) *types.Event {
	attrs := baseAttrs(c)
	if r != nil {
		attrs["participant"] = hexAddr(r.Owner)
		attrs["sequence"] = strconv.FormatUint(r.ID.Sequence, 10)
	}
	return &types.Event{Type: EventTypeJoined, Attributes: attrs}
}

// NewResolvedEvent returns the payload emitted when a commitment resolves.
func NewResolvedEvent(c *Commitment, claims *Claims) *types.Event {
	attrs := baseAttrs(c)
	if claims != nil {
		attrs["winnerClaim"] = cloneBigInt(claims.WinnerClaim).String()
		attrs["winnerCount"] = strconv.FormatUint(claims.WinnerCount, 10)
		if claims.Root != ([32]byte{}) {
			attrs["root"] = hex.EncodeToString(claims.Root[:])
		}
	}
	return &types.Event{Type: EventTypeResolved, Attributes: attrs}
}

// NewCancelledEvent returns the payload emitted on a normal cancellation.
func NewCancelledEvent(c *Commitment) *types.Event {
	return &types.Event{Type: EventTypeCancelled, Attributes: baseAttrs(c)}
}

// NewEmergencyCancelledEvent returns the payload for an admin emergency
// cancellation.
func NewEmergencyCancelledEvent(c *Commitment) *types.Event {
	return &types.Event{Type: EventTypeEmergencyCancelled, Attributes: baseAttrs(c)}
}

// NewEmergencyWithdrawnEvent returns the payload emitted when the admin
// drains an emergency cancelled commitment's escrow.
func NewEmergencyWithdrawnEvent(c *Commitment, to [20]byte) *types.Event {
	attrs := baseAttrs(c)
	attrs["recipient"] = hexAddr(to)
	return &types.Event{Type: EventTypeEmergencyWithdrawn, Attributes: attrs}
}

// NewFundedEvent returns the payload emitted when public funding is added.
func NewFundedEvent(c *Commitment, funder [20]byte, token string, amount *big.Int) *types.Event {
	attrs := baseAttrs(c)
	attrs["funder"] = hexAddr(funder)
	attrs["fundingToken"] = token
	attrs["amount"] = cloneBigInt(amount).String()
	return &types.Event{Type: EventTypeFunded, Attributes: attrs}
}

// NewFundingRemovedEvent returns the payload emitted when a funder
// reclaims part of their contribution.
func NewFundingRemovedEvent(c *Commitment, funder [20]byte, token string, amount *big.Int) *types.Event {
	attrs := baseAttrs(c)
	attrs["funder"] = hexAddr(funder)
	attrs["fundingToken"] = token
	attrs["amount"] = cloneBigInt(amount).String()
	return &types.Event{Type: EventTypeFundingRemoved, Attributes: attrs}
}

// NewRewardsClaimedEvent returns the payload emitted on a winner payout.
func NewRewardsClaimedEvent(c *Commitment, r *Receipt, amount *big.Int) *types.Event {
	attrs := baseAttrs(c)
	if r != nil {
		attrs["participant"] = hexAddr(r.Owner)
		attrs["sequence"] = strconv.FormatUint(r.ID.Sequence, 10)
	}
	attrs["amount"] = cloneBigInt(amount).String()
	return &types.Event{Type: EventTypeRewardsClaimed, Attributes: attrs}
}

// NewCreatorClaimedEvent returns the payload emitted when the creator
// withdraws accrued fees.
func NewCreatorClaimedEvent(c *Commitment, amount *big.Int) *types.Event {
	attrs := baseAttrs(c)
	attrs["amount"] = cloneBigInt(amount).String()
	return &types.Event{Type: EventTypeCreatorClaimed, Attributes: attrs}
}

// NewCancelledStakeClaimedEvent returns the payload emitted on a
// cancelled-stake refund.
func NewCancelledStakeClaimedEvent(c *Commitment, r *Receipt, amount *big.Int) *types.Event {
	attrs := baseAttrs(c)
	if r != nil {
		attrs["participant"] = hexAddr(r.Owner)
		attrs["sequence"] = strconv.FormatUint(r.ID.Sequence, 10)
	}
	attrs["amount"] = cloneBigInt(amount).String()
	return &types.Event{Type: EventTypeCancelledClaimed, Attributes: attrs}
}

// NewProtocolFeesWithdrawnEvent returns the payload emitted when the fee
// recipient drains a token's fee pool.
func NewProtocolFeesWithdrawnEvent(token string, recipient [20]byte, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"token":     token,
		"recipient": hexAddr(recipient),
		"amount":    cloneBigInt(amount).String(),
	}
	return &types.Event{Type: EventTypeProtocolFeesDrained, Attributes: attrs}
}
