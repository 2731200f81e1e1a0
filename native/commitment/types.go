package commitment

import (
	"fmt"
	"math/big"
	"strings"
)

// TokenNative is the sentinel symbol for the ledger's native value asset.
const TokenNative = "NATIVE"

// MaxDescriptionLen bounds the free-form description blob attached to a
// commitment at creation.
const MaxDescriptionLen = 1024

// Status represents the lifecycle states of a commitment. All transitions
// leave Active exactly once; the three non-Active states are terminal.
type Status uint8

const (
	StatusActive Status = iota
	StatusResolved
	StatusCancelled
	StatusEmergencyCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusResolved, StatusCancelled, StatusEmergencyCancelled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusResolved:
		return "resolved"
	case StatusCancelled:
		return "cancelled"
	case StatusEmergencyCancelled:
		return "emergency_cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool { return s != StatusActive }

// ReceiptID identifies one participation receipt as a tagged composite of
// the commitment identifier and the per-commitment join sequence. The
// sequence starts at 1 with the creator's own receipt.
type ReceiptID struct {
	CommitmentID uint64 `json:"commitmentId"`
	Sequence     uint64 `json:"sequence"`
}

func (r ReceiptID) String() string {
	return fmt.Sprintf("%d/%d", r.CommitmentID, r.Sequence)
}

// Receipt records one identity's participation in one commitment together
// with the exactly-once claim flag consumed at payout time.
type Receipt struct {
	ID       ReceiptID
	Owner    [20]byte
	Claimed  bool
	JoinedAt int64
}

// Clone returns a copy of the receipt.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// Commitment captures the definition and runtime status of a single
// accountability challenge. Deadlines are unix seconds; both are zeroed
// when the commitment is cancelled.
type Commitment struct {
	ID               uint64
	Creator          [20]byte
	Token            string
	Stake            *big.Int
	CreatorFee       *big.Int
	Description      []byte
	JoinDeadline     int64
	FulfillDeadline  int64
	MetadataURI      string
	ParticipantCount uint64
	Status           Status
	CreatedAt        int64
}

// Clone returns a deep copy of the commitment so callers can safely mutate
// the copy without affecting the stored instance.
func (c *Commitment) Clone() *Commitment {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Stake != nil {
		clone.Stake = new(big.Int).Set(c.Stake)
	} else {
		clone.Stake = big.NewInt(0)
	}
	if c.CreatorFee != nil {
		clone.CreatorFee = new(big.Int).Set(c.CreatorFee)
	} else {
		clone.CreatorFee = big.NewInt(0)
	}
	clone.Description = append([]byte(nil), c.Description...)
	return &clone
}

// Claims tracks the per-commitment payout bookkeeping: the flat amount each
// winner receives, the creator fee accrual and how much of it has already
// been withdrawn, the declared winner cardinality, and the merkle
// commitment to the winner set. CreatorClaimed never exceeds CreatorClaim.
type Claims struct {
	WinnerClaim    *big.Int
	CreatorClaim   *big.Int
	CreatorClaimed *big.Int
	WinnerCount    uint64
	Root           [32]byte
}

// NewClaims returns a zeroed claims record.
func NewClaims() *Claims {
	return &Claims{
		WinnerClaim:    big.NewInt(0),
		CreatorClaim:   big.NewInt(0),
		CreatorClaimed: big.NewInt(0),
	}
}

// Clone returns a deep copy of the claims record.
func (c *Claims) Clone() *Claims {
	if c == nil {
		return nil
	}
	clone := *c
	clone.WinnerClaim = cloneBigInt(c.WinnerClaim)
	clone.CreatorClaim = cloneBigInt(c.CreatorClaim)
	clone.CreatorClaimed = cloneBigInt(c.CreatorClaimed)
	return &clone
}

// NormalizeToken canonicalises a token symbol to uppercase. Allow-listing
// is enforced separately by the engine state.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("commitment: token symbol required")
	}
	return trimmed, nil
}

// SanitizeCommitment validates and normalises the supplied definition,
// returning a clone with canonical token casing and non-nil amounts. The
// original value is not mutated.
func SanitizeCommitment(c *Commitment) (*Commitment, error) {
	if c == nil {
		return nil, fmt.Errorf("commitment: nil commitment")
	}
	clone := c.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Stake.Sign() < 0 {
		return nil, fmt.Errorf("commitment: stake must be non-negative")
	}
	if clone.CreatorFee.Sign() < 0 {
		return nil, fmt.Errorf("commitment: creator fee must be non-negative")
	}
	if len(clone.Description) > MaxDescriptionLen {
		return nil, fmt.Errorf("commitment: description exceeds %d bytes", MaxDescriptionLen)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("commitment: invalid status %d", clone.Status)
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
