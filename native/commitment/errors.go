package commitment

import "errors"

var (
	ErrNilState    = errors.New("commitment: state not configured")
	ErrNotFound    = errors.New("commitment: commitment not found")
	ErrReentrancy  = errors.New("commitment: re-entrant call rejected")
	ErrVaultNotSet = errors.New("commitment: vault address not configured")

	// Creation & join preconditions.
	ErrInvalidStake     = errors.New("commitment: stake must be positive")
	ErrInvalidDeadlines = errors.New("commitment: fulfillment deadline must follow join deadline")
	ErrDeadlinePassed   = errors.New("commitment: deadline before creation time")
	ErrTokenNotAllowed  = errors.New("commitment: token not allow-listed")
	ErrDescriptionSize  = errors.New("commitment: description too long")
	ErrCreateFeeTooLow  = errors.New("commitment: value below creation fee")
	ErrJoinFeeTooLow    = errors.New("commitment: value below join fee")
	ErrValueMismatch    = errors.New("commitment: value does not reconcile with required amount")
	ErrJoinPeriodEnded  = errors.New("commitment: join deadline passed")
	ErrAlreadyJoined    = errors.New("commitment: address already holds a receipt")
	ErrInsufficientBal  = errors.New("commitment: insufficient balance")

	// Lifecycle guards.
	ErrNotActive       = errors.New("commitment: commitment not active")
	ErrNotCreator      = errors.New("commitment: caller is not the creator")
	ErrNotAdmin        = errors.New("commitment: caller is not the protocol admin")
	ErrPeriodNotEnded  = errors.New("commitment: fulfillment period not ended")
	ErrInvalidWinners  = errors.New("commitment: winner count out of range")
	ErrDuplicateWinner = errors.New("commitment: duplicate winner in explicit list")
	ErrInvalidRoot     = errors.New("commitment: winner merkle root must be non-zero")

	// Claim guards.
	ErrNotResolved    = errors.New("commitment: commitment not resolved")
	ErrNotCancelled   = errors.New("commitment: commitment not cancelled")
	ErrAlreadyClaimed = errors.New("commitment: receipt already claimed")
	ErrInvalidWinner  = errors.New("commitment: caller is not a verified winner")
	ErrNotParticipant = errors.New("commitment: caller does not hold this receipt")
	ErrNoRewards      = errors.New("commitment: nothing to claim")
	ErrNothingToClaim = errors.New("commitment: creator fee fully withdrawn")

	// Funding guards.
	ErrInvalidAmount     = errors.New("commitment: amount must be positive")
	ErrFundingExceeded   = errors.New("commitment: withdrawal exceeds contributed funding")
	ErrNotFeeRecipient   = errors.New("commitment: caller is not the protocol fee recipient")
	ErrEmptyFeePool      = errors.New("commitment: fee pool empty")
	ErrDisperserNotSet   = errors.New("commitment: disperser not configured")
	ErrNotEmergencyState = errors.New("commitment: commitment not emergency cancelled")
)
