package rpc

import (
	"errors"
	"net/http"

	"commitprotocol/native/clients"
	"commitprotocol/native/commitment"
	"commitprotocol/native/common"
)

var errExpectedSingleParams = errors.New("rpc: expected a single params object")

// errorCode maps engine sentinel errors onto JSON-RPC error codes and
// HTTP statuses, grouped by failure class.
func errorCode(err error) (status int, code int) {
	switch {
	case errors.Is(err, commitment.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, clients.ErrClientNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, commitment.ErrNotCreator),
		errors.Is(err, commitment.ErrNotAdmin),
		errors.Is(err, commitment.ErrNotFeeRecipient),
		errors.Is(err, commitment.ErrInvalidWinner),
		errors.Is(err, commitment.ErrNotParticipant):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, commitment.ErrAlreadyClaimed),
		errors.Is(err, commitment.ErrAlreadyJoined),
		errors.Is(err, commitment.ErrNotActive),
		errors.Is(err, commitment.ErrNotResolved),
		errors.Is(err, commitment.ErrNotCancelled),
		errors.Is(err, commitment.ErrNotEmergencyState),
		errors.Is(err, commitment.ErrPeriodNotEnded),
		errors.Is(err, commitment.ErrJoinPeriodEnded),
		errors.Is(err, commitment.ErrDeadlinePassed),
		errors.Is(err, commitment.ErrNothingToClaim),
		errors.Is(err, commitment.ErrNoRewards),
		errors.Is(err, commitment.ErrEmptyFeePool),
		errors.Is(err, common.ErrModulePaused),
		errors.Is(err, commitment.ErrReentrancy):
		return http.StatusConflict, codeConflict
	case errors.Is(err, commitment.ErrInvalidStake),
		errors.Is(err, commitment.ErrInvalidDeadlines),
		errors.Is(err, commitment.ErrInvalidAmount),
		errors.Is(err, commitment.ErrInvalidWinners),
		errors.Is(err, commitment.ErrDuplicateWinner),
		errors.Is(err, commitment.ErrTokenNotAllowed),
		errors.Is(err, commitment.ErrDescriptionSize),
		errors.Is(err, commitment.ErrCreateFeeTooLow),
		errors.Is(err, commitment.ErrJoinFeeTooLow),
		errors.Is(err, commitment.ErrValueMismatch),
		errors.Is(err, commitment.ErrFundingExceeded),
		errors.Is(err, commitment.ErrInsufficientBal),
		errors.Is(err, clients.ErrInvalidFeeBps):
		return http.StatusBadRequest, codeInvalidParams
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	status, code := errorCode(err)
	writeError(w, status, id, code, err.Error(), nil)
}
