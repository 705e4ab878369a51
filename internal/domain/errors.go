package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz definition could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrUserNotFound indicates the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrAttemptNotFound indicates the attempt does not exist or is not
	// visible to the requesting user.
	ErrAttemptNotFound = errors.New("quiz attempt not found")
	// ErrMissingWallet is returned when settlement is requested for a user
	// with no registered wallet address.
	ErrMissingWallet = errors.New("user has no wallet address")
	// ErrAlreadySettled is returned when settlement is requested for an
	// attempt that is already pending or credited.
	ErrAlreadySettled = errors.New("attempt already settled")
	// ErrLedgerUnavailable indicates the external ledger could not be
	// reached; the caller may retry, the attempt's reward state is unchanged.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrLedgerRejected indicates the external ledger explicitly refused
	// the transfer; the attempt moves to the failed state.
	ErrLedgerRejected = errors.New("ledger rejected transfer")
	// ErrSettlementIndeterminate means confirmation was not observed in
	// time; the attempt stays pending and must be reconciled.
	ErrSettlementIndeterminate = errors.New("settlement outcome indeterminate")
	// ErrInvalidTransition guards the reward state machine against
	// transitions the current state does not allow.
	ErrInvalidTransition = errors.New("invalid reward state transition")
	// ErrNotPending is returned by reconciliation when the attempt is not
	// in the pending state.
	ErrNotPending = errors.New("attempt is not pending settlement")
)
