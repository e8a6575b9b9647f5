package core

import "errors"

// Sentinel errors returned by ledger operations. Callers match them with
// errors.Is; the wrapping message carries the entity and rule that failed.
var (
	// ErrNotFound means the entity does not exist or is not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyProcessed means a state machine rule was violated, e.g. a
	// second approval or a rejection of an approved transaction.
	ErrAlreadyProcessed = errors.New("transaction already processed")

	// ErrMissingEnvelope means approval requires an envelope assignment.
	ErrMissingEnvelope = errors.New("transaction requires an envelope")

	// ErrInvalidAmount means a monetary input was malformed or out of range.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrDuplicateUnresolved means a bank-imported transaction still carries
	// an unresolved duplicate flag and cannot be approved.
	ErrDuplicateUnresolved = errors.New("unresolved duplicate flag")

	// ErrInconsistentState means an internal invariant check failed.
	ErrInconsistentState = errors.New("inconsistent ledger state")

	// ErrInvalidFrequency means a recurring template carries an unknown frequency.
	ErrInvalidFrequency = errors.New("invalid frequency")

	// ErrValidation means a field failed domain validation before reaching
	// the ledger core.
	ErrValidation = errors.New("validation failed")
)
