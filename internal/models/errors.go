package models

import (
	stderrors "errors"

	"cosmossdk.io/errors"
)

const Codespace = "ominis"

var (
	ErrTransientLedger     = errors.Register(Codespace, 2, "transient ledger error")
	ErrAmbiguousReceipt    = errors.Register(Codespace, 3, "ambiguous transaction receipt")
	ErrPrecondition        = errors.Register(Codespace, 4, "precondition violated")
	ErrInvalidStatus       = errors.Register(Codespace, 5, "order is not in the required status")
	ErrNotAssignedSolver   = errors.Register(Codespace, 6, "caller is not the assigned solver")
	ErrInsufficientTime    = errors.Register(Codespace, 7, "not enough time remaining before deadline")
	ErrSaltLost            = errors.Register(Codespace, 8, "commitment salt is not available")
	ErrIllegalTransition   = errors.Register(Codespace, 9, "illegal order status transition")
	ErrChallengeNotAllowed = errors.Register(Codespace, 10, "challenge requires a revealed order")
	ErrUnknownOrder        = errors.Register(Codespace, 11, "order is not indexed")
	ErrCommitNotConfirmed  = errors.Register(Codespace, 12, "commit was not confirmed on the ledger")
	ErrVerifierUnavailable = errors.Register(Codespace, 13, "verifier produced no usable judgment")
	ErrNotFound            = errors.Register(Codespace, 14, "not found")
	ErrRevealNotConfirmed  = errors.Register(Codespace, 15, "reveal was not confirmed on the ledger")
)

// IsTransient reports whether err is worth retrying against the ledger.
func IsTransient(err error) bool {
	return stderrors.Is(err, ErrTransientLedger)
}

func IsAmbiguous(err error) bool {
	return stderrors.Is(err, ErrAmbiguousReceipt)
}

// IsPrecondition covers every precondition violation of a commit-reveal step.
func IsPrecondition(err error) bool {
	for _, target := range []error{ErrPrecondition, ErrInvalidStatus, ErrNotAssignedSolver, ErrInsufficientTime} {
		if stderrors.Is(err, target) {
			return true
		}
	}
	return false
}
