package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")

	// ErrSelectorMissing marks a call against a read interface that the target
	// deployment does not implement.
	ErrSelectorMissing = errors.New("selector not found")
	// ErrInvalidToken marks a call that reverted because the position token
	// does not exist (burned or never minted).
	ErrInvalidToken = errors.New("invalid token id")
	// ErrInconsistentDeployment is returned when the membership interface
	// answers for some tokens and reports itself missing for others.
	ErrInconsistentDeployment = errors.New("membership interface partially deployed")
	ErrSuperseded             = errors.New("refresh cycle superseded")
	ErrUnknownChain           = errors.New("unknown chain")
	ErrDecode                 = errors.New("decode contract response")
)
