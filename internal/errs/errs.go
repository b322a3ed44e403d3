// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a concurrent update won the race (version mismatch).
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCallNotAllowed indicates the receiver's preferences reject the call.
	ErrCallNotAllowed = errors.New("call not allowed")

	// ErrReceiverBusy indicates the receiver already has a call in progress.
	ErrReceiverBusy = errors.New("receiver busy")

	// ErrInvalidTransition indicates a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCallTerminal indicates an operation on a session that already ended.
	ErrCallTerminal = errors.New("call already terminal")

	// ErrNotParticipant indicates the user is neither caller nor receiver.
	ErrNotParticipant = errors.New("user is not a participant of this call")
)
