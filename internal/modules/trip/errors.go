package trip

import "errors"

var (
	ErrNotFound          = errors.New("trip not found")
	ErrAlreadyExists     = errors.New("passenger has an active trip")
	ErrInvalidTransition = errors.New("invalid trip transition")
	ErrConflict          = errors.New("trip state conflict")
	ErrRemoteUnavailable = errors.New("trip store unavailable")
	ErrBadRequest        = errors.New("bad request")
)
