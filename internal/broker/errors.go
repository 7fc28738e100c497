package broker

import (
	"errors"
	"fmt"
)

// CredentialError means the venue rejected or never received credentials.
// It is fatal for the current cycle but must not disable the task; an
// operator has to fix keys.
type CredentialError struct {
	Op  string
	Err error
}

func (e *CredentialError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("broker credentials missing or invalid (%s)", e.Op)
	}
	return fmt.Sprintf("broker credentials missing or invalid (%s): %v", e.Op, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// TransientError covers network failures and venue 5xx; the next natural
// tick retries, never the same cycle.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient broker failure (%s): %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// VenueError is a definitive rejection by the venue (bad symbol, filter
// violation, insufficient balance).
type VenueError struct {
	Op     string
	Status int
	Code   int
	Msg    string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue rejected %s (status=%d code=%d): %s", e.Op, e.Status, e.Code, e.Msg)
}

func IsCredential(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsVenueReject(err error) bool {
	var ve *VenueError
	return errors.As(err, &ve)
}
