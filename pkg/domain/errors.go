package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSelection is returned when a tank id is not in the current registry list.
	ErrInvalidSelection = errors.New("invalid tank selection")
	// ErrNotAuthenticated is returned by owner scoped operations without an identity.
	ErrNotAuthenticated = errors.New("no authenticated identity")
	// ErrProfileNotFound is returned by profile stores when the owner has no profile on record.
	ErrProfileNotFound = errors.New("threshold profile not found")
	// ErrTankNotFound is returned when a tank id is unknown to the store.
	ErrTankNotFound = errors.New("tank not found")
)

// SelectionError reports a rejected tank selection.
type SelectionError struct {
	TankID string
}

func (e SelectionError) Error() string {
	return fmt.Sprintf("tank %s is not registered for the current identity", e.TankID)
}

// Unwrap allows errors.Is(err, ErrInvalidSelection).
func (e SelectionError) Unwrap() error { return ErrInvalidSelection }

// PersistenceError wraps a store failure with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// ValidationError reports an invalid field value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
