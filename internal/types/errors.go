package types

import "fmt"

// ValidationError reports malformed input (empty goal, empty action).
// Rejected before any state mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// ReasonerError reports a transport or quota failure from the reasoner.
type ReasonerError struct {
	Op  string
	Err error
}

func (e *ReasonerError) Error() string {
	return fmt.Sprintf("reasoner %s: %v", e.Op, e.Err)
}

func (e *ReasonerError) Unwrap() error { return e.Err }

// StorageError reports a persistence failure from the experience store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
