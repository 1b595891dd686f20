// Package vhderr defines the typed error kinds from spec.md §7, modeled on
// ceph-csi's internal/rbd/errors.go one-struct-per-error-kind convention.
package vhderr

import "fmt"

// NotFoundError is returned when a referenced VDI or VHD does not exist.
type NotFoundError struct {
	Kind string // "vdi" or "vhd"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// BusyError is returned when a required lock is not available on the
// try_lock path.
type BusyError struct {
	Lock string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("lock %q is held by another operation", e.Lock)
}

// Busy builds a BusyError.
func Busy(lock string) error {
	return &BusyError{Lock: lock}
}

// ConflictError is returned when an operation would violate a foreign-key
// or uniqueness invariant (e.g. creating a VDI with a uuid already in use).
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// Conflict builds a ConflictError.
func Conflict(reason string) error {
	return &ConflictError{Reason: reason}
}

// ToolFailureError is returned when the external VHD tool exits non-zero.
// It carries the captured stderr and exit code for diagnosis.
type ToolFailureError struct {
	Op       string
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ToolFailureError) Error() string {
	return fmt.Sprintf("vhd-util %s failed (exit %d): %s", e.Op, e.ExitCode, e.Stderr)
}

func (e *ToolFailureError) Unwrap() error {
	return e.Cause
}

// ToolFailure builds a ToolFailureError.
func ToolFailure(op string, exitCode int, stderr string, cause error) error {
	return &ToolFailureError{Op: op, ExitCode: exitCode, Stderr: stderr, Cause: cause}
}

// ProviderFailureError is returned when a storage-provider operation fails.
type ProviderFailureError struct {
	Op    string
	Cause error
}

func (e *ProviderFailureError) Error() string {
	return fmt.Sprintf("storage provider %s failed: %v", e.Op, e.Cause)
}

func (e *ProviderFailureError) Unwrap() error {
	return e.Cause
}

// ProviderFailure builds a ProviderFailureError.
func ProviderFailure(op string, cause error) error {
	return &ProviderFailureError{Op: op, Cause: cause}
}

// ConsistencyError is returned when on-disk state is observed inconsistent
// with the metabase beyond what the journal can repair.
type ConsistencyError struct {
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency error: %s", e.Reason)
}

// Consistency builds a ConsistencyError.
func Consistency(reason string) error {
	return &ConsistencyError{Reason: reason}
}
