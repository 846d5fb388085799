// Package apperrors defines the error taxonomy shared by services and handlers.
package apperrors

import (
	"errors"
	"fmt"
)

// Reason codes carried by IneligibleError and ConflictError.
const (
	ReasonBookingNotActive      = "BOOKING_NOT_ACTIVE"
	ReasonMaxRenewalsReached    = "MAX_RENEWALS_REACHED"
	ReasonOutsideRenewalWindow  = "OUTSIDE_RENEWAL_WINDOW"
	ReasonRenewalAlreadyPending = "RENEWAL_ALREADY_PENDING"

	ReasonIllegalTransition   = "ILLEGAL_TRANSITION"
	ReasonTerminalStatus      = "TERMINAL_STATUS"
	ReasonPaidImmutable       = "PAID_IMMUTABLE"
	ReasonWebhookRequired     = "WEBHOOK_REQUIRED"
	ReasonConcurrentUpdate    = "CONCURRENT_UPDATE"
	ReasonDuplicate           = "DUPLICATE"
	ReasonMappingTypeMismatch = "MAPPING_TYPE_MISMATCH"
	ReasonParentNotPaid       = "PARENT_NOT_PAID"
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConflictError reports an illegal state transition or a uniqueness violation.
type ConflictError struct {
	Reason  string
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ExternalDependencyError wraps a failure of a calendar feed, PMS or payment provider.
type ExternalDependencyError struct {
	Dependency string
	Err        error
}

func (e *ExternalDependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dependency, e.Err)
}

func (e *ExternalDependencyError) Unwrap() error { return e.Err }

// IneligibleError is a domain-rule rejection with a specific reason code.
type IneligibleError struct {
	Reason  string
	Message string
}

func (e *IneligibleError) Error() string { return e.Message }

func Validation(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func Conflict(reason, format string, args ...any) error {
	return &ConflictError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func External(dependency string, err error) error {
	return &ExternalDependencyError{Dependency: dependency, Err: err}
}

func Ineligible(reason, msg string) error {
	return &IneligibleError{Reason: reason, Message: msg}
}

// ErrConcurrentUpdate is returned by stores when a conditional update matched no row
// because the row is no longer in the expected state.
var ErrConcurrentUpdate = &ConflictError{
	Reason:  ReasonConcurrentUpdate,
	Message: "row was modified concurrently",
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsExternal(err error) bool {
	var target *ExternalDependencyError
	return errors.As(err, &target)
}

func IsIneligible(err error) bool {
	var target *IneligibleError
	return errors.As(err, &target)
}

// ReasonOf returns the reason code of a ConflictError or IneligibleError, or "".
func ReasonOf(err error) string {
	var c *ConflictError
	if errors.As(err, &c) {
		return c.Reason
	}
	var i *IneligibleError
	if errors.As(err, &i) {
		return i.Reason
	}
	return ""
}
