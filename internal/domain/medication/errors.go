package medication

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValidationError reports malformed or contradictory input. It never
// results from transient conditions.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// InvalidStatusTransitionError reports a dose status change the state
// machine forbids. It carries both states so callers can render a
// precise conflict.
type InvalidStatusTransitionError struct {
	Current   ScheduleStatus
	Requested ScheduleStatus
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.Current, e.Requested)
}

// InsufficientStockError reports a consumption attempt exceeding the
// ledger balance. Nothing is mutated when it is returned.
type InsufficientStockError struct {
	OrderID   uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for order %s: requested %d, available %d", e.OrderID, e.Requested, e.Available)
}

// InvalidTimingError reports an action attempted outside its allowed
// time window.
type InvalidTimingError struct {
	ScheduledFor time.Time
	Reason       string
}

func (e *InvalidTimingError) Error() string {
	return fmt.Sprintf("invalid timing: %s (scheduled for %s)", e.Reason, e.ScheduledFor.Format(time.RFC3339))
}

// NotFoundError reports a missing entity by kind and ID.
type NotFoundError struct {
	Kind string
	ID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func notFound(kind string, id uuid.UUID) error {
	return &NotFoundError{Kind: kind, ID: id}
}
