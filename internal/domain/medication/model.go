package medication

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle status of a medication order.
type OrderStatus string

const (
	OrderStatusPendingApproval OrderStatus = "pending_approval"
	OrderStatusApproved        OrderStatus = "approved"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCompleted       OrderStatus = "completed"
	OrderStatusExpired         OrderStatus = "expired"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPendingApproval, OrderStatusApproved, OrderStatusRejected,
		OrderStatusCompleted, OrderStatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the order can no longer produce administrations.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusRejected || s == OrderStatusCompleted || s == OrderStatusExpired
}

// Lifecycle is the record lifecycle, separate from clinical status.
type Lifecycle string

const (
	LifecycleActive   Lifecycle = "active"
	LifecycleArchived Lifecycle = "archived"
)

// ScheduleStatus is the status of a single dose instance.
type ScheduleStatus string

const (
	ScheduleStatusPending              ScheduleStatus = "pending"
	ScheduleStatusAwaitingConfirmation ScheduleStatus = "awaiting_confirmation"
	ScheduleStatusAdministered         ScheduleStatus = "administered"
	ScheduleStatusMissed               ScheduleStatus = "missed"
	ScheduleStatusStudentAbsent        ScheduleStatus = "student_absent"
)

func (s ScheduleStatus) Valid() bool {
	switch s {
	case ScheduleStatusPending, ScheduleStatusAwaitingConfirmation,
		ScheduleStatusAdministered, ScheduleStatusMissed, ScheduleStatusStudentAbsent:
		return true
	}
	return false
}

// Terminal reports whether the dose is resolved. Terminal schedules are
// immutable; fixes go through compensating administration events.
func (s ScheduleStatus) Terminal() bool {
	return s == ScheduleStatusAdministered || s == ScheduleStatusMissed || s == ScheduleStatusStudentAbsent
}

// DayPart names a site-configured default administration time.
type DayPart string

const (
	DayPartMorning   DayPart = "morning"
	DayPartNoon      DayPart = "noon"
	DayPartAfternoon DayPart = "afternoon"
	DayPartEvening   DayPart = "evening"
)

func (d DayPart) Valid() bool {
	switch d {
	case DayPartMorning, DayPartNoon, DayPartAfternoon, DayPartEvening:
		return true
	}
	return false
}

// TimeOfDay is a wall-clock time within a day, minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24-hour, zero-padded). Anything looser,
// single-digit hours or trailing text included, is rejected.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' {
		return TimeOfDay{}, fmt.Errorf("time of day %q is not in HH:MM form", s)
	}
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) Before(o TimeOfDay) bool {
	return t.Minutes() < o.Minutes()
}

// On combines the time of day with a calendar day in the day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	parsed, err := ParseTimeOfDay(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// DateOf truncates a timestamp to its calendar day (midnight, same location).
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDay reports whether two timestamps fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// RecurrenceConfig describes how an order's doses recur. Exactly one of
// Times or DayParts supplies the intra-day slots; day parts are resolved
// against site-configured default times at generation.
type RecurrenceConfig struct {
	FrequencyPerDay int         `json:"frequency_per_day"`
	Times           []TimeOfDay `json:"times,omitempty"`
	DayParts        []DayPart   `json:"day_parts,omitempty"`
	SkipWeekends    bool        `json:"skip_weekends"`
	SkipDates       []time.Time `json:"skip_dates,omitempty"`
}

// Validate checks internal consistency. It does not resolve day parts;
// the generator does that with the configured defaults.
func (rc RecurrenceConfig) Validate() error {
	if rc.FrequencyPerDay < 1 {
		return &ValidationError{Field: "frequency_per_day", Reason: "must be at least 1"}
	}
	if len(rc.Times) > 0 && len(rc.DayParts) > 0 {
		return &ValidationError{Field: "times", Reason: "supply either explicit times or day parts, not both"}
	}
	if len(rc.Times) == 0 && len(rc.DayParts) == 0 {
		return &ValidationError{Field: "times", Reason: "at least one administration time or day part required"}
	}
	if len(rc.Times) > 0 && len(rc.Times) != rc.FrequencyPerDay {
		return &ValidationError{Field: "times", Reason: fmt.Sprintf("%d times given for frequency %d", len(rc.Times), rc.FrequencyPerDay)}
	}
	if len(rc.DayParts) > 0 && len(rc.DayParts) != rc.FrequencyPerDay {
		return &ValidationError{Field: "day_parts", Reason: fmt.Sprintf("%d day parts given for frequency %d", len(rc.DayParts), rc.FrequencyPerDay)}
	}
	seenParts := make(map[DayPart]bool, len(rc.DayParts))
	for _, p := range rc.DayParts {
		if !p.Valid() {
			return &ValidationError{Field: "day_parts", Reason: fmt.Sprintf("unknown day part %q", p)}
		}
		if seenParts[p] {
			return &ValidationError{Field: "day_parts", Reason: fmt.Sprintf("duplicate day part %q", p)}
		}
		seenParts[p] = true
	}
	seenTimes := make(map[int]bool, len(rc.Times))
	for _, t := range rc.Times {
		if seenTimes[t.Minutes()] {
			return &ValidationError{Field: "times", Reason: fmt.Sprintf("duplicate time %s", t)}
		}
		seenTimes[t.Minutes()] = true
	}
	return nil
}

// SkipsDate reports whether the given day is in the skip-date set.
func (rc RecurrenceConfig) SkipsDate(day time.Time) bool {
	for _, d := range rc.SkipDates {
		if SameDay(d, day) {
			return true
		}
	}
	return false
}

// ApprovalRecord captures who approved an order and when.
type ApprovalRecord struct {
	By uuid.UUID `json:"by"`
	At time.Time `json:"at"`
}

// MedicationOrder is an approved request to administer medication to a
// student over a validity window.
type MedicationOrder struct {
	ID                       uuid.UUID        `json:"id"`
	StudentID                uuid.UUID        `json:"student_id"`
	GuardianID               uuid.UUID        `json:"guardian_id"`
	MedicationName           string           `json:"medication_name"`
	Dosage                   string           `json:"dosage"`
	DoseQuantity             int              `json:"dose_quantity"`
	Unit                     string           `json:"unit"`
	Instructions             string           `json:"instructions,omitempty"`
	Recurrence               RecurrenceConfig `json:"recurrence"`
	StartDate                time.Time        `json:"start_date"`
	ExpiryDate               time.Time        `json:"expiry_date"`
	TotalDoses               int              `json:"total_doses"`
	RemainingDoses           int              `json:"remaining_doses"`
	MinStockThreshold        int              `json:"min_stock_threshold"`
	LowStockAlertSent        bool             `json:"low_stock_alert_sent"`
	AutoGenerateSchedule     bool             `json:"auto_generate_schedule"`
	RequireNurseConfirmation bool             `json:"require_nurse_confirmation"`
	SkipOnAbsence            bool             `json:"skip_on_absence"`
	Status                   OrderStatus      `json:"status"`
	Lifecycle                Lifecycle        `json:"lifecycle"`
	Approval                 *ApprovalRecord  `json:"approval,omitempty"`
	CreatedAt                time.Time        `json:"created_at"`
	UpdatedAt                time.Time        `json:"updated_at"`
}

// DoseSchedule is a single planned dose instance derived from an order.
type DoseSchedule struct {
	ID                 uuid.UUID      `json:"id"`
	OrderID            uuid.UUID      `json:"order_id"`
	ScheduledDate      time.Time      `json:"scheduled_date"`
	ScheduledTime      TimeOfDay      `json:"scheduled_time"`
	SequenceNo         int            `json:"sequence_no"`
	Dosage             string         `json:"dosage"`
	Status             ScheduleStatus `json:"status"`
	AdministrationID   *uuid.UUID     `json:"administration_id,omitempty"`
	ConfirmRequestedBy *uuid.UUID     `json:"confirm_requested_by,omitempty"`
	ReminderSent       bool           `json:"reminder_sent"`
	ReminderCount      int            `json:"reminder_count"`
	EscalationSent     bool           `json:"escalation_sent"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// DueAt is the instant the dose is due.
func (s *DoseSchedule) DueAt() time.Time {
	return s.ScheduledTime.On(s.ScheduledDate)
}

// EventKind classifies administration events. Given is the normal path;
// Correction and Return are compensating events referencing an original.
type EventKind string

const (
	EventKindGiven      EventKind = "given"
	EventKindRefused    EventKind = "refused"
	EventKindCorrection EventKind = "correction"
	EventKindReturn     EventKind = "return"
)

// AdministrationEvent is the immutable audit record of an administration
// or of a compensating action against one.
type AdministrationEvent struct {
	ID              uuid.UUID  `json:"id"`
	OrderID         uuid.UUID  `json:"order_id"`
	ScheduleID      *uuid.UUID `json:"schedule_id,omitempty"`
	OriginalEventID *uuid.UUID `json:"original_event_id,omitempty"`
	Kind            EventKind  `json:"kind"`
	ActorID         uuid.UUID  `json:"actor_id"`
	AdministeredAt  time.Time  `json:"administered_at"`
	DosageGiven     string     `json:"dosage_given"`
	QuantityUsed    int        `json:"quantity_used"`
	EarlyOverride   bool       `json:"early_override"`
	Reason          string     `json:"reason,omitempty"`
	Note            string     `json:"note,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// StockMovement classifies ledger lines. Deposits are guardian drop-offs,
// consumption lines are appended by administrations, reversals give
// quantity back without editing history.
type StockMovement string

const (
	StockMovementDeposit     StockMovement = "deposit"
	StockMovementConsumption StockMovement = "consumption"
	StockMovementReversal    StockMovement = "reversal"
)

// Signed returns the balance contribution of a quantity under this movement.
func (m StockMovement) Signed(quantity int) int {
	if m == StockMovementConsumption {
		return -quantity
	}
	return quantity
}

// StockEntry is one immutable line in an order's stock ledger. Quantity is
// always positive; the movement kind carries the sign.
type StockEntry struct {
	ID            uuid.UUID     `json:"id"`
	OrderID       uuid.UUID     `json:"order_id"`
	Movement      StockMovement `json:"movement"`
	Quantity      int           `json:"quantity"`
	Unit          string        `json:"unit,omitempty"`
	BatchExpiry   *time.Time    `json:"batch_expiry,omitempty"`
	DepositedBy   *uuid.UUID    `json:"deposited_by,omitempty"`
	SourceEventID *uuid.UUID    `json:"source_event_id,omitempty"`
	Note          string        `json:"note,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// UsageOutcome is the reporting outcome of a dose instance.
type UsageOutcome string

const (
	UsageOutcomeGiven   UsageOutcome = "given"
	UsageOutcomeMissed  UsageOutcome = "missed"
	UsageOutcomeRefused UsageOutcome = "refused"
	UsageOutcomeAbsent  UsageOutcome = "absent"
)

// UsageHistoryEntry is the per-dose reporting record written when a
// schedule resolves.
type UsageHistoryEntry struct {
	ID               uuid.UUID    `json:"id"`
	OrderID          uuid.UUID    `json:"order_id"`
	StudentID        uuid.UUID    `json:"student_id"`
	ScheduleID       uuid.UUID    `json:"schedule_id"`
	AdministrationID *uuid.UUID   `json:"administration_id,omitempty"`
	Outcome          UsageOutcome `json:"outcome"`
	Dosage           string       `json:"dosage"`
	RecordedAt       time.Time    `json:"recorded_at"`
	Note             string       `json:"note,omitempty"`
}

// ApprovedMedicationOrder is the value handed over by the approval
// workflow when an order becomes approved. The engine ingests it; it does
// not participate in the approval itself.
type ApprovedMedicationOrder struct {
	StudentID                uuid.UUID        `json:"student_id"`
	GuardianID               uuid.UUID        `json:"guardian_id"`
	MedicationName           string           `json:"medication_name"`
	Dosage                   string           `json:"dosage"`
	DoseQuantity             int              `json:"dose_quantity"`
	Unit                     string           `json:"unit"`
	Instructions             string           `json:"instructions"`
	Recurrence               RecurrenceConfig `json:"recurrence"`
	StartDate                time.Time        `json:"start_date"`
	ExpiryDate               time.Time        `json:"expiry_date"`
	TotalDoses               int              `json:"total_doses"`
	MinStockThreshold        int              `json:"min_stock_threshold"`
	AutoGenerateSchedule     bool             `json:"auto_generate_schedule"`
	RequireNurseConfirmation bool             `json:"require_nurse_confirmation"`
	SkipOnAbsence            bool             `json:"skip_on_absence"`
	ApprovedBy               uuid.UUID        `json:"approved_by"`
	ApprovedAt               time.Time        `json:"approved_at"`
}

// Validate checks the approval payload before an order is built from it.
func (a ApprovedMedicationOrder) Validate() error {
	if a.StudentID == uuid.Nil {
		return &ValidationError{Field: "student_id", Reason: "required"}
	}
	if strings.TrimSpace(a.MedicationName) == "" {
		return &ValidationError{Field: "medication_name", Reason: "required"}
	}
	if strings.TrimSpace(a.Dosage) == "" {
		return &ValidationError{Field: "dosage", Reason: "required"}
	}
	if a.DoseQuantity < 1 {
		return &ValidationError{Field: "dose_quantity", Reason: "must be at least 1"}
	}
	if a.StartDate.IsZero() || a.ExpiryDate.IsZero() {
		return &ValidationError{Field: "start_date", Reason: "start and expiry dates required"}
	}
	if a.ExpiryDate.Before(a.StartDate) {
		return &ValidationError{Field: "expiry_date", Reason: "expiry precedes start"}
	}
	if a.MinStockThreshold < 0 {
		return &ValidationError{Field: "min_stock_threshold", Reason: "must not be negative"}
	}
	return a.Recurrence.Validate()
}
