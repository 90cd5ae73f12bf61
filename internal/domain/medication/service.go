package medication

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service orchestrates the engine: order ingestion, schedule generation,
// administrations, compensating corrections and the stock ledger.
//
// Transitions that touch stock are serialized per order through an
// in-process lock registry; operations on distinct orders run in
// parallel. The loser of a race observes the updated state and fails
// with a deterministic transition or stock error.
type Service struct {
	orders     OrderRepository
	schedules  ScheduleRepository
	admins     AdministrationRepository
	usage      UsageHistoryRepository
	ledger     *Ledger
	generator  *Generator
	attendance AttendanceSource
	tx         TxRunner
	locks      sync.Map // uuid.UUID -> *sync.Mutex
	log        zerolog.Logger
	now        func() time.Time
}

func NewService(
	orders OrderRepository,
	schedules ScheduleRepository,
	admins AdministrationRepository,
	usage UsageHistoryRepository,
	ledger *Ledger,
	generator *Generator,
	attendance AttendanceSource,
	tx TxRunner,
	log zerolog.Logger,
) *Service {
	return &Service{
		orders:     orders,
		schedules:  schedules,
		admins:     admins,
		usage:      usage,
		ledger:     ledger,
		generator:  generator,
		attendance: attendance,
		tx:         tx,
		log:        log,
		now:        time.Now,
	}
}

func (s *Service) lockOrder(orderID uuid.UUID) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(orderID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// inTx runs fn atomically when a runner is configured.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTx(ctx, fn)
}

// IngestApprovedOrder builds an engine order from an approval handover
// and, when requested, expands its schedule immediately.
func (s *Service) IngestApprovedOrder(ctx context.Context, in ApprovedMedicationOrder) (*MedicationOrder, []*DoseSchedule, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}

	order := &MedicationOrder{
		ID:                       uuid.New(),
		StudentID:                in.StudentID,
		GuardianID:               in.GuardianID,
		MedicationName:           in.MedicationName,
		Dosage:                   in.Dosage,
		DoseQuantity:             in.DoseQuantity,
		Unit:                     in.Unit,
		Instructions:             in.Instructions,
		Recurrence:               in.Recurrence,
		StartDate:                DateOf(in.StartDate),
		ExpiryDate:               DateOf(in.ExpiryDate),
		TotalDoses:               in.TotalDoses,
		MinStockThreshold:        in.MinStockThreshold,
		AutoGenerateSchedule:     in.AutoGenerateSchedule,
		RequireNurseConfirmation: in.RequireNurseConfirmation,
		SkipOnAbsence:            in.SkipOnAbsence,
		Status:                   OrderStatusApproved,
		Lifecycle:                LifecycleActive,
		Approval:                 &ApprovalRecord{By: in.ApprovedBy, At: in.ApprovedAt},
	}

	var schedules []*DoseSchedule
	if order.AutoGenerateSchedule {
		var err error
		schedules, err = s.generator.Generate(ctx, order)
		if err != nil {
			return nil, nil, err
		}
	}
	if order.TotalDoses == 0 {
		order.TotalDoses = len(schedules)
	}
	order.RemainingDoses = order.TotalDoses

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, order); err != nil {
			return err
		}
		if len(schedules) > 0 {
			return s.schedules.CreateBatch(ctx, schedules)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("student_id", order.StudentID.String()).
		Int("schedules", len(schedules)).
		Msg("approved order ingested")
	return order, schedules, nil
}

// RegenerateSchedules recomputes an order's plan after its recurrence or
// validity window changed. Resolved and same-day instances survive; only
// future Pending instances are replaced.
func (s *Service) RegenerateSchedules(ctx context.Context, orderID uuid.UUID) ([]*DoseSchedule, error) {
	mu := s.lockOrder(orderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, notFound("medication order", orderID)
	}
	if order.Status.Terminal() {
		return nil, &ValidationError{Field: "status", Reason: "order is " + string(order.Status)}
	}

	existing, err := s.schedules.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	kept, created, replaced, err := s.generator.Regenerate(ctx, order, existing, s.now())
	if err != nil {
		return nil, err
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if len(replaced) > 0 {
			if err := s.schedules.DeleteByIDs(ctx, replaced); err != nil {
				return err
			}
		}
		if len(created) > 0 {
			return s.schedules.CreateBatch(ctx, created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID.String()).
		Int("kept", len(kept)).
		Int("created", len(created)).
		Int("replaced", len(replaced)).
		Msg("schedules regenerated")
	return append(kept, created...), nil
}

// AdministerInput is the nurse-side payload for resolving a dose.
type AdministerInput struct {
	ActorID       uuid.UUID `json:"actor_id"`
	Dosage        string    `json:"dosage,omitempty"`
	Quantity      int       `json:"quantity,omitempty"`
	EarlyOverride bool      `json:"early_override,omitempty"`
	Refused       bool      `json:"refused,omitempty"`
	RefusalReason string    `json:"refusal_reason,omitempty"`
	Note          string    `json:"note,omitempty"`
}

// AdministerResult reports the outcome of an administer attempt. When a
// high-risk order needs a second actor, AwaitingConfirmation is set and
// no event exists yet.
type AdministerResult struct {
	Schedule             *DoseSchedule        `json:"schedule"`
	Event                *AdministrationEvent `json:"event,omitempty"`
	AwaitingConfirmation bool                 `json:"awaiting_confirmation"`
}

// Administer resolves one dose schedule. Stock is consumed before the
// status transition commits; on any guard failure nothing is mutated.
func (s *Service) Administer(ctx context.Context, scheduleID uuid.UUID, in AdministerInput) (*AdministerResult, error) {
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, notFound("dose schedule", scheduleID)
	}

	mu := s.lockOrder(sched.OrderID)
	mu.Lock()
	defer mu.Unlock()

	return s.administerLocked(ctx, scheduleID, in)
}

// Confirm completes an administration a first nurse started on an order
// requiring dual sign-off. The confirming actor must differ from the one
// who requested confirmation.
func (s *Service) Confirm(ctx context.Context, scheduleID uuid.UUID, in AdministerInput) (*AdministerResult, error) {
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, notFound("dose schedule", scheduleID)
	}

	mu := s.lockOrder(sched.OrderID)
	mu.Lock()
	defer mu.Unlock()

	sched, err = s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, notFound("dose schedule", scheduleID)
	}
	if sched.Status != ScheduleStatusAwaitingConfirmation {
		return nil, &InvalidStatusTransitionError{Current: sched.Status, Requested: ScheduleStatusAdministered}
	}
	return s.administerLocked(ctx, scheduleID, in)
}

// QuickComplete administers a schedule with the order's default dosage in
// one call.
func (s *Service) QuickComplete(ctx context.Context, scheduleID uuid.UUID, actorID uuid.UUID) (*AdministerResult, error) {
	return s.Administer(ctx, scheduleID, AdministerInput{ActorID: actorID})
}

// administerLocked runs the guarded administer path. The order lock must
// be held.
func (s *Service) administerLocked(ctx context.Context, scheduleID uuid.UUID, in AdministerInput) (*AdministerResult, error) {
	if in.ActorID == uuid.Nil {
		return nil, &ValidationError{Field: "actor_id", Reason: "required"}
	}

	// Reload under the lock so the loser of a race sees fresh state.
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, notFound("dose schedule", scheduleID)
	}
	if sched.Status.Terminal() {
		return nil, &InvalidStatusTransitionError{Current: sched.Status, Requested: ScheduleStatusAdministered}
	}

	order, err := s.orders.GetByID(ctx, sched.OrderID)
	if err != nil {
		return nil, notFound("medication order", sched.OrderID)
	}
	if order.Status != OrderStatusApproved {
		return nil, &ValidationError{Field: "order", Reason: "order is " + string(order.Status) + ", not administrable"}
	}

	now := s.now()
	dueAt := sched.DueAt()
	if dueAt.After(now) && !SameDay(dueAt, now) && !in.EarlyOverride {
		return nil, &InvalidTimingError{ScheduledFor: dueAt, Reason: "dose is scheduled for a future day"}
	}

	if order.RequireNurseConfirmation {
		switch sched.Status {
		case ScheduleStatusPending:
			if err := Transition(sched, ScheduleStatusAwaitingConfirmation); err != nil {
				return nil, err
			}
			actor := in.ActorID
			sched.ConfirmRequestedBy = &actor
			if err := s.schedules.Update(ctx, sched); err != nil {
				return nil, err
			}
			s.log.Info().
				Str("schedule_id", sched.ID.String()).
				Str("requested_by", in.ActorID.String()).
				Msg("administration awaiting second-actor confirmation")
			return &AdministerResult{Schedule: sched, AwaitingConfirmation: true}, nil
		case ScheduleStatusAwaitingConfirmation:
			if sched.ConfirmRequestedBy != nil && *sched.ConfirmRequestedBy == in.ActorID {
				return nil, &ValidationError{Field: "actor_id", Reason: "confirmation requires a second actor"}
			}
		}
	}

	if in.Refused {
		return s.resolveRefusal(ctx, order, sched, in)
	}

	quantity := in.Quantity
	if quantity == 0 {
		quantity = order.DoseQuantity
	}
	dosage := in.Dosage
	if dosage == "" {
		dosage = sched.Dosage
	}

	event := &AdministrationEvent{
		ID:             uuid.New(),
		OrderID:        order.ID,
		Kind:           EventKindGiven,
		ActorID:        in.ActorID,
		AdministeredAt: now,
		DosageGiven:    dosage,
		QuantityUsed:   quantity,
		EarlyOverride:  in.EarlyOverride,
		Note:           in.Note,
	}
	schedID := sched.ID
	event.ScheduleID = &schedID

	// Stock first. An insufficient balance aborts with nothing mutated,
	// and any later repository failure rolls the consumption back.
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.ledger.Consume(ctx, order, quantity, event.ID); err != nil {
			return err
		}
		if err := s.admins.Create(ctx, event); err != nil {
			return err
		}
		if err := Transition(sched, ScheduleStatusAdministered); err != nil {
			return err
		}
		sched.AdministrationID = &event.ID
		if err := s.schedules.Update(ctx, sched); err != nil {
			return err
		}
		if order.RemainingDoses > 0 {
			order.RemainingDoses--
		}
		return s.recordUsage(ctx, order, sched, UsageOutcomeGiven, &event.ID, dosage, in.Note)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("schedule_id", sched.ID.String()).
		Str("event_id", event.ID.String()).
		Str("actor_id", in.ActorID.String()).
		Msg("dose administered")
	return &AdministerResult{Schedule: sched, Event: event}, nil
}

// resolveRefusal records a student refusal: an audit event without stock
// consumption, the schedule resolved as missed.
func (s *Service) resolveRefusal(ctx context.Context, order *MedicationOrder, sched *DoseSchedule, in AdministerInput) (*AdministerResult, error) {
	if strings.TrimSpace(in.RefusalReason) == "" {
		return nil, &ValidationError{Field: "refusal_reason", Reason: "required when recording a refusal"}
	}
	event := &AdministrationEvent{
		ID:             uuid.New(),
		OrderID:        order.ID,
		Kind:           EventKindRefused,
		ActorID:        in.ActorID,
		AdministeredAt: s.now(),
		DosageGiven:    sched.Dosage,
		Reason:         in.RefusalReason,
		Note:           in.Note,
	}
	schedID := sched.ID
	event.ScheduleID = &schedID
	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.admins.Create(ctx, event); err != nil {
			return err
		}
		if err := Transition(sched, ScheduleStatusMissed); err != nil {
			return err
		}
		sched.AdministrationID = &event.ID
		if err := s.schedules.Update(ctx, sched); err != nil {
			return err
		}
		return s.recordUsage(ctx, order, sched, UsageOutcomeRefused, &event.ID, sched.Dosage, in.RefusalReason)
	})
	if err != nil {
		return nil, err
	}
	return &AdministerResult{Schedule: sched, Event: event}, nil
}

// BulkResult is one item outcome of a bulk administration.
type BulkResult struct {
	ScheduleID           uuid.UUID            `json:"schedule_id"`
	Succeeded            bool                 `json:"succeeded"`
	AwaitingConfirmation bool                 `json:"awaiting_confirmation,omitempty"`
	Event                *AdministrationEvent `json:"event,omitempty"`
	Error                string               `json:"error,omitempty"`
}

// BulkAdminister processes schedules independently: one item's failure
// never rolls back earlier successes, and each failure carries the
// schedule it belongs to. On context cancellation the committed results
// are returned alongside ctx.Err(); unprocessed items are not touched.
func (s *Service) BulkAdminister(ctx context.Context, scheduleIDs []uuid.UUID, in AdministerInput) ([]BulkResult, error) {
	results := make([]BulkResult, 0, len(scheduleIDs))
	for _, id := range scheduleIDs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.Administer(ctx, id, in)
		if err != nil {
			results = append(results, BulkResult{ScheduleID: id, Error: err.Error()})
			continue
		}
		results = append(results, BulkResult{
			ScheduleID:           id,
			Succeeded:            !res.AwaitingConfirmation,
			AwaitingConfirmation: res.AwaitingConfirmation,
			Event:                res.Event,
		})
	}
	return results, nil
}

// MarkMissed resolves an elapsed dose as missed. A reason is mandatory
// and a dose cannot be missed before its due time.
func (s *Service) MarkMissed(ctx context.Context, scheduleID uuid.UUID, actorID uuid.UUID, reason string) (*DoseSchedule, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required"}
	}
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, notFound("dose schedule", scheduleID)
	}

	mu := s.lockOrder(sched.OrderID)
	mu.Lock()
	defer mu.Unlock()

	sched, err = s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, notFound("dose schedule", scheduleID)
	}
	if sched.Status.Terminal() {
		return nil, &InvalidStatusTransitionError{Current: sched.Status, Requested: ScheduleStatusMissed}
	}
	if dueAt := sched.DueAt(); s.now().Before(dueAt) {
		return nil, &InvalidTimingError{ScheduledFor: dueAt, Reason: "dose cannot be missed before its due time"}
	}
	order, err := s.orders.GetByID(ctx, sched.OrderID)
	if err != nil {
		return nil, notFound("medication order", sched.OrderID)
	}

	if err := Transition(sched, ScheduleStatusMissed); err != nil {
		return nil, err
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.schedules.Update(ctx, sched); err != nil {
			return err
		}
		return s.recordUsage(ctx, order, sched, UsageOutcomeMissed, nil, sched.Dosage, reason)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("schedule_id", sched.ID.String()).
		Str("actor_id", actorID.String()).
		Str("reason", reason).
		Msg("dose marked missed")
	return sched, nil
}

// MarkAbsent resolves a dose because the student was not at school. The
// attendance source is consulted; a present student cannot be marked
// absent.
func (s *Service) MarkAbsent(ctx context.Context, scheduleID uuid.UUID, actorID uuid.UUID) (*DoseSchedule, error) {
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, notFound("dose schedule", scheduleID)
	}

	mu := s.lockOrder(sched.OrderID)
	mu.Lock()
	defer mu.Unlock()

	sched, err = s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, notFound("dose schedule", scheduleID)
	}
	if sched.Status.Terminal() {
		return nil, &InvalidStatusTransitionError{Current: sched.Status, Requested: ScheduleStatusStudentAbsent}
	}
	order, err := s.orders.GetByID(ctx, sched.OrderID)
	if err != nil {
		return nil, notFound("medication order", sched.OrderID)
	}

	present, err := s.attendance.Present(ctx, order.StudentID, sched.ScheduledDate)
	if err != nil {
		return nil, err
	}
	if present {
		return nil, &ValidationError{Field: "student", Reason: "attendance marks the student present that day"}
	}

	if err := Transition(sched, ScheduleStatusStudentAbsent); err != nil {
		return nil, err
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.schedules.Update(ctx, sched); err != nil {
			return err
		}
		return s.recordUsage(ctx, order, sched, UsageOutcomeAbsent, nil, sched.Dosage, "")
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("schedule_id", sched.ID.String()).
		Str("actor_id", actorID.String()).
		Msg("dose resolved as student absent")
	return sched, nil
}

// Correct records a compensating event against an administration. The
// original event and resolved schedule stay untouched. A positive
// quantity delta returns stock through a reversal movement; a negative
// delta consumes the difference.
func (s *Service) Correct(ctx context.Context, eventID uuid.UUID, actorID uuid.UUID, reason string, quantityDelta int, note string) (*AdministrationEvent, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required"}
	}
	original, err := s.admins.GetByID(ctx, eventID)
	if err != nil {
		return nil, notFound("administration event", eventID)
	}
	if original.Kind != EventKindGiven {
		return nil, &ValidationError{Field: "event", Reason: "only given events can be corrected"}
	}

	mu := s.lockOrder(original.OrderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.orders.GetByID(ctx, original.OrderID)
	if err != nil {
		return nil, notFound("medication order", original.OrderID)
	}

	origID := original.ID
	event := &AdministrationEvent{
		ID:              uuid.New(),
		OrderID:         original.OrderID,
		ScheduleID:      original.ScheduleID,
		OriginalEventID: &origID,
		Kind:            EventKindCorrection,
		ActorID:         actorID,
		AdministeredAt:  s.now(),
		DosageGiven:     original.DosageGiven,
		QuantityUsed:    quantityDelta,
		Reason:          reason,
		Note:            note,
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		switch {
		case quantityDelta > 0:
			if _, err := s.ledger.Reverse(ctx, order, quantityDelta, event.ID, reason); err != nil {
				return err
			}
		case quantityDelta < 0:
			if err := s.ledger.Consume(ctx, order, -quantityDelta, event.ID); err != nil {
				return err
			}
		}
		return s.admins.Create(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("event_id", event.ID.String()).
		Str("original_event_id", original.ID.String()).
		Int("quantity_delta", quantityDelta).
		Msg("administration corrected")
	return event, nil
}

// Return records medication given back after an administration was logged
// in error. Stock comes back through a reversal movement and the order's
// remaining-dose counter is restored for each full dose returned.
func (s *Service) Return(ctx context.Context, eventID uuid.UUID, actorID uuid.UUID, quantity int, reason string) (*AdministrationEvent, error) {
	if quantity < 1 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required"}
	}
	original, err := s.admins.GetByID(ctx, eventID)
	if err != nil {
		return nil, notFound("administration event", eventID)
	}
	if original.Kind != EventKindGiven {
		return nil, &ValidationError{Field: "event", Reason: "only given events can be returned"}
	}
	if quantity > original.QuantityUsed {
		return nil, &ValidationError{Field: "quantity", Reason: "cannot return more than was administered"}
	}

	mu := s.lockOrder(original.OrderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.orders.GetByID(ctx, original.OrderID)
	if err != nil {
		return nil, notFound("medication order", original.OrderID)
	}

	origID := original.ID
	event := &AdministrationEvent{
		ID:              uuid.New(),
		OrderID:         original.OrderID,
		ScheduleID:      original.ScheduleID,
		OriginalEventID: &origID,
		Kind:            EventKindReturn,
		ActorID:         actorID,
		AdministeredAt:  s.now(),
		DosageGiven:     original.DosageGiven,
		QuantityUsed:    quantity,
		Reason:          reason,
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if _, err := s.ledger.Reverse(ctx, order, quantity, event.ID, reason); err != nil {
			return err
		}
		if err := s.admins.Create(ctx, event); err != nil {
			return err
		}
		if order.DoseQuantity > 0 {
			order.RemainingDoses += quantity / order.DoseQuantity
		}
		return s.orders.Update(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("event_id", event.ID.String()).
		Str("original_event_id", original.ID.String()).
		Int("quantity", quantity).
		Msg("administration returned")
	return event, nil
}

// recordUsage writes the per-dose reporting entry and maintains the order
// row: remaining-dose counter, completion when every schedule resolved.
func (s *Service) recordUsage(ctx context.Context, order *MedicationOrder, sched *DoseSchedule, outcome UsageOutcome, adminID *uuid.UUID, dosage, note string) error {
	entry := &UsageHistoryEntry{
		ID:               uuid.New(),
		OrderID:          order.ID,
		StudentID:        order.StudentID,
		ScheduleID:       sched.ID,
		AdministrationID: adminID,
		Outcome:          outcome,
		Dosage:           dosage,
		RecordedAt:       s.now(),
		Note:             note,
	}
	if err := s.usage.Create(ctx, entry); err != nil {
		return err
	}

	unresolved, err := s.schedules.CountUnresolved(ctx, order.ID)
	if err != nil {
		return err
	}
	if unresolved == 0 && order.Status == OrderStatusApproved {
		order.Status = OrderStatusCompleted
		s.log.Info().Str("order_id", order.ID.String()).Msg("order completed")
	}
	return s.orders.Update(ctx, order)
}

// Order returns an order by ID.
func (s *Service) Order(ctx context.Context, id uuid.UUID) (*MedicationOrder, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, notFound("medication order", id)
	}
	return o, nil
}

// Orders lists orders with pagination.
func (s *Service) Orders(ctx context.Context, limit, offset int) ([]*MedicationOrder, int, error) {
	return s.orders.List(ctx, limit, offset)
}

// Schedules lists an order's dose schedules.
func (s *Service) Schedules(ctx context.Context, orderID uuid.UUID) ([]*DoseSchedule, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, notFound("medication order", orderID)
	}
	return s.schedules.ListByOrder(ctx, orderID)
}

// AddStock records a drop-off batch against an order.
func (s *Service) AddStock(ctx context.Context, orderID uuid.UUID, in AddStockInput) (*StockEntry, error) {
	mu := s.lockOrder(orderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, notFound("medication order", orderID)
	}
	var entry *StockEntry
	err = s.inTx(ctx, func(ctx context.Context) error {
		entry, err = s.ledger.AddStock(ctx, order, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// StockEntries lists an order's ledger lines.
func (s *Service) StockEntries(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]*StockEntry, int, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, 0, notFound("medication order", orderID)
	}
	return s.ledger.stock.ListByOrder(ctx, orderID, limit, offset)
}

// StockBalance returns the derived ledger balance for an order.
func (s *Service) StockBalance(ctx context.Context, orderID uuid.UUID) (int, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return 0, notFound("medication order", orderID)
	}
	return s.ledger.Balance(ctx, orderID)
}

// UsageHistory lists reporting entries for an order.
func (s *Service) UsageHistory(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]*UsageHistoryEntry, int, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, 0, notFound("medication order", orderID)
	}
	return s.usage.ListByOrder(ctx, orderID, limit, offset)
}

// Administrations lists audit events for an order.
func (s *Service) Administrations(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]*AdministrationEvent, int, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, 0, notFound("medication order", orderID)
	}
	return s.admins.ListByOrder(ctx, orderID, limit, offset)
}
