package medication

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schoolmed/schoolmed/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== MedicationOrder Repository ===========

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) conn(ctx context.Context) queryable { return conn(ctx, r.pool) }

const orderCols = `id, student_id, guardian_id, medication_name, dosage, dose_quantity, unit,
	instructions, recurrence, start_date, expiry_date,
	total_doses, remaining_doses, min_stock_threshold, low_stock_alert_sent,
	auto_generate_schedule, require_nurse_confirmation, skip_on_absence,
	status, lifecycle, approved_by, approved_at, created_at, updated_at`

func (r *orderRepoPG) scanOrder(row pgx.Row) (*MedicationOrder, error) {
	var o MedicationOrder
	var recurrence []byte
	var approvedBy *uuid.UUID
	var approvedAt *time.Time
	err := row.Scan(&o.ID, &o.StudentID, &o.GuardianID, &o.MedicationName, &o.Dosage, &o.DoseQuantity, &o.Unit,
		&o.Instructions, &recurrence, &o.StartDate, &o.ExpiryDate,
		&o.TotalDoses, &o.RemainingDoses, &o.MinStockThreshold, &o.LowStockAlertSent,
		&o.AutoGenerateSchedule, &o.RequireNurseConfirmation, &o.SkipOnAbsence,
		&o.Status, &o.Lifecycle, &approvedBy, &approvedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(recurrence) > 0 {
		if err := json.Unmarshal(recurrence, &o.Recurrence); err != nil {
			return nil, fmt.Errorf("decode recurrence for order %s: %w", o.ID, err)
		}
	}
	if approvedBy != nil && approvedAt != nil {
		o.Approval = &ApprovalRecord{By: *approvedBy, At: *approvedAt}
	}
	return &o, nil
}

func (r *orderRepoPG) Create(ctx context.Context, o *MedicationOrder) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	recurrence, err := json.Marshal(o.Recurrence)
	if err != nil {
		return fmt.Errorf("encode recurrence: %w", err)
	}
	var approvedBy *uuid.UUID
	var approvedAt *time.Time
	if o.Approval != nil {
		approvedBy = &o.Approval.By
		approvedAt = &o.Approval.At
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO medication_order (id, student_id, guardian_id, medication_name, dosage, dose_quantity, unit,
			instructions, recurrence, start_date, expiry_date,
			total_doses, remaining_doses, min_stock_threshold, low_stock_alert_sent,
			auto_generate_schedule, require_nurse_confirmation, skip_on_absence,
			status, lifecycle, approved_by, approved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		o.ID, o.StudentID, o.GuardianID, o.MedicationName, o.Dosage, o.DoseQuantity, o.Unit,
		o.Instructions, recurrence, o.StartDate, o.ExpiryDate,
		o.TotalDoses, o.RemainingDoses, o.MinStockThreshold, o.LowStockAlertSent,
		o.AutoGenerateSchedule, o.RequireNurseConfirmation, o.SkipOnAbsence,
		o.Status, o.Lifecycle, approvedBy, approvedAt)
	return err
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicationOrder, error) {
	return r.scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM medication_order WHERE id = $1`, id))
}

func (r *orderRepoPG) Update(ctx context.Context, o *MedicationOrder) error {
	recurrence, err := json.Marshal(o.Recurrence)
	if err != nil {
		return fmt.Errorf("encode recurrence: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE medication_order SET dosage=$2, dose_quantity=$3, unit=$4, instructions=$5,
			recurrence=$6, start_date=$7, expiry_date=$8,
			total_doses=$9, remaining_doses=$10, min_stock_threshold=$11, low_stock_alert_sent=$12,
			auto_generate_schedule=$13, require_nurse_confirmation=$14, skip_on_absence=$15,
			status=$16, lifecycle=$17, updated_at=NOW()
		WHERE id = $1`,
		o.ID, o.Dosage, o.DoseQuantity, o.Unit, o.Instructions,
		recurrence, o.StartDate, o.ExpiryDate,
		o.TotalDoses, o.RemainingDoses, o.MinStockThreshold, o.LowStockAlertSent,
		o.AutoGenerateSchedule, o.RequireNurseConfirmation, o.SkipOnAbsence,
		o.Status, o.Lifecycle)
	return err
}

func (r *orderRepoPG) List(ctx context.Context, limit, offset int) ([]*MedicationOrder, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medication_order WHERE lifecycle = 'active'`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+orderCols+` FROM medication_order
		WHERE lifecycle = 'active'
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MedicationOrder
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

func (r *orderRepoPG) ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*MedicationOrder, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medication_order WHERE student_id = $1 AND lifecycle = 'active'`, studentID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+orderCols+` FROM medication_order
		WHERE student_id = $1 AND lifecycle = 'active'
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, studentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MedicationOrder
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

func (r *orderRepoPG) ExpireBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE medication_order SET status = 'expired', updated_at = NOW()
		WHERE status = 'approved' AND expiry_date < $1
		RETURNING id`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =========== DoseSchedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepoPG{pool: pool}
}

func (r *scheduleRepoPG) conn(ctx context.Context) queryable { return conn(ctx, r.pool) }

const scheduleCols = `id, order_id, scheduled_date, scheduled_time, sequence_no, dosage, status,
	administration_id, confirm_requested_by, reminder_sent, reminder_count, escalation_sent,
	created_at, updated_at`

func (r *scheduleRepoPG) scanSchedule(row pgx.Row) (*DoseSchedule, error) {
	var s DoseSchedule
	var scheduledTime string
	err := row.Scan(&s.ID, &s.OrderID, &s.ScheduledDate, &scheduledTime, &s.SequenceNo, &s.Dosage, &s.Status,
		&s.AdministrationID, &s.ConfirmRequestedBy, &s.ReminderSent, &s.ReminderCount, &s.EscalationSent,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if s.ScheduledTime, err = ParseTimeOfDay(scheduledTime); err != nil {
		return nil, fmt.Errorf("decode scheduled time for %s: %w", s.ID, err)
	}
	return &s, nil
}

func (r *scheduleRepoPG) CreateBatch(ctx context.Context, schedules []*DoseSchedule) error {
	for _, s := range schedules {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO dose_schedule (id, order_id, scheduled_date, scheduled_time, sequence_no, dosage, status,
				reminder_sent, reminder_count, escalation_sent)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			s.ID, s.OrderID, s.ScheduledDate, s.ScheduledTime.String(), s.SequenceNo, s.Dosage, s.Status,
			s.ReminderSent, s.ReminderCount, s.EscalationSent)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DoseSchedule, error) {
	return r.scanSchedule(r.conn(ctx).QueryRow(ctx, `SELECT `+scheduleCols+` FROM dose_schedule WHERE id = $1`, id))
}

func (r *scheduleRepoPG) Update(ctx context.Context, s *DoseSchedule) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE dose_schedule SET status=$2, administration_id=$3, confirm_requested_by=$4,
			reminder_sent=$5, reminder_count=$6, escalation_sent=$7, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.Status, s.AdministrationID, s.ConfirmRequestedBy,
		s.ReminderSent, s.ReminderCount, s.EscalationSent)
	return err
}

func (r *scheduleRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*DoseSchedule, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+scheduleCols+` FROM dose_schedule
		WHERE order_id = $1 ORDER BY sequence_no`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DoseSchedule
	for rows.Next() {
		s, err := r.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *scheduleRepoPG) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM dose_schedule WHERE id = ANY($1)`, ids)
	return err
}

func (r *scheduleRepoPG) ListUnresolved(ctx context.Context, dueBefore time.Time) ([]*DoseSchedule, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+scheduleCols+` FROM dose_schedule
		WHERE status IN ('pending', 'awaiting_confirmation')
		  AND scheduled_date <= $1
		ORDER BY scheduled_date, scheduled_time`, DateOf(dueBefore))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DoseSchedule
	for rows.Next() {
		s, err := r.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		// Same-day rows past the cutoff instant are filtered here; the
		// date column alone is too coarse.
		if s.DueAt().After(dueBefore) {
			continue
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *scheduleRepoPG) CountUnresolved(ctx context.Context, orderID uuid.UUID) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM dose_schedule
		WHERE order_id = $1 AND status IN ('pending', 'awaiting_confirmation')`, orderID).Scan(&count)
	return count, err
}

// =========== AdministrationEvent Repository ===========

type administrationRepoPG struct{ pool *pgxpool.Pool }

func NewAdministrationRepoPG(pool *pgxpool.Pool) AdministrationRepository {
	return &administrationRepoPG{pool: pool}
}

func (r *administrationRepoPG) conn(ctx context.Context) queryable { return conn(ctx, r.pool) }

const adminCols = `id, order_id, schedule_id, original_event_id, kind, actor_id, administered_at,
	dosage_given, quantity_used, early_override, reason, note, created_at`

func (r *administrationRepoPG) scanEvent(row pgx.Row) (*AdministrationEvent, error) {
	var e AdministrationEvent
	err := row.Scan(&e.ID, &e.OrderID, &e.ScheduleID, &e.OriginalEventID, &e.Kind, &e.ActorID, &e.AdministeredAt,
		&e.DosageGiven, &e.QuantityUsed, &e.EarlyOverride, &e.Reason, &e.Note, &e.CreatedAt)
	return &e, err
}

func (r *administrationRepoPG) Create(ctx context.Context, e *AdministrationEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO administration_event (id, order_id, schedule_id, original_event_id, kind, actor_id,
			administered_at, dosage_given, quantity_used, early_override, reason, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID, e.OrderID, e.ScheduleID, e.OriginalEventID, e.Kind, e.ActorID,
		e.AdministeredAt, e.DosageGiven, e.QuantityUsed, e.EarlyOverride, e.Reason, e.Note)
	return err
}

func (r *administrationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AdministrationEvent, error) {
	return r.scanEvent(r.conn(ctx).QueryRow(ctx, `SELECT `+adminCols+` FROM administration_event WHERE id = $1`, id))
}

func (r *administrationRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]*AdministrationEvent, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM administration_event WHERE order_id = $1`, orderID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+adminCols+` FROM administration_event
		WHERE order_id = $1 ORDER BY administered_at DESC LIMIT $2 OFFSET $3`, orderID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*AdministrationEvent
	for rows.Next() {
		e, err := r.scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

// =========== StockEntry Repository ===========

type stockRepoPG struct{ pool *pgxpool.Pool }

func NewStockRepoPG(pool *pgxpool.Pool) StockRepository {
	return &stockRepoPG{pool: pool}
}

func (r *stockRepoPG) conn(ctx context.Context) queryable { return conn(ctx, r.pool) }

const stockCols = `id, order_id, movement, quantity, unit, batch_expiry, deposited_by, source_event_id, note, created_at`

func (r *stockRepoPG) scanEntry(row pgx.Row) (*StockEntry, error) {
	var e StockEntry
	err := row.Scan(&e.ID, &e.OrderID, &e.Movement, &e.Quantity, &e.Unit, &e.BatchExpiry,
		&e.DepositedBy, &e.SourceEventID, &e.Note, &e.CreatedAt)
	return &e, err
}

func (r *stockRepoPG) Append(ctx context.Context, e *StockEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO stock_entry (id, order_id, movement, quantity, unit, batch_expiry, deposited_by, source_event_id, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.OrderID, e.Movement, e.Quantity, e.Unit, e.BatchExpiry, e.DepositedBy, e.SourceEventID, e.Note)
	return err
}

func (r *stockRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]*StockEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_entry WHERE order_id = $1`, orderID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+stockCols+` FROM stock_entry
		WHERE order_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, orderID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*StockEntry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *stockRepoPG) Balance(ctx context.Context, orderID uuid.UUID) (int, error) {
	var balance int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN movement = 'consumption' THEN -quantity ELSE quantity END), 0)
		FROM stock_entry WHERE order_id = $1`, orderID).Scan(&balance)
	return balance, err
}

// =========== UsageHistory Repository ===========

type usageRepoPG struct{ pool *pgxpool.Pool }

func NewUsageHistoryRepoPG(pool *pgxpool.Pool) UsageHistoryRepository {
	return &usageRepoPG{pool: pool}
}

func (r *usageRepoPG) conn(ctx context.Context) queryable { return conn(ctx, r.pool) }

const usageCols = `id, order_id, student_id, schedule_id, administration_id, outcome, dosage, recorded_at, note`

func (r *usageRepoPG) scanEntry(row pgx.Row) (*UsageHistoryEntry, error) {
	var e UsageHistoryEntry
	err := row.Scan(&e.ID, &e.OrderID, &e.StudentID, &e.ScheduleID, &e.AdministrationID,
		&e.Outcome, &e.Dosage, &e.RecordedAt, &e.Note)
	return &e, err
}

func (r *usageRepoPG) Create(ctx context.Context, e *UsageHistoryEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO usage_history (id, order_id, student_id, schedule_id, administration_id, outcome, dosage, recorded_at, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.OrderID, e.StudentID, e.ScheduleID, e.AdministrationID, e.Outcome, e.Dosage, e.RecordedAt, e.Note)
	return err
}

func (r *usageRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]*UsageHistoryEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM usage_history WHERE order_id = $1`, orderID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+usageCols+` FROM usage_history
		WHERE order_id = $1 ORDER BY recorded_at DESC LIMIT $2 OFFSET $3`, orderID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*UsageHistoryEntry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *usageRepoPG) ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*UsageHistoryEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM usage_history WHERE student_id = $1`, studentID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+usageCols+` FROM usage_history
		WHERE student_id = $1 ORDER BY recorded_at DESC LIMIT $2 OFFSET $3`, studentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*UsageHistoryEntry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
