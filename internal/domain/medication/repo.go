package medication

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type OrderRepository interface {
	Create(ctx context.Context, o *MedicationOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicationOrder, error)
	Update(ctx context.Context, o *MedicationOrder) error
	List(ctx context.Context, limit, offset int) ([]*MedicationOrder, int, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*MedicationOrder, int, error)
	// ExpireBefore marks approved orders whose expiry date has passed as
	// expired. Returns the IDs of orders it transitioned.
	ExpireBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

type ScheduleRepository interface {
	CreateBatch(ctx context.Context, schedules []*DoseSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*DoseSchedule, error)
	Update(ctx context.Context, s *DoseSchedule) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*DoseSchedule, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) error
	// ListUnresolved returns non-terminal schedules due before the cutoff,
	// the reminder coordinator's scan set.
	ListUnresolved(ctx context.Context, dueBefore time.Time) ([]*DoseSchedule, error)
	// CountUnresolved counts non-terminal schedules for an order.
	CountUnresolved(ctx context.Context, orderID uuid.UUID) (int, error)
}

type AdministrationRepository interface {
	Create(ctx context.Context, e *AdministrationEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*AdministrationEvent, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]*AdministrationEvent, int, error)
}

type StockRepository interface {
	Append(ctx context.Context, e *StockEntry) error
	ListByOrder(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]*StockEntry, int, error)
	// Balance replays the ledger: the signed sum of all movements.
	Balance(ctx context.Context, orderID uuid.UUID) (int, error)
}

type UsageHistoryRepository interface {
	Create(ctx context.Context, e *UsageHistoryEntry) error
	ListByOrder(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]*UsageHistoryEntry, int, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*UsageHistoryEntry, int, error)
}

// TxRunner executes fn as one atomic unit: every repository write inside
// fn commits together or not at all. The pgx implementation routes the
// queries through a shared transaction on the derived context.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AttendanceSource answers whether a student was present on a given day.
// The school attendance system implements it; an in-memory implementation
// ships for development and tests.
type AttendanceSource interface {
	Present(ctx context.Context, studentID uuid.UUID, day time.Time) (bool, error)
}
