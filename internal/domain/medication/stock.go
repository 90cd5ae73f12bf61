package medication

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/schoolmed/schoolmed/internal/platform/notification"
)

// Notifier is the engine's outbound notification contract. Dispatch is
// fire-and-forget; it never fails engine operations.
type Notifier interface {
	Dispatch(ctx context.Context, req notification.Request)
}

// AddStockInput describes one guardian drop-off batch.
type AddStockInput struct {
	Quantity    int        `json:"quantity"`
	Unit        string     `json:"unit"`
	BatchExpiry *time.Time `json:"batch_expiry,omitempty"`
	DepositedBy uuid.UUID  `json:"deposited_by"`
	Note        string     `json:"note,omitempty"`
}

// Ledger manages an order's append-only stock ledger. Balance is always
// derived by replaying movements; the order row carries no stock counter.
// Callers serialize per order; the ledger itself does not lock.
type Ledger struct {
	stock  StockRepository
	orders OrderRepository
	notify Notifier
	log    zerolog.Logger
}

func NewLedger(stock StockRepository, orders OrderRepository, notify Notifier, log zerolog.Logger) *Ledger {
	return &Ledger{stock: stock, orders: orders, notify: notify, log: log}
}

// AddStock appends a deposit line for a drop-off batch. Batches are never
// merged so each remains individually auditable. A successful deposit
// rearms the low-stock alert latch.
func (l *Ledger) AddStock(ctx context.Context, order *MedicationOrder, in AddStockInput) (*StockEntry, error) {
	if in.Quantity < 1 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	entry := &StockEntry{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Movement:    StockMovementDeposit,
		Quantity:    in.Quantity,
		Unit:        in.Unit,
		BatchExpiry: in.BatchExpiry,
		Note:        in.Note,
	}
	if in.DepositedBy != uuid.Nil {
		by := in.DepositedBy
		entry.DepositedBy = &by
	}
	if err := l.stock.Append(ctx, entry); err != nil {
		return nil, err
	}
	if order.LowStockAlertSent {
		order.LowStockAlertSent = false
		if err := l.orders.Update(ctx, order); err != nil {
			return nil, err
		}
	}
	l.log.Info().
		Str("order_id", order.ID.String()).
		Int("quantity", in.Quantity).
		Msg("stock deposited")
	return entry, nil
}

// Balance replays the order's ledger.
func (l *Ledger) Balance(ctx context.Context, orderID uuid.UUID) (int, error) {
	return l.stock.Balance(ctx, orderID)
}

// Consume appends a consumption line for an administration. When the
// balance cannot cover the quantity it returns InsufficientStockError and
// mutates nothing. Crossing the order's threshold emits a single low-stock
// notification until the latch is reset by the next deposit.
func (l *Ledger) Consume(ctx context.Context, order *MedicationOrder, quantity int, sourceEventID uuid.UUID) error {
	if quantity < 1 {
		return &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	balance, err := l.stock.Balance(ctx, order.ID)
	if err != nil {
		return err
	}
	if quantity > balance {
		return &InsufficientStockError{OrderID: order.ID, Requested: quantity, Available: balance}
	}

	src := sourceEventID
	entry := &StockEntry{
		ID:            uuid.New(),
		OrderID:       order.ID,
		Movement:      StockMovementConsumption,
		Quantity:      quantity,
		Unit:          order.Unit,
		SourceEventID: &src,
	}
	if err := l.stock.Append(ctx, entry); err != nil {
		return err
	}

	remaining := balance - quantity
	if remaining <= order.MinStockThreshold && !order.LowStockAlertSent {
		order.LowStockAlertSent = true
		if err := l.orders.Update(ctx, order); err != nil {
			return err
		}
		l.notify.Dispatch(ctx, notification.Request{
			Kind:    notification.KindLowStock,
			OrderID: order.ID,
			Payload: map[string]string{
				"student":    order.StudentID.String(),
				"medication": order.MedicationName,
				"balance":    strconv.Itoa(remaining),
				"threshold":  strconv.Itoa(order.MinStockThreshold),
			},
		})
	}
	return nil
}

// Reverse appends a reversal line giving quantity back to the ledger,
// tagged with the administration event that triggered it. Reversals are
// distinct from deposits so corrected history stays readable.
func (l *Ledger) Reverse(ctx context.Context, order *MedicationOrder, quantity int, sourceEventID uuid.UUID, note string) (*StockEntry, error) {
	if quantity < 1 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	src := sourceEventID
	entry := &StockEntry{
		ID:            uuid.New(),
		OrderID:       order.ID,
		Movement:      StockMovementReversal,
		Quantity:      quantity,
		Unit:          order.Unit,
		SourceEventID: &src,
		Note:          note,
	}
	if err := l.stock.Append(ctx, entry); err != nil {
		return nil, err
	}
	l.log.Info().
		Str("order_id", order.ID.String()).
		Int("quantity", quantity).
		Str("source_event", sourceEventID.String()).
		Msg("stock reversed")
	return entry, nil
}
