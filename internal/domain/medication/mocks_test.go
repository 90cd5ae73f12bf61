package medication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/schoolmed/schoolmed/internal/platform/notification"
)

// -- Mock Repositories --
//
// The mocks guard their maps and hand out copies so tests exercising the
// service's per-order locking observe reload semantics instead of shared
// pointers.

type mockOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*MedicationOrder
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[uuid.UUID]*MedicationOrder)}
}

func (m *mockOrderRepo) Create(_ context.Context, o *MedicationOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.CreatedAt = time.Now()
	o.UpdatedAt = time.Now()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*MedicationOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) Update(_ context.Context, o *MedicationOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		return fmt.Errorf("not found")
	}
	cp := *o
	cp.UpdatedAt = time.Now()
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) List(_ context.Context, limit, offset int) ([]*MedicationOrder, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*MedicationOrder
	for _, o := range m.orders {
		cp := *o
		result = append(result, &cp)
	}
	total := len(result)
	if offset >= len(result) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], total, nil
}

func (m *mockOrderRepo) ListByStudent(_ context.Context, studentID uuid.UUID, limit, offset int) ([]*MedicationOrder, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*MedicationOrder
	for _, o := range m.orders {
		if o.StudentID == studentID {
			cp := *o
			result = append(result, &cp)
		}
	}
	return result, len(result), nil
}

func (m *mockOrderRepo) ExpireBefore(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, o := range m.orders {
		if o.Status == OrderStatusApproved && o.ExpiryDate.Before(cutoff) {
			o.Status = OrderStatusExpired
			ids = append(ids, o.ID)
		}
	}
	return ids, nil
}

type mockScheduleRepo struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*DoseSchedule
}

func newMockScheduleRepo() *mockScheduleRepo {
	return &mockScheduleRepo{schedules: make(map[uuid.UUID]*DoseSchedule)}
}

func (m *mockScheduleRepo) CreateBatch(_ context.Context, schedules []*DoseSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range schedules {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		cp := *s
		m.schedules[s.ID] = &cp
	}
	return nil
}

func (m *mockScheduleRepo) GetByID(_ context.Context, id uuid.UUID) (*DoseSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *s
	return &cp, nil
}

func (m *mockScheduleRepo) Update(_ context.Context, s *DoseSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[s.ID]; !ok {
		return fmt.Errorf("not found")
	}
	cp := *s
	m.schedules[s.ID] = &cp
	return nil
}

func (m *mockScheduleRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*DoseSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*DoseSchedule
	for _, s := range m.schedules {
		if s.OrderID == orderID {
			cp := *s
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockScheduleRepo) DeleteByIDs(_ context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.schedules, id)
	}
	return nil
}

func (m *mockScheduleRepo) ListUnresolved(_ context.Context, dueBefore time.Time) ([]*DoseSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*DoseSchedule
	for _, s := range m.schedules {
		if s.Status != ScheduleStatusPending && s.Status != ScheduleStatusAwaitingConfirmation {
			continue
		}
		if s.DueAt().After(dueBefore) {
			continue
		}
		cp := *s
		result = append(result, &cp)
	}
	return result, nil
}

func (m *mockScheduleRepo) CountUnresolved(_ context.Context, orderID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.schedules {
		if s.OrderID == orderID && !s.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

type mockAdminRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]*AdministrationEvent
}

func newMockAdminRepo() *mockAdminRepo {
	return &mockAdminRepo{events: make(map[uuid.UUID]*AdministrationEvent)}
}

func (m *mockAdminRepo) Create(_ context.Context, e *AdministrationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	cp := *e
	m.events[e.ID] = &cp
	return nil
}

func (m *mockAdminRepo) GetByID(_ context.Context, id uuid.UUID) (*AdministrationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *e
	return &cp, nil
}

func (m *mockAdminRepo) ListByOrder(_ context.Context, orderID uuid.UUID, limit, offset int) ([]*AdministrationEvent, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*AdministrationEvent
	for _, e := range m.events {
		if e.OrderID == orderID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, len(result), nil
}

func (m *mockAdminRepo) byKind(kind EventKind) []*AdministrationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*AdministrationEvent
	for _, e := range m.events {
		if e.Kind == kind {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result
}

type mockStockRepo struct {
	mu      sync.Mutex
	entries []*StockEntry
}

func newMockStockRepo() *mockStockRepo {
	return &mockStockRepo{}
}

func (m *mockStockRepo) Append(_ context.Context, e *StockEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockStockRepo) ListByOrder(_ context.Context, orderID uuid.UUID, limit, offset int) ([]*StockEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*StockEntry
	for _, e := range m.entries {
		if e.OrderID == orderID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, len(result), nil
}

func (m *mockStockRepo) Balance(_ context.Context, orderID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := 0
	for _, e := range m.entries {
		if e.OrderID == orderID {
			balance += e.Movement.Signed(e.Quantity)
		}
	}
	return balance, nil
}

func (m *mockStockRepo) countByMovement(movement StockMovement) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.entries {
		if e.Movement == movement {
			count++
		}
	}
	return count
}

type mockUsageRepo struct {
	mu      sync.Mutex
	entries []*UsageHistoryEntry
}

func newMockUsageRepo() *mockUsageRepo {
	return &mockUsageRepo{}
}

func (m *mockUsageRepo) Create(_ context.Context, e *UsageHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockUsageRepo) ListByOrder(_ context.Context, orderID uuid.UUID, limit, offset int) ([]*UsageHistoryEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*UsageHistoryEntry
	for _, e := range m.entries {
		if e.OrderID == orderID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, len(result), nil
}

func (m *mockUsageRepo) ListByStudent(_ context.Context, studentID uuid.UUID, limit, offset int) ([]*UsageHistoryEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*UsageHistoryEntry
	for _, e := range m.entries {
		if e.StudentID == studentID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, len(result), nil
}

// mockNotifier records dispatched notifications.
type mockNotifier struct {
	mu   sync.Mutex
	sent []notification.Request
}

func (m *mockNotifier) Dispatch(_ context.Context, req notification.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, req)
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockNotifier) byKind(kind notification.Kind) []notification.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []notification.Request
	for _, r := range m.sent {
		if r.Kind == kind {
			result = append(result, r)
		}
	}
	return result
}

// envSnapshot captures the state of every mock repository so a failed
// transactional unit can be rolled back to it.
type envSnapshot struct {
	orders    map[uuid.UUID]*MedicationOrder
	schedules map[uuid.UUID]*DoseSchedule
	events    map[uuid.UUID]*AdministrationEvent
	stock     []*StockEntry
	usage     []*UsageHistoryEntry
}

// mockTxRunner emulates transactional semantics over the in-memory
// repositories: it snapshots their state before running fn and restores
// the snapshot when fn fails, so partial writes never survive.
type mockTxRunner struct {
	env *testEnv
}

func (m *mockTxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := m.env.snapshot()
	if err := fn(ctx); err != nil {
		m.env.restore(snap)
		return err
	}
	return nil
}

// -- Test fixtures --

func testDayParts() map[DayPart]TimeOfDay {
	return map[DayPart]TimeOfDay{
		DayPartMorning:   {Hour: 8, Minute: 30},
		DayPartNoon:      {Hour: 12, Minute: 0},
		DayPartAfternoon: {Hour: 14, Minute: 30},
		DayPartEvening:   {Hour: 17, Minute: 0},
	}
}

type testEnv struct {
	orders     *mockOrderRepo
	schedules  *mockScheduleRepo
	admins     *mockAdminRepo
	stock      *mockStockRepo
	usage      *mockUsageRepo
	notifier   *mockNotifier
	attendance *InMemoryAttendance
	ledger     *Ledger
	svc        *Service
}

func newTestEnv() *testEnv {
	env := &testEnv{
		orders:     newMockOrderRepo(),
		schedules:  newMockScheduleRepo(),
		admins:     newMockAdminRepo(),
		stock:      newMockStockRepo(),
		usage:      newMockUsageRepo(),
		notifier:   &mockNotifier{},
		attendance: NewInMemoryAttendance(),
	}
	logger := zerolog.Nop()
	env.ledger = NewLedger(env.stock, env.orders, env.notifier, logger)
	env.svc = NewService(env.orders, env.schedules, env.admins, env.usage,
		env.ledger, NewGenerator(testDayParts()), env.attendance,
		&mockTxRunner{env: env}, logger)
	return env
}

func (env *testEnv) snapshot() *envSnapshot {
	snap := &envSnapshot{
		orders:    make(map[uuid.UUID]*MedicationOrder),
		schedules: make(map[uuid.UUID]*DoseSchedule),
		events:    make(map[uuid.UUID]*AdministrationEvent),
	}
	env.orders.mu.Lock()
	for id, o := range env.orders.orders {
		cp := *o
		snap.orders[id] = &cp
	}
	env.orders.mu.Unlock()
	env.schedules.mu.Lock()
	for id, s := range env.schedules.schedules {
		cp := *s
		snap.schedules[id] = &cp
	}
	env.schedules.mu.Unlock()
	env.admins.mu.Lock()
	for id, e := range env.admins.events {
		cp := *e
		snap.events[id] = &cp
	}
	env.admins.mu.Unlock()
	env.stock.mu.Lock()
	snap.stock = append([]*StockEntry(nil), env.stock.entries...)
	env.stock.mu.Unlock()
	env.usage.mu.Lock()
	snap.usage = append([]*UsageHistoryEntry(nil), env.usage.entries...)
	env.usage.mu.Unlock()
	return snap
}

func (env *testEnv) restore(snap *envSnapshot) {
	env.orders.mu.Lock()
	env.orders.orders = snap.orders
	env.orders.mu.Unlock()
	env.schedules.mu.Lock()
	env.schedules.schedules = snap.schedules
	env.schedules.mu.Unlock()
	env.admins.mu.Lock()
	env.admins.events = snap.events
	env.admins.mu.Unlock()
	env.stock.mu.Lock()
	env.stock.entries = snap.stock
	env.stock.mu.Unlock()
	env.usage.mu.Lock()
	env.usage.entries = snap.usage
	env.usage.mu.Unlock()
}

// seedOrder stores an approved active order with sensible defaults.
func (env *testEnv) seedOrder(mutate func(*MedicationOrder)) *MedicationOrder {
	order := &MedicationOrder{
		ID:             uuid.New(),
		StudentID:      uuid.New(),
		GuardianID:     uuid.New(),
		MedicationName: "Methylphenidate",
		Dosage:         "10mg",
		DoseQuantity:   1,
		Unit:           "tablet",
		Recurrence: RecurrenceConfig{
			FrequencyPerDay: 1,
			Times:           []TimeOfDay{{Hour: 12, Minute: 0}},
		},
		StartDate:      DateOf(time.Now()),
		ExpiryDate:     DateOf(time.Now().AddDate(0, 0, 14)),
		TotalDoses:     14,
		RemainingDoses: 14,
		Status:         OrderStatusApproved,
		Lifecycle:      LifecycleActive,
	}
	if mutate != nil {
		mutate(order)
	}
	_ = env.orders.Create(context.Background(), order)
	return order
}

// seedSchedule stores a pending dose for the order.
func (env *testEnv) seedSchedule(order *MedicationOrder, due time.Time, mutate func(*DoseSchedule)) *DoseSchedule {
	sched := &DoseSchedule{
		ID:            uuid.New(),
		OrderID:       order.ID,
		ScheduledDate: DateOf(due),
		ScheduledTime: TimeOfDay{Hour: due.Hour(), Minute: due.Minute()},
		SequenceNo:    1,
		Dosage:        order.Dosage,
		Status:        ScheduleStatusPending,
	}
	if mutate != nil {
		mutate(sched)
	}
	_ = env.schedules.CreateBatch(context.Background(), []*DoseSchedule{sched})
	return sched
}

// seedStock appends a deposit directly, bypassing the ledger.
func (env *testEnv) seedStock(order *MedicationOrder, quantity int) {
	_ = env.stock.Append(context.Background(), &StockEntry{
		ID:       uuid.New(),
		OrderID:  order.ID,
		Movement: StockMovementDeposit,
		Quantity: quantity,
		Unit:     order.Unit,
	})
}
