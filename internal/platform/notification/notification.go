package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind classifies engine notifications.
type Kind string

const (
	KindReminder   Kind = "reminder"
	KindOverdue    Kind = "overdue"
	KindLowStock   Kind = "low_stock"
	KindEscalation Kind = "escalation"
)

// Status tracks delivery of a single request.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Request is one notification to deliver. Payload carries template
// variables (student, medication, time, balance and so on).
type Request struct {
	ID         uuid.UUID         `json:"id"`
	Kind       Kind              `json:"kind"`
	OrderID    uuid.UUID         `json:"order_id"`
	ScheduleID *uuid.UUID        `json:"schedule_id,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	Message    string            `json:"message,omitempty"`
	Status     Status            `json:"status"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	SentAt     *time.Time        `json:"sent_at,omitempty"`
}

// Sender delivers a rendered request over some channel.
type Sender interface {
	Send(ctx context.Context, req *Request) error
}

// LogSender writes notifications to the application log. The default
// channel in development; real transports register in its place.
type LogSender struct {
	Logger zerolog.Logger
}

func (s *LogSender) Send(_ context.Context, req *Request) error {
	s.Logger.Info().
		Str("kind", string(req.Kind)).
		Str("order_id", req.OrderID.String()).
		Str("message", req.Message).
		Msg("notification")
	return nil
}

// MockSender records sent requests for tests.
type MockSender struct {
	mu         sync.Mutex
	Sent       []*Request
	ShouldFail bool
}

func (s *MockSender) Send(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ShouldFail {
		return fmt.Errorf("mock sender failure")
	}
	s.Sent = append(s.Sent, req)
	return nil
}

func (s *MockSender) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}

func (s *MockSender) ByKind(kind Kind) []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Request
	for _, r := range s.Sent {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// defaultTemplates render message bodies per kind. {{key}} placeholders
// resolve from the request payload.
var defaultTemplates = map[Kind]string{
	KindReminder:   "Dose due at {{time}}: {{medication}} {{dosage}} for {{student}}.",
	KindOverdue:    "OVERDUE: {{medication}} {{dosage}} for {{student}} was due at {{time}}.",
	KindLowStock:   "Low stock for {{student}}'s {{medication}}: {{balance}} remaining (threshold {{threshold}}).",
	KindEscalation: "ESCALATION: dose of {{medication}} for {{student}} due at {{time}} remains unhandled after {{reminders}} reminders.",
}

// TemplateEngine renders notification bodies.
type TemplateEngine struct {
	templates map[Kind]string
}

func NewTemplateEngine() *TemplateEngine {
	t := make(map[Kind]string, len(defaultTemplates))
	for k, v := range defaultTemplates {
		t[k] = v
	}
	return &TemplateEngine{templates: t}
}

// SetTemplate overrides the body template for a kind.
func (e *TemplateEngine) SetTemplate(kind Kind, tmpl string) {
	e.templates[kind] = tmpl
}

func (e *TemplateEngine) Render(kind Kind, payload map[string]string) string {
	tmpl, ok := e.templates[kind]
	if !ok {
		return string(kind)
	}
	out := tmpl
	for k, v := range payload {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

// Store keeps dispatched requests for inspection.
type Store interface {
	Save(req *Request)
	ListByOrder(orderID uuid.UUID) []*Request
	Stats() map[string]int
}

// InMemoryStore is the default Store.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests []*Request
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Save(req *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
}

func (s *InMemoryStore) ListByOrder(orderID uuid.UUID) []*Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Request
	for _, r := range s.requests {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out
}

func (s *InMemoryStore) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := map[string]int{"total": len(s.requests)}
	for _, r := range s.requests {
		stats["kind_"+string(r.Kind)]++
		stats["status_"+string(r.Status)]++
	}
	return stats
}

// Dispatcher renders and delivers notifications. Delivery is
// fire-and-forget from the engine's point of view: failures are logged
// and recorded on the request, never propagated into engine state.
type Dispatcher struct {
	sender    Sender
	templates *TemplateEngine
	store     Store
	logger    zerolog.Logger
}

func NewDispatcher(sender Sender, store Store, logger zerolog.Logger) *Dispatcher {
	if store == nil {
		store = NewInMemoryStore()
	}
	return &Dispatcher{
		sender:    sender,
		templates: NewTemplateEngine(),
		store:     store,
		logger:    logger,
	}
}

// Dispatch renders the request, hands it to the sender and records the
// outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.CreatedAt = time.Now()
	req.Status = StatusPending
	req.Message = d.templates.Render(req.Kind, req.Payload)

	if err := d.sender.Send(ctx, &req); err != nil {
		req.Status = StatusFailed
		req.Error = err.Error()
		d.logger.Warn().
			Err(err).
			Str("kind", string(req.Kind)).
			Str("order_id", req.OrderID.String()).
			Msg("notification delivery failed")
	} else {
		now := time.Now()
		req.Status = StatusSent
		req.SentAt = &now
	}
	d.store.Save(&req)
}

// ListByOrder returns dispatched requests for an order.
func (d *Dispatcher) ListByOrder(orderID uuid.UUID) []*Request {
	return d.store.ListByOrder(orderID)
}

// Stats returns dispatch counters by kind and status.
func (d *Dispatcher) Stats() map[string]int {
	return d.store.Stats()
}
