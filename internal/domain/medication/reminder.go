package medication

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/schoolmed/schoolmed/internal/platform/notification"
)

// ReminderConfig holds the coordinator's scan windows.
type ReminderConfig struct {
	Interval      time.Duration
	LeadWindow    time.Duration
	OverdueWindow time.Duration
	MaxReminders  int
}

func DefaultReminderConfig() ReminderConfig {
	return ReminderConfig{
		Interval:      time.Minute,
		LeadWindow:    15 * time.Minute,
		OverdueWindow: 30 * time.Minute,
		MaxReminders:  3,
	}
}

// Coordinator periodically scans unresolved dose schedules and emits
// reminders, overdue alerts and escalations. Every emission is recorded
// on the schedule so a pass never notifies the same instance twice, and
// re-emission for still-unresolved doses stays bounded by MaxReminders
// before a single escalation.
type Coordinator struct {
	schedules  ScheduleRepository
	orders     OrderRepository
	attendance AttendanceSource
	notify     Notifier
	cfg        ReminderConfig
	log        zerolog.Logger
	now        func() time.Time
}

func NewCoordinator(schedules ScheduleRepository, orders OrderRepository, attendance AttendanceSource, notify Notifier, cfg ReminderConfig, log zerolog.Logger) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Coordinator{
		schedules:  schedules,
		orders:     orders,
		attendance: attendance,
		notify:     notify,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// Start runs the scan loop until the context is canceled. Call it in its
// own goroutine.
func (c *Coordinator) Start(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.log.Info().
		Dur("interval", c.cfg.Interval).
		Dur("lead_window", c.cfg.LeadWindow).
		Dur("overdue_window", c.cfg.OverdueWindow).
		Msg("reminder coordinator started")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("reminder coordinator stopped")
			return
		case <-ticker.C:
			if _, err := c.RunOnce(ctx); err != nil {
				c.log.Error().Err(err).Msg("reminder pass failed")
			}
		}
	}
}

// RunOnce executes a single pass: expire lapsed orders, then walk the
// unresolved schedules due within the lead window. Returns the number of
// notifications emitted.
func (c *Coordinator) RunOnce(ctx context.Context) (int, error) {
	now := c.now()

	expired, err := c.orders.ExpireBefore(ctx, DateOf(now))
	if err != nil {
		return 0, err
	}
	if len(expired) > 0 {
		c.log.Info().Int("orders", len(expired)).Msg("orders expired")
	}

	due, err := c.schedules.ListUnresolved(ctx, now.Add(c.cfg.LeadWindow))
	if err != nil {
		return 0, err
	}

	orderCache := make(map[uuid.UUID]*MedicationOrder)
	emitted := 0
	for _, sched := range due {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}
		order, ok := orderCache[sched.OrderID]
		if !ok {
			order, err = c.orders.GetByID(ctx, sched.OrderID)
			if err != nil {
				c.log.Warn().Err(err).Str("order_id", sched.OrderID.String()).Msg("skipping schedule with missing order")
				continue
			}
			orderCache[sched.OrderID] = order
		}
		if order.Status != OrderStatusApproved {
			continue
		}
		if c.process(ctx, order, sched, now) {
			emitted++
		}
	}
	return emitted, nil
}

// process emits at most one notification for the schedule this pass.
func (c *Coordinator) process(ctx context.Context, order *MedicationOrder, sched *DoseSchedule, now time.Time) bool {
	// Orders flagged to skip on absence stay silent while attendance
	// reports the student out for the day.
	if order.SkipOnAbsence && c.attendance != nil {
		present, err := c.attendance.Present(ctx, order.StudentID, sched.ScheduledDate)
		if err != nil {
			c.log.Warn().Err(err).Str("schedule_id", sched.ID.String()).Msg("attendance lookup failed")
		} else if !present {
			return false
		}
	}

	dueAt := sched.DueAt()
	payload := map[string]string{
		"student":    order.StudentID.String(),
		"medication": order.MedicationName,
		"dosage":     sched.Dosage,
		"time":       dueAt.Format("15:04"),
		"reminders":  strconv.Itoa(sched.ReminderCount),
	}
	schedID := sched.ID

	switch {
	case now.After(dueAt.Add(c.cfg.OverdueWindow)):
		if sched.ReminderCount >= c.cfg.MaxReminders {
			if sched.EscalationSent {
				return false
			}
			sched.EscalationSent = true
			if err := c.schedules.Update(ctx, sched); err != nil {
				c.log.Error().Err(err).Str("schedule_id", sched.ID.String()).Msg("persist escalation flag")
				return false
			}
			c.notify.Dispatch(ctx, notification.Request{
				Kind:       notification.KindEscalation,
				OrderID:    order.ID,
				ScheduleID: &schedID,
				Payload:    payload,
			})
			return true
		}
		sched.ReminderSent = true
		sched.ReminderCount++
		if err := c.schedules.Update(ctx, sched); err != nil {
			c.log.Error().Err(err).Str("schedule_id", sched.ID.String()).Msg("persist reminder counter")
			return false
		}
		c.notify.Dispatch(ctx, notification.Request{
			Kind:       notification.KindOverdue,
			OrderID:    order.ID,
			ScheduleID: &schedID,
			Payload:    payload,
		})
		return true

	case !sched.ReminderSent && now.After(dueAt.Add(-c.cfg.LeadWindow)):
		sched.ReminderSent = true
		sched.ReminderCount++
		if err := c.schedules.Update(ctx, sched); err != nil {
			c.log.Error().Err(err).Str("schedule_id", sched.ID.String()).Msg("persist reminder flag")
			return false
		}
		c.notify.Dispatch(ctx, notification.Request{
			Kind:       notification.KindReminder,
			OrderID:    order.ID,
			ScheduleID: &schedID,
			Payload:    payload,
		})
		return true
	}
	return false
}
