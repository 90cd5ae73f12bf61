package medication

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Generator expands an order's recurrence configuration into concrete dose
// schedules. Day parts resolve against site-configured default times.
type Generator struct {
	dayPartTimes map[DayPart]TimeOfDay
}

func NewGenerator(dayPartTimes map[DayPart]TimeOfDay) *Generator {
	return &Generator{dayPartTimes: dayPartTimes}
}

// resolveTimes turns the recurrence config into a sorted list of concrete
// administration times for one day.
func (g *Generator) resolveTimes(rc RecurrenceConfig) ([]TimeOfDay, error) {
	var times []TimeOfDay
	if len(rc.DayParts) > 0 {
		for _, p := range rc.DayParts {
			t, ok := g.dayPartTimes[p]
			if !ok {
				return nil, &ValidationError{Field: "day_parts", Reason: "no default time configured for day part " + string(p)}
			}
			times = append(times, t)
		}
	} else {
		times = append(times, rc.Times...)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times, nil
}

// Generate expands the order's validity window into dose schedules with
// strictly increasing sequence numbers. Weekend days (when configured) and
// skip dates produce no instances. An expansion yielding zero instances is
// a validation error so a misconfigured order surfaces immediately.
func (g *Generator) Generate(ctx context.Context, order *MedicationOrder) ([]*DoseSchedule, error) {
	if err := order.Recurrence.Validate(); err != nil {
		return nil, err
	}
	if order.ExpiryDate.Before(order.StartDate) {
		return nil, &ValidationError{Field: "expiry_date", Reason: "expiry precedes start"}
	}

	times, err := g.resolveTimes(order.Recurrence)
	if err != nil {
		return nil, err
	}

	var schedules []*DoseSchedule
	seq := 1
	start := DateOf(order.StartDate)
	end := DateOf(order.ExpiryDate)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if order.Recurrence.SkipWeekends && isWeekend(day) {
			continue
		}
		if order.Recurrence.SkipsDate(day) {
			continue
		}
		for _, t := range times {
			schedules = append(schedules, &DoseSchedule{
				ID:            uuid.New(),
				OrderID:       order.ID,
				ScheduledDate: day,
				ScheduledTime: t,
				SequenceNo:    seq,
				Dosage:        order.Dosage,
				Status:        ScheduleStatusPending,
			})
			seq++
		}
	}

	if len(schedules) == 0 {
		return nil, &ValidationError{Field: "recurrence", Reason: "expansion produced no dose instances"}
	}
	return schedules, nil
}

// Regenerate recomputes an order's plan after an edit. Resolved schedules
// and Pending schedules dated today or earlier are preserved untouched;
// only future Pending instances are replaced. Returns the kept schedules
// followed by the new ones, and the IDs of replaced schedules.
func (g *Generator) Regenerate(ctx context.Context, order *MedicationOrder, existing []*DoseSchedule, now time.Time) (kept []*DoseSchedule, created []*DoseSchedule, replaced []uuid.UUID, err error) {
	today := DateOf(now)
	maxSeq := 0
	keptDue := make(map[int64]bool)
	for _, s := range existing {
		if s.SequenceNo > maxSeq {
			maxSeq = s.SequenceNo
		}
		if s.Status == ScheduleStatusPending && s.ScheduledDate.After(today) {
			replaced = append(replaced, s.ID)
			continue
		}
		kept = append(kept, s)
		keptDue[s.DueAt().Unix()] = true
	}

	generated, err := g.Generate(ctx, order)
	if err != nil {
		return nil, nil, nil, err
	}

	seq := maxSeq
	for _, s := range generated {
		if !s.ScheduledDate.After(today) {
			continue
		}
		// An edit may leave some slots in place; a kept schedule already
		// covers those.
		if keptDue[s.DueAt().Unix()] {
			continue
		}
		seq++
		s.SequenceNo = seq
		created = append(created, s)
	}
	return kept, created, replaced, nil
}

func isWeekend(day time.Time) bool {
	wd := day.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
