package medication

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("08:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tod.Hour != 8 || tod.Minute != 30 {
		t.Errorf("expected 08:30, got %02d:%02d", tod.Hour, tod.Minute)
	}
	if tod.String() != "08:30" {
		t.Errorf("expected string 08:30, got %s", tod.String())
	}
}

func TestParseTimeOfDay_Invalid(t *testing.T) {
	for _, s := range []string{"8am", "25:00", "12:75", "", "8:30", "08:00xyz", "08:0", " 08:30"} {
		if _, err := ParseTimeOfDay(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestTimeOfDay_Ordering(t *testing.T) {
	a := TimeOfDay{Hour: 8, Minute: 30}
	b := TimeOfDay{Hour: 12, Minute: 0}
	if !a.Before(b) {
		t.Error("expected 08:30 before 12:00")
	}
	if b.Before(a) {
		t.Error("expected 12:00 not before 08:30")
	}
}

func TestTimeOfDay_JSON(t *testing.T) {
	raw, err := json.Marshal(TimeOfDay{Hour: 14, Minute: 5})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"14:05"` {
		t.Errorf("expected \"14:05\", got %s", raw)
	}
	var tod TimeOfDay
	if err := json.Unmarshal([]byte(`"09:15"`), &tod); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tod.Hour != 9 || tod.Minute != 15 {
		t.Errorf("expected 09:15, got %s", tod)
	}
}

func TestRecurrenceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rc      RecurrenceConfig
		wantErr bool
	}{
		{
			name: "valid explicit times",
			rc: RecurrenceConfig{
				FrequencyPerDay: 2,
				Times:           []TimeOfDay{{Hour: 8}, {Hour: 16}},
			},
		},
		{
			name: "valid day parts",
			rc: RecurrenceConfig{
				FrequencyPerDay: 2,
				DayParts:        []DayPart{DayPartMorning, DayPartNoon},
			},
		},
		{
			name:    "zero frequency",
			rc:      RecurrenceConfig{FrequencyPerDay: 0, Times: []TimeOfDay{{Hour: 8}}},
			wantErr: true,
		},
		{
			name: "both times and day parts",
			rc: RecurrenceConfig{
				FrequencyPerDay: 1,
				Times:           []TimeOfDay{{Hour: 8}},
				DayParts:        []DayPart{DayPartMorning},
			},
			wantErr: true,
		},
		{
			name:    "neither times nor day parts",
			rc:      RecurrenceConfig{FrequencyPerDay: 1},
			wantErr: true,
		},
		{
			name: "time count mismatch",
			rc: RecurrenceConfig{
				FrequencyPerDay: 3,
				Times:           []TimeOfDay{{Hour: 8}, {Hour: 16}},
			},
			wantErr: true,
		},
		{
			name: "day part count mismatch",
			rc: RecurrenceConfig{
				FrequencyPerDay: 1,
				DayParts:        []DayPart{DayPartMorning, DayPartNoon},
			},
			wantErr: true,
		},
		{
			name: "duplicate time",
			rc: RecurrenceConfig{
				FrequencyPerDay: 2,
				Times:           []TimeOfDay{{Hour: 8}, {Hour: 8}},
			},
			wantErr: true,
		},
		{
			name: "duplicate day part",
			rc: RecurrenceConfig{
				FrequencyPerDay: 2,
				DayParts:        []DayPart{DayPartNoon, DayPartNoon},
			},
			wantErr: true,
		},
		{
			name: "unknown day part",
			rc: RecurrenceConfig{
				FrequencyPerDay: 1,
				DayParts:        []DayPart{"midnight"},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rc.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr {
				var ve *ValidationError
				if err != nil && !errors.As(err, &ve) {
					t.Errorf("expected ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestRecurrenceConfig_SkipsDate(t *testing.T) {
	holiday := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	rc := RecurrenceConfig{SkipDates: []time.Time{holiday}}

	if !rc.SkipsDate(holiday.Add(9 * time.Hour)) {
		t.Error("expected same-day timestamp to be skipped")
	}
	if rc.SkipsDate(holiday.AddDate(0, 0, 1)) {
		t.Error("expected next day not skipped")
	}
}

func TestScheduleStatus_Terminal(t *testing.T) {
	terminal := []ScheduleStatus{ScheduleStatusAdministered, ScheduleStatusMissed, ScheduleStatusStudentAbsent}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	open := []ScheduleStatus{ScheduleStatusPending, ScheduleStatusAwaitingConfirmation}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("expected %s not terminal", s)
		}
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusRejected, OrderStatusCompleted, OrderStatusExpired} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderStatusPendingApproval, OrderStatusApproved} {
		if s.Terminal() {
			t.Errorf("expected %s not terminal", s)
		}
	}
}

func TestStockMovement_Signed(t *testing.T) {
	if got := StockMovementDeposit.Signed(5); got != 5 {
		t.Errorf("deposit: expected +5, got %d", got)
	}
	if got := StockMovementConsumption.Signed(5); got != -5 {
		t.Errorf("consumption: expected -5, got %d", got)
	}
	if got := StockMovementReversal.Signed(2); got != 2 {
		t.Errorf("reversal: expected +2, got %d", got)
	}
}

func TestDoseSchedule_DueAt(t *testing.T) {
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	s := &DoseSchedule{ScheduledDate: day, ScheduledTime: TimeOfDay{Hour: 12, Minute: 30}}
	due := s.DueAt()
	if due.Hour() != 12 || due.Minute() != 30 || !SameDay(due, day) {
		t.Errorf("unexpected due time: %s", due)
	}
}

func TestApprovedMedicationOrder_Validate(t *testing.T) {
	valid := func() ApprovedMedicationOrder {
		return ApprovedMedicationOrder{
			StudentID:      uuid.New(),
			GuardianID:     uuid.New(),
			MedicationName: "Salbutamol",
			Dosage:         "2 puffs",
			DoseQuantity:   1,
			Recurrence: RecurrenceConfig{
				FrequencyPerDay: 1,
				Times:           []TimeOfDay{{Hour: 12}},
			},
			StartDate:  time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			ExpiryDate: time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}

	mutations := map[string]func(*ApprovedMedicationOrder){
		"missing student":    func(a *ApprovedMedicationOrder) { a.StudentID = uuid.Nil },
		"missing medication": func(a *ApprovedMedicationOrder) { a.MedicationName = "  " },
		"missing dosage":     func(a *ApprovedMedicationOrder) { a.Dosage = "" },
		"zero dose quantity": func(a *ApprovedMedicationOrder) { a.DoseQuantity = 0 },
		"expiry before start": func(a *ApprovedMedicationOrder) {
			a.ExpiryDate = a.StartDate.AddDate(0, 0, -1)
		},
		"negative threshold": func(a *ApprovedMedicationOrder) { a.MinStockThreshold = -1 },
		"bad recurrence":     func(a *ApprovedMedicationOrder) { a.Recurrence.Times = nil },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			payload := valid()
			mutate(&payload)
			if err := payload.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
