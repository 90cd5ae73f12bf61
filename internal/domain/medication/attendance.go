package medication

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryAttendance is an AttendanceSource backed by a map, used in
// development mode and tests. Students default to present; absences are
// recorded explicitly.
type InMemoryAttendance struct {
	mu      sync.RWMutex
	absents map[string]bool
}

func NewInMemoryAttendance() *InMemoryAttendance {
	return &InMemoryAttendance{absents: make(map[string]bool)}
}

func attendanceKey(studentID uuid.UUID, day time.Time) string {
	return studentID.String() + "/" + DateOf(day).Format("2006-01-02")
}

// MarkAbsent records a student as absent on a day.
func (a *InMemoryAttendance) MarkAbsent(studentID uuid.UUID, day time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.absents[attendanceKey(studentID, day)] = true
}

func (a *InMemoryAttendance) Present(_ context.Context, studentID uuid.UUID, day time.Time) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.absents[attendanceKey(studentID, day)], nil
}
