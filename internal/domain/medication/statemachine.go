package medication

// allowedTransitions is the closed dose status graph. Terminal states have
// no outgoing edges; fixes after resolution go through compensating
// administration events, never through status edits.
var allowedTransitions = map[ScheduleStatus][]ScheduleStatus{
	ScheduleStatusPending: {
		ScheduleStatusAwaitingConfirmation,
		ScheduleStatusAdministered,
		ScheduleStatusMissed,
		ScheduleStatusStudentAbsent,
	},
	ScheduleStatusAwaitingConfirmation: {
		ScheduleStatusAdministered,
		ScheduleStatusPending,
		ScheduleStatusMissed,
		ScheduleStatusStudentAbsent,
	},
	ScheduleStatusAdministered:  {},
	ScheduleStatusMissed:        {},
	ScheduleStatusStudentAbsent: {},
}

// CanTransition reports whether the status graph permits from -> to.
func CanTransition(from, to ScheduleStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves a schedule to the requested status or returns an
// InvalidStatusTransitionError. It only enforces the status graph;
// timing, stock and confirmation guards belong to the processor.
func Transition(s *DoseSchedule, to ScheduleStatus) error {
	if !to.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(to)}
	}
	if !CanTransition(s.Status, to) {
		return &InvalidStatusTransitionError{Current: s.Status, Requested: to}
	}
	s.Status = to
	return nil
}
