package appointment

// State transitions:
//
//	scheduled → confirmed → in-progress → completed
//	scheduled → cancelled | no-show
//	confirmed → cancelled | no-show
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusNoShow:     {},
}

// CanTransition reports whether from may move to to. Staying in the same
// status is always allowed.
func CanTransition(from, to AppointmentStatus) bool {
	if from == to {
		return from.IsValid()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s AppointmentStatus) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// NeedsRevalidation reports whether applying u to a record currently in
// status requires a fresh conflict check.
func NeedsRevalidation(status AppointmentStatus, u Update) bool {
	return status != StatusCancelled && u.TouchesSchedule()
}

// CanDelete reports whether an appointment in status may be removed.
func CanDelete(status AppointmentStatus) bool {
	return status == StatusScheduled
}
