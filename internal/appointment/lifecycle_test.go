package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := map[AppointmentStatus][]AppointmentStatus{
		StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow},
		StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
		StatusInProgress: {StatusCompleted},
	}
	all := []AppointmentStatus{
		StatusScheduled, StatusConfirmed, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow,
	}

	for _, from := range all {
		for _, to := range all {
			want := from == to
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_UnknownStatus(t *testing.T) {
	assert.False(t, CanTransition("pending", "pending"))
	assert.False(t, CanTransition(StatusScheduled, "pending"))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusNoShow.IsTerminal())
	assert.False(t, StatusScheduled.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
}

func TestNeedsRevalidation(t *testing.T) {
	when := at(11, 0)
	duration := 45
	notes := "bring x-rays"

	assert.True(t, NeedsRevalidation(StatusScheduled, Update{ScheduledDate: &when}))
	assert.True(t, NeedsRevalidation(StatusConfirmed, Update{Duration: &duration}))
	assert.True(t, NeedsRevalidation(StatusCompleted, Update{ScheduledDate: &when}))
	assert.False(t, NeedsRevalidation(StatusScheduled, Update{Notes: &notes}))
	assert.False(t, NeedsRevalidation(StatusCancelled, Update{ScheduledDate: &when}))
}

func TestCanDelete(t *testing.T) {
	assert.True(t, CanDelete(StatusScheduled))
	for _, s := range []AppointmentStatus{StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow} {
		assert.False(t, CanDelete(s), s)
	}
}

func TestParseStatusAndType(t *testing.T) {
	s, err := ParseStatus("no-show")
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, s)

	_, err = ParseStatus("done")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	typ, err := ParseType("follow-up")
	require.NoError(t, err)
	assert.Equal(t, TypeFollowUp, typ)

	_, err = ParseType("surgery")
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestUpdateApply(t *testing.T) {
	original := Appointment{
		ScheduledDate: at(9, 0),
		Duration:      30,
		Status:        StatusScheduled,
		Symptoms:      []string{"cough"},
	}
	when := at(14, 0)
	status := StatusConfirmed
	symptoms := []string{"fever"}

	got := Update{ScheduledDate: &when, Status: &status, Symptoms: &symptoms}.Apply(original)

	assert.Equal(t, when, got.ScheduledDate)
	assert.Equal(t, 30, got.Duration)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, []string{"fever"}, got.Symptoms)
	assert.Equal(t, at(9, 0), original.ScheduledDate, "apply must not mutate the input")

	symptoms[0] = "changed"
	assert.Equal(t, "fever", got.Symptoms[0], "symptoms are copied")
	assert.Equal(t, at(14, 30), got.EndsAt())
	assert.Equal(t, time.Duration(30)*time.Minute, got.Interval().End.Sub(got.Interval().Start))
}
