package availability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"therapycal/internal/models"
)

func TestSlotsNeeded(t *testing.T) {
	assert.Equal(t, 1, SlotsNeeded(30))
	assert.Equal(t, 2, SlotsNeeded(50))
	assert.Equal(t, 2, SlotsNeeded(60))
	assert.Equal(t, 3, SlotsNeeded(61))
	assert.Equal(t, 0, SlotsNeeded(0))
}

func TestFilterForTherapyNeedsTwoCells(t *testing.T) {
	b := NewBuilder(Classifier{}, cet)
	grid := b.Build([]models.Event{typed("a", models.AvailableSlot, "09:00", "10:30")}, monday, 1, GridOptions{})
	assert.Equal(t, []string{"09:00", "09:30", "10:00"}, times(grid))

	therapy := FilterForDuration(grid, TherapyMinutes)
	assert.Equal(t, []string{"09:00", "09:30"}, times(therapy))

	consult := FilterForDuration(grid, ConsultationMinutes)
	assert.Equal(t, []string{"09:00", "09:30", "10:00"}, times(consult))
}

func TestBookedCellsNeverCountTowardRuns(t *testing.T) {
	b := NewBuilder(Classifier{}, cet)
	events := []models.Event{
		typed("a", models.AvailableSlot, "09:00", "11:00"),
		session("s", "09:30", 30),
	}
	grid := Annotate(b.Build(events, monday, 1, GridOptions{}))
	byTime := map[string]Slot{}
	for _, s := range grid {
		byTime[s.Time] = s
	}

	assert.True(t, byTime["09:00"].CanAccommodateConsultation)
	assert.False(t, byTime["09:00"].CanAccommodateTherapy, "09:30 is booked")
	assert.False(t, byTime["09:30"].CanAccommodateConsultation)
	assert.False(t, byTime["09:30"].CanAccommodateTherapy)
	assert.True(t, byTime["10:00"].CanAccommodateTherapy)
	assert.False(t, byTime["10:30"].CanAccommodateTherapy, "11:00 is not in the grid")
}

func TestPatientViewDropsUnusableSlots(t *testing.T) {
	b := NewBuilder(Classifier{}, cet)
	events := []models.Event{
		typed("a", models.AvailableSlot, "09:00", "10:00"),
		session("s", "10:00", 50),
		typed("m", models.ModifiedDay, "14:00", "15:00"),
	}
	view := PatientView(b.Build(events, monday, 1, GridOptions{}))
	assert.Equal(t, []string{"09:00", "09:30", "14:00", "14:30"}, times(view))
	assert.True(t, view[0].CanAccommodateTherapy)
	assert.False(t, view[1].CanAccommodateTherapy)
	assert.True(t, view[1].CanAccommodateConsultation)
	assert.Equal(t, StatusModified, view[2].Status)
}

func TestAnnotateDoesNotMutateInput(t *testing.T) {
	grid := NewBuilder(Classifier{}, cet).Build([]models.Event{typed("a", models.AvailableSlot, "09:00", "10:00")}, monday, 1, GridOptions{})
	_ = Annotate(grid)
	for _, s := range grid {
		assert.False(t, s.CanAccommodateConsultation)
	}
}
