package availability

import "time"

// SlotsNeeded is the number of consecutive cells a session of the given
// length occupies.
func SlotsNeeded(durationMinutes int) int {
	if durationMinutes <= 0 {
		return 0
	}
	return (durationMinutes + 29) / 30
}

type cellIndex map[int64]Slot

func indexSlots(grid []Slot) cellIndex {
	idx := make(cellIndex, len(grid))
	for _, s := range grid {
		idx[s.Start.Unix()] = s
	}
	return idx
}

// fits reports whether the run of cells starting at s is all bookable.
// Booked cells never count toward a run.
func (idx cellIndex) fits(s Slot, durationMinutes int) bool {
	n := SlotsNeeded(durationMinutes)
	if n == 0 {
		return false
	}
	for k := 0; k < n; k++ {
		cell, ok := idx[s.Start.Add(SlotLength*time.Duration(k)).Unix()]
		if !ok || !cell.Bookable() {
			return false
		}
	}
	return true
}

// CanAccommodate reports whether a session of durationMinutes can start at s.
func CanAccommodate(grid []Slot, s Slot, durationMinutes int) bool {
	return indexSlots(grid).fits(s, durationMinutes)
}

// Annotate returns a copy of grid with both accommodation flags computed.
func Annotate(grid []Slot) []Slot {
	idx := indexSlots(grid)
	out := make([]Slot, len(grid))
	for i, s := range grid {
		s.CanAccommodateConsultation = idx.fits(s, ConsultationMinutes)
		s.CanAccommodateTherapy = idx.fits(s, TherapyMinutes)
		out[i] = s
	}
	return out
}

// FilterForDuration returns the slots that can start a session of
// durationMinutes, with accommodation flags set.
func FilterForDuration(grid []Slot, durationMinutes int) []Slot {
	idx := indexSlots(grid)
	out := make([]Slot, 0)
	for _, s := range Annotate(grid) {
		if idx.fits(s, durationMinutes) {
			out = append(out, s)
		}
	}
	return out
}

// PatientView keeps only the slots that can start at least one kind of session.
func PatientView(grid []Slot) []Slot {
	out := make([]Slot, 0)
	for _, s := range Annotate(grid) {
		if s.CanAccommodateConsultation || s.CanAccommodateTherapy {
			out = append(out, s)
		}
	}
	return out
}
