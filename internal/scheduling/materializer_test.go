package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-09-07 is a Monday.
var monday = time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

func window(providerID uuid.UUID, day, start, end, dur, cap int) AvailabilityWindow {
	return AvailabilityWindow{
		ID:                  uuid.New(),
		ProviderID:          providerID,
		DayOfWeek:           day,
		StartMinute:         start,
		EndMinute:           end,
		SlotDurationMinutes: dur,
		MaxBookingsPerSlot:  cap,
		IsAvailable:         true,
	}
}

func TestMaterializeNoWindows(t *testing.T) {
	got := MaterializeSlots(nil, OrgClinic, DateRange{From: monday, To: monday}, 30, false)
	assert.Empty(t, got)
}

func TestMaterializeMondayHour(t *testing.T) {
	providerID := uuid.New()
	w := window(providerID, 1, 540, 600, 30, 1) // Mon 09:00-10:00

	got := MaterializeSlots([]AvailabilityWindow{w}, OrgClinic, DateRange{From: monday, To: monday}, 30, false)

	require.Len(t, got, 2)
	assert.Equal(t, monday.Add(9*time.Hour), got[0].StartTime)
	assert.Equal(t, monday.Add(9*time.Hour+30*time.Minute), got[0].EndTime)
	assert.Equal(t, monday.Add(9*time.Hour+30*time.Minute), got[1].StartTime)
	assert.Equal(t, monday.Add(10*time.Hour), got[1].EndTime)
	for _, c := range got {
		assert.Equal(t, SlotRegular, c.Kind)
		assert.Equal(t, 1, c.Capacity)
		assert.Equal(t, providerID, c.ProviderID)
	}
}

func TestMaterializeSkipsBreakAndResumes(t *testing.T) {
	providerID := uuid.New()
	w := window(providerID, 1, 540, 720, 30, 2) // Mon 09:00-12:00
	breakStart, breakEnd := 600, 630            // 10:00-10:30
	w.BreakStartMinute = &breakStart
	w.BreakEndMinute = &breakEnd

	got := MaterializeSlots([]AvailabilityWindow{w}, OrgClinic, DateRange{From: monday, To: monday}, 30, false)

	starts := make([]int, 0, len(got))
	for _, c := range got {
		h, m, _ := c.StartTime.Clock()
		starts = append(starts, h*60+m)
	}
	// 10:00 falls inside the break, walk resumes at 10:30.
	assert.Equal(t, []int{540, 570, 630, 660, 690}, starts)
}

func TestMaterializeBreakPartialOverlap(t *testing.T) {
	providerID := uuid.New()
	w := window(providerID, 1, 540, 720, 60, 1) // Mon 09:00-12:00, hour slots
	breakStart, breakEnd := 630, 645            // break cuts the 10:00 step
	w.BreakStartMinute = &breakStart
	w.BreakEndMinute = &breakEnd

	got := MaterializeSlots([]AvailabilityWindow{w}, OrgClinic, DateRange{From: monday, To: monday}, 60, false)

	starts := make([]int, 0, len(got))
	for _, c := range got {
		h, m, _ := c.StartTime.Clock()
		starts = append(starts, h*60+m)
	}
	// 10:00-11:00 partially overlaps the break; resume at 10:45 so the last
	// full hour fitting before 12:00 starts there.
	assert.Equal(t, []int{540, 645}, starts)
}

func TestMaterializeDropsPartialStepAtWindowEnd(t *testing.T) {
	providerID := uuid.New()
	w := window(providerID, 1, 540, 610, 30, 1) // Mon 09:00-10:10

	got := MaterializeSlots([]AvailabilityWindow{w}, OrgClinic, DateRange{From: monday, To: monday}, 30, false)

	// 10:00-10:30 would poke past 10:10 and is dropped.
	require.Len(t, got, 2)
}

func TestMaterializeOverlappingWindowsExpandIndependently(t *testing.T) {
	providerID := uuid.New()
	a := window(providerID, 1, 540, 600, 30, 1)
	b := window(providerID, 1, 540, 600, 30, 1)

	got := MaterializeSlots([]AvailabilityWindow{a, b}, OrgClinic, DateRange{From: monday, To: monday}, 30, false)

	// Duplicates are intentional here; dedup is downstream's concern.
	assert.Len(t, got, 4)
}

func TestMaterializeSkipsInactiveWindowsAndOtherDays(t *testing.T) {
	providerID := uuid.New()
	inactive := window(providerID, 1, 540, 600, 30, 1)
	inactive.IsAvailable = false
	tuesday := window(providerID, 2, 540, 600, 30, 1)

	got := MaterializeSlots([]AvailabilityWindow{inactive, tuesday}, OrgClinic, DateRange{From: monday, To: monday}, 30, false)
	assert.Empty(t, got)
}

func TestMaterializeEmergencyOnlyForHospitals(t *testing.T) {
	providerID := uuid.New()
	w := window(providerID, 1, 540, 600, 30, 3)
	rng := DateRange{From: monday, To: monday}

	clinic := MaterializeSlots([]AvailabilityWindow{w}, OrgClinic, rng, 30, true)
	for _, c := range clinic {
		assert.Equal(t, SlotRegular, c.Kind)
	}

	hospital := MaterializeSlots([]AvailabilityWindow{w}, OrgHospital, rng, 30, true)
	require.Len(t, hospital, 3)
	em := hospital[2]
	assert.Equal(t, SlotEmergency, em.Kind)
	assert.Equal(t, monday.Add(9*time.Hour+45*time.Minute), em.StartTime)
	assert.Equal(t, monday.Add(10*time.Hour), em.EndTime)
	assert.Equal(t, 1, em.Capacity)
}

func TestMaterializeMultipleDays(t *testing.T) {
	providerID := uuid.New()
	w := window(providerID, 1, 540, 600, 30, 1)

	// Monday through next Monday: the rule fires twice.
	got := MaterializeSlots([]AvailabilityWindow{w}, OrgClinic, DateRange{From: monday, To: monday.AddDate(0, 0, 7)}, 30, false)
	assert.Len(t, got, 4)
}

func TestWindowsCover(t *testing.T) {
	providerID := uuid.New()
	w := window(providerID, 1, 540, 720, 30, 1) // Mon 09:00-12:00
	breakStart, breakEnd := 600, 630
	w.BreakStartMinute = &breakStart
	w.BreakEndMinute = &breakEnd
	windows := []AvailabilityWindow{w}

	at := func(h, m int) time.Time { return monday.Add(time.Duration(h*60+m) * time.Minute) }

	assert.True(t, WindowsCover(windows, TimeWindow{Start: at(9, 0), End: at(9, 30)}))
	assert.True(t, WindowsCover(windows, TimeWindow{Start: at(10, 30), End: at(11, 0)}))

	// Touches the break.
	assert.False(t, WindowsCover(windows, TimeWindow{Start: at(9, 45), End: at(10, 15)}))
	// Outside the window.
	assert.False(t, WindowsCover(windows, TimeWindow{Start: at(8, 0), End: at(8, 30)}))
	// Pokes past the end.
	assert.False(t, WindowsCover(windows, TimeWindow{Start: at(11, 45), End: at(12, 15)}))
	// Wrong day.
	tuesday := monday.AddDate(0, 0, 1)
	assert.False(t, WindowsCover(windows, TimeWindow{Start: tuesday.Add(9 * time.Hour), End: tuesday.Add(9*time.Hour + 30*time.Minute)}))

	// Deactivated window covers nothing.
	w.IsAvailable = false
	assert.False(t, WindowsCover([]AvailabilityWindow{w}, TimeWindow{Start: at(9, 0), End: at(9, 30)}))
}
