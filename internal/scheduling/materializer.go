package scheduling

import (
	"time"
)

// EmergencySlotMinutes is the fixed length of an emergency candidate, anchored
// at the end of its availability window.
const EmergencySlotMinutes = 15

// MaterializeSlots expands recurring weekly availability into dated slot
// candidates over the given range. Overlapping windows on the same day are
// each expanded independently; duplicates are not removed here, conflict
// filtering happens downstream. Zero windows yields an empty result.
func MaterializeSlots(windows []AvailabilityWindow, orgKind OrgKind, rng DateRange, durationMinutes int, includeEmergency bool) []SlotCandidate {
	var out []SlotCandidate

	from := midnightUTC(rng.From)
	to := midnightUTC(rng.To)

	for date := from; !date.After(to); date = date.AddDate(0, 0, 1) {
		weekday := int(date.Weekday())

		for _, w := range windows {
			if !w.IsAvailable || w.DayOfWeek != weekday {
				continue
			}

			dur := durationMinutes
			if dur <= 0 {
				dur = w.SlotDurationMinutes
			}
			if dur <= 0 {
				continue
			}

			for cur := w.StartMinute; cur+dur <= w.EndMinute; {
				if w.BreakStartMinute != nil && w.BreakEndMinute != nil &&
					cur < *w.BreakEndMinute && cur+dur > *w.BreakStartMinute {
					// Step touches the break, resume at its end.
					cur = *w.BreakEndMinute
					continue
				}
				out = append(out, SlotCandidate{
					ProviderID: w.ProviderID,
					Date:       date,
					StartTime:  atMinute(date, cur),
					EndTime:    atMinute(date, cur+dur),
					Kind:       SlotRegular,
					Capacity:   w.MaxBookingsPerSlot,
				})
				cur += dur
			}

			if includeEmergency && orgKind == OrgHospital {
				anchor := w.EndMinute - EmergencySlotMinutes
				if anchor >= w.StartMinute {
					out = append(out, SlotCandidate{
						ProviderID: w.ProviderID,
						Date:       date,
						StartTime:  atMinute(date, anchor),
						EndTime:    atMinute(date, w.EndMinute),
						Kind:       SlotEmergency,
						Capacity:   1,
					})
				}
			}
		}
	}

	return out
}

// WindowsCover reports whether [win.Start, win.End) lies fully inside some
// active availability window for its weekday, outside any break. Used by the
// reschedule engine to validate a target window.
func WindowsCover(windows []AvailabilityWindow, win TimeWindow) bool {
	start := win.Start.UTC()
	end := win.End.UTC()

	// A bookable window never spans midnight.
	if !sameDate(start, end) && !isMidnightOf(start, end) {
		return false
	}

	weekday := int(start.Weekday())
	startMin := start.Hour()*60 + start.Minute()
	endMin := startMin + int(end.Sub(start).Minutes())

	for _, w := range windows {
		if !w.IsAvailable || w.DayOfWeek != weekday {
			continue
		}
		if startMin < w.StartMinute || endMin > w.EndMinute {
			continue
		}
		if w.BreakStartMinute != nil && w.BreakEndMinute != nil &&
			startMin < *w.BreakEndMinute && endMin > *w.BreakStartMinute {
			continue
		}
		return true
	}
	return false
}

func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func atMinute(date time.Time, minute int) time.Time {
	return date.Add(time.Duration(minute) * time.Minute)
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// isMidnightOf reports whether end is exactly midnight of the day after start,
// which closes a window that runs to end of day.
func isMidnightOf(start, end time.Time) bool {
	next := midnightUTC(start).AddDate(0, 0, 1)
	return end.Equal(next)
}
