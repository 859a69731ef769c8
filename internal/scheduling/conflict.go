package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// Overlaps reports whether the half-open intervals [s1,e1) and [s2,e2)
// intersect. Back-to-back intervals do not overlap.
func Overlaps(w1, w2 TimeWindow) bool {
	return w1.Start.Before(w2.End) && w1.End.After(w2.Start)
}

// HasConflict checks a provider's active appointments against a window,
// optionally excluding one appointment (the one being rescheduled). The result
// is advisory when used to filter candidates and authoritative when re-run
// inside a booking or reschedule transaction.
func HasConflict(ctx context.Context, repo Repository, providerID uuid.UUID, win TimeWindow, exclude *uuid.UUID) (bool, []ConflictDescriptor, error) {
	appts, err := repo.ListActiveAppointmentsOverlapping(ctx, providerID, win, exclude)
	if err != nil {
		return false, nil, Wrap(KindInternal, err, "list overlapping appointments")
	}

	var found []ConflictDescriptor
	for _, a := range appts {
		if !a.Status.Active() {
			continue
		}
		if !Overlaps(win, TimeWindow{Start: a.StartTime, End: a.EndTime}) {
			continue
		}
		found = append(found, ConflictDescriptor{
			AppointmentID: a.ID,
			SlotID:        a.SlotID,
			StartTime:     a.StartTime,
			EndTime:       a.EndTime,
			Status:        a.Status,
		})
	}

	return len(found) > 0, found, nil
}
