package scheduling

import "time"

const (
	lapseCutoffHours    = 0.5
	overrideCutoffHours = 24
)

// Decide maps time-to-appointment and care-plan linkage to a cancellation
// outcome. Pure: no clock, no store. The override gate on the decision is
// applied by the caller through the capability table.
//
// Care-plan-linked appointments cancelled inside the 24-hour window lapse
// permanently instead of being freely cancellable.
func Decide(now, appointmentStart time.Time, hasLinkedCarePlan bool) PolicyDecision {
	h := appointmentStart.Sub(now).Hours()

	switch {
	case h < lapseCutoffHours:
		return PolicyDecision{
			Type:             PolicyAppointmentLapsed,
			HoursUntil:       h,
			RequiresOverride: true,
			ResultingStatus:  StatusLapsed,
		}
	case h < overrideCutoffHours && hasLinkedCarePlan:
		return PolicyDecision{
			Type:             PolicyCarePlanPermanent,
			HoursUntil:       h,
			RequiresOverride: false,
			ResultingStatus:  StatusCarePlanLapsed,
		}
	case h < overrideCutoffHours:
		return PolicyDecision{
			Type:             PolicyRequiresOverride,
			HoursUntil:       h,
			RequiresOverride: true,
			ResultingStatus:  StatusCancelled,
		}
	default:
		return PolicyDecision{
			Type:             PolicyAllowed,
			HoursUntil:       h,
			RequiresOverride: false,
			ResultingStatus:  StatusCancelled,
		}
	}
}
