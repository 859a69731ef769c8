package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled      AppointmentStatus = "scheduled"
	StatusConfirmed      AppointmentStatus = "confirmed"
	StatusRescheduled    AppointmentStatus = "rescheduled"
	StatusInProgress     AppointmentStatus = "in_progress"
	StatusCancelled      AppointmentStatus = "cancelled"
	StatusLapsed         AppointmentStatus = "lapsed"
	StatusCarePlanLapsed AppointmentStatus = "care_plan_lapsed"
	StatusCompleted      AppointmentStatus = "completed"
)

// ActiveStatuses are the statuses that count toward conflicts and capacity.
var ActiveStatuses = []AppointmentStatus{
	StatusScheduled,
	StatusConfirmed,
	StatusInProgress,
	StatusRescheduled,
}

func (s AppointmentStatus) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

type SlotKind string

const (
	SlotRegular   SlotKind = "regular"
	SlotEmergency SlotKind = "emergency"
)

type OrgKind string

const (
	OrgHospital OrgKind = "hospital"
	OrgClinic   OrgKind = "clinic"
)

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	OrgKind   OrgKind
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AvailabilityWindow is one recurring weekly rule for a provider. Times of day
// are minutes since midnight so interval arithmetic never touches a timezone;
// absolute instants are derived against a UTC date only when slots are
// materialized.
type AvailabilityWindow struct {
	ID                  uuid.UUID
	ProviderID          uuid.UUID
	DayOfWeek           int // 0=Sunday .. 6=Saturday
	StartMinute         int
	EndMinute           int
	SlotDurationMinutes int
	MaxBookingsPerSlot  int
	BreakStartMinute    *int
	BreakEndMinute      *int
	IsAvailable         bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Slot is a materialized, dated, capacity-bounded bookable unit.
type Slot struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	Date        time.Time // midnight UTC of the slot's calendar date
	StartTime   time.Time
	EndTime     time.Time
	Kind        SlotKind
	Capacity    int
	BookedCount int
	IsAvailable bool // derived: BookedCount < Capacity
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SlotCandidate is the materializer's output: a slot that could exist, not yet
// persisted and carrying no booking state.
type SlotCandidate struct {
	ProviderID uuid.UUID
	Date       time.Time
	StartTime  time.Time
	EndTime    time.Time
	Kind       SlotKind
	Capacity   int
}

type Appointment struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	PatientID  uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	Status     AppointmentStatus
	SlotID     *uuid.UUID
	CarePlanID *uuid.UUID
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AppointmentPatch is a typed partial update: only non-nil fields are applied.
// ClearSlot removes the slot linkage regardless of SlotID.
type AppointmentPatch struct {
	StartTime *time.Time
	EndTime   *time.Time
	Status    *AppointmentStatus
	Notes     *string
	SlotID    *uuid.UUID
	ClearSlot bool
}

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

func (w TimeWindow) Valid() bool {
	return !w.Start.IsZero() && !w.End.IsZero() && w.End.After(w.Start)
}

// DateRange is inclusive of both calendar dates.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ConflictDescriptor identifies an active appointment overlapping a window.
// SlotID lets callers distinguish capacity sharing on one slot from genuine
// overlap with a different booking.
type ConflictDescriptor struct {
	AppointmentID uuid.UUID
	SlotID        *uuid.UUID
	StartTime     time.Time
	EndTime       time.Time
	Status        AppointmentStatus
}

type PolicyType string

const (
	PolicyAllowed           PolicyType = "ALLOWED"
	PolicyRequiresOverride  PolicyType = "REQUIRES_MANUAL_OVERRIDE"
	PolicyAppointmentLapsed PolicyType = "APPOINTMENT_LAPSED"
	PolicyCarePlanPermanent PolicyType = "CARE_PLAN_PERMANENT_LAPSE"
)

// PolicyDecision is the cancellation policy engine's verdict. It is transient:
// surfaced to callers, never persisted on its own.
type PolicyDecision struct {
	Type             PolicyType        `json:"type"`
	HoursUntil       float64           `json:"hours_until"`
	RequiresOverride bool              `json:"requires_override"`
	ResultingStatus  AppointmentStatus `json:"resulting_status"`
}

const (
	EventBooked      = "APPOINTMENT_BOOKED"
	EventCancelled   = "APPOINTMENT_CANCELLED"
	EventRescheduled = "APPOINTMENT_RESCHEDULED"
)

// AuditEvent is an append-only record of a state-changing operation.
type AuditEvent struct {
	ID            int64
	EventType     string
	ActorID       uuid.UUID
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Actor is the already-authenticated caller, supplied by the identity layer.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// GenerateConfig tunes administrative slot materialization.
type GenerateConfig struct {
	DurationMinutes  int
	IncludeEmergency bool
}

// GenerateResult reports how many slots were persisted and how many already
// existed and were skipped.
type GenerateResult struct {
	Created int
	Skipped int
}

// CancelResult pairs the updated appointment with the policy that allowed it.
type CancelResult struct {
	Appointment *Appointment
	Policy      PolicyDecision
}
