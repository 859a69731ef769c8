package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/scheduling-engine/internal/scheduling"
)

// Envelope is the transport contract: a success flag, an HTTP-style status,
// and either a payload or a typed error.
type Envelope struct {
	Success bool       `json:"success"`
	Status  int        `json:"status"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Kind      string                          `json:"kind"`
	Message   string                          `json:"message"`
	Policy    *scheduling.PolicyDecision      `json:"policy,omitempty"`
	Conflicts []scheduling.ConflictDescriptor `json:"conflicts,omitempty"`
}

type BookAppointmentRequest struct {
	SubjectID  string     `json:"subject_id"`
	ProviderID string     `json:"provider_id"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	SlotID     *string    `json:"slot_id,omitempty"`
	CarePlanID *string    `json:"care_plan_id,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type RescheduleAppointmentRequest struct {
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Reason    string     `json:"reason"`
}

type GenerateSlotsRequest struct {
	From              string `json:"from"` // YYYY-MM-DD
	To                string `json:"to"`
	DurationMinutes   int    `json:"duration_minutes,omitempty"`
	IncludeEmergency  bool   `json:"include_emergency,omitempty"`
	OverwriteExisting bool   `json:"overwrite_existing,omitempty"`
}

type UpsertAvailabilityRequest struct {
	ID                  *string `json:"id,omitempty"`
	ProviderID          string  `json:"provider_id"`
	DayOfWeek           int     `json:"day_of_week"`
	StartMinute         int     `json:"start_minute"`
	EndMinute           int     `json:"end_minute"`
	SlotDurationMinutes int     `json:"slot_duration_minutes"`
	MaxBookingsPerSlot  int     `json:"max_bookings_per_slot"`
	BreakStartMinute    *int    `json:"break_start_minute,omitempty"`
	BreakEndMinute      *int    `json:"break_end_minute,omitempty"`
	IsAvailable         bool    `json:"is_available"`
}

type SlotResponse struct {
	ID          *uuid.UUID `json:"id,omitempty"` // nil for not-yet-persisted slots
	ProviderID  uuid.UUID  `json:"provider_id"`
	Date        string     `json:"date"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	Kind        string     `json:"kind"`
	Capacity    int        `json:"capacity"`
	BookedCount int        `json:"booked_count"`
	IsAvailable bool       `json:"is_available"`
}

type AppointmentResponse struct {
	ID         uuid.UUID  `json:"id"`
	ProviderID uuid.UUID  `json:"provider_id"`
	PatientID  uuid.UUID  `json:"patient_id"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    time.Time  `json:"end_time"`
	Status     string     `json:"status"`
	SlotID     *uuid.UUID `json:"slot_id,omitempty"`
	CarePlanID *uuid.UUID `json:"care_plan_id,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

type CancelResponse struct {
	Appointment AppointmentResponse       `json:"appointment"`
	Policy      scheduling.PolicyDecision `json:"policy"`
}

type GenerateSlotsResponse struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

func toSlotResponse(s scheduling.Slot) SlotResponse {
	resp := SlotResponse{
		ProviderID:  s.ProviderID,
		Date:        s.Date.Format("2006-01-02"),
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Kind:        string(s.Kind),
		Capacity:    s.Capacity,
		BookedCount: s.BookedCount,
		IsAvailable: s.IsAvailable,
	}
	if s.ID != uuid.Nil {
		id := s.ID
		resp.ID = &id
	}
	return resp
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:         a.ID,
		ProviderID: a.ProviderID,
		PatientID:  a.PatientID,
		StartTime:  a.StartTime,
		EndTime:    a.EndTime,
		Status:     string(a.Status),
		SlotID:     a.SlotID,
		CarePlanID: a.CarePlanID,
		Notes:      a.Notes,
	}
}

func statusForKind(kind scheduling.Kind) int {
	switch kind {
	case scheduling.KindValidation:
		return http.StatusBadRequest
	case scheduling.KindNotFound:
		return http.StatusNotFound
	case scheduling.KindForbidden:
		return http.StatusForbidden
	case scheduling.KindConflict, scheduling.KindSlotUnavailable, scheduling.KindInvalidState:
		return http.StatusConflict
	case scheduling.KindOutsideAvailability:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
