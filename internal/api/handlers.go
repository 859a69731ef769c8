package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careloop/scheduling-engine/internal/scheduling"
)

func listSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
			return
		}

		rng, err := parseDateRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date_range", err.Error())
			return
		}

		duration := 0
		if v := r.URL.Query().Get("duration_minutes"); v != "" {
			duration, err = strconv.Atoi(v)
			if err != nil || duration <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_duration", "duration_minutes must be a positive number")
				return
			}
		}
		includeEmergency := r.URL.Query().Get("include_emergency") == "true"

		slots, err := svc.ListAvailableSlots(r.Context(), providerID, rng, duration, includeEmergency)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, toSlotResponse(s))
		}
		writeData(w, http.StatusOK, out)
	}
}

func generateSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := GetActor(r.Context())

		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
			return
		}

		var req GenerateSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		rng, err := parseDateRange(req.From, req.To)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date_range", err.Error())
			return
		}

		result, err := svc.GenerateSlotsForRange(r.Context(), actor, providerID, rng, scheduling.GenerateConfig{
			DurationMinutes:  req.DurationMinutes,
			IncludeEmergency: req.IncludeEmergency,
		}, req.OverwriteExisting)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		writeData(w, http.StatusOK, GenerateSlotsResponse{Created: result.Created, Skipped: result.Skipped})
	}
}

func bookAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := GetActor(r.Context())

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		subjectID, err := uuid.Parse(req.SubjectID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_subject_id", "subject_id must be a valid UUID")
			return
		}

		bookReq := scheduling.BookRequest{
			SubjectID:  subjectID,
			ProviderID: providerID,
			Notes:      req.Notes,
		}
		if req.StartTime != nil && req.EndTime != nil {
			bookReq.Window = scheduling.TimeWindow{Start: *req.StartTime, End: *req.EndTime}
		}
		if req.SlotID != nil {
			slotID, err := uuid.Parse(*req.SlotID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
				return
			}
			bookReq.SlotID = &slotID
		}
		if req.CarePlanID != nil {
			carePlanID, err := uuid.Parse(*req.CarePlanID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_care_plan_id", "care_plan_id must be a valid UUID")
				return
			}
			bookReq.CarePlanID = &carePlanID
		}

		appt, err := svc.Book(r.Context(), actor, bookReq)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		writeData(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := GetActor(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		result, err := svc.Cancel(r.Context(), actor, id, req.Reason)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		writeData(w, http.StatusOK, CancelResponse{
			Appointment: toAppointmentResponse(result.Appointment),
			Policy:      result.Policy,
		})
	}
}

func rescheduleAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := GetActor(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		win := scheduling.TimeWindow{Start: req.StartTime}
		if req.EndTime != nil {
			win.End = *req.EndTime
		}

		appt, err := svc.Reschedule(r.Context(), actor, id, win, req.Reason)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		writeData(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func upsertAvailabilityHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := GetActor(r.Context())

		var req UpsertAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		window := scheduling.AvailabilityWindow{
			ProviderID:          providerID,
			DayOfWeek:           req.DayOfWeek,
			StartMinute:         req.StartMinute,
			EndMinute:           req.EndMinute,
			SlotDurationMinutes: req.SlotDurationMinutes,
			MaxBookingsPerSlot:  req.MaxBookingsPerSlot,
			BreakStartMinute:    req.BreakStartMinute,
			BreakEndMinute:      req.BreakEndMinute,
			IsAvailable:         req.IsAvailable,
		}
		if req.ID != nil {
			windowID, err := uuid.Parse(*req.ID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_window_id", "id must be a valid UUID")
				return
			}
			window.ID = windowID
		}

		saved, err := svc.UpsertAvailabilityWindow(r.Context(), actor, &window)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		writeData(w, http.StatusOK, saved)
	}
}

func deactivateAvailabilityHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := GetActor(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window_id", "id must be a valid UUID")
			return
		}

		if err := svc.DeactivateAvailabilityWindow(r.Context(), actor, id); err != nil {
			writeEngineError(w, err)
			return
		}

		writeData(w, http.StatusOK, map[string]string{"status": "deactivated"})
	}
}

// Helpers

func parseDateRange(from, to string) (scheduling.DateRange, error) {
	f, err := time.Parse("2006-01-02", from)
	if err != nil {
		return scheduling.DateRange{}, err
	}
	t, err := time.Parse("2006-01-02", to)
	if err != nil {
		return scheduling.DateRange{}, err
	}
	if t.Before(f) {
		return scheduling.DateRange{}, errors.New("to must not be before from")
	}
	return scheduling.DateRange{From: f, To: t}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Status: status, Data: data})
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, Envelope{
		Success: false,
		Status:  status,
		Error:   &ErrorBody{Kind: kind, Message: message},
	})
}

func writeEngineError(w http.ResponseWriter, err error) {
	kind := scheduling.KindOf(err)
	status := statusForKind(kind)

	body := &ErrorBody{Kind: string(kind), Message: err.Error()}
	var e *scheduling.Error
	if errors.As(err, &e) {
		body.Message = e.Message
		body.Policy = e.Policy
		body.Conflicts = e.Conflicts
	}

	writeJSON(w, status, Envelope{Success: false, Status: status, Error: body})
}
