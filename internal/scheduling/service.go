package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/careloop/scheduling-engine/internal/redis"
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		log:    log,
		now:    time.Now,
	}
}

type BookRequest struct {
	SubjectID  uuid.UUID
	ProviderID uuid.UUID
	Window     TimeWindow
	SlotID     *uuid.UUID
	CarePlanID *uuid.UUID
	Notes      string
}

// ListAvailableSlots materializes the provider's recurring availability over
// the range and filters out candidates that collide with active appointments
// or exhausted slots. The result is advisory: booking re-validates
// authoritatively inside its transaction.
func (s *Service) ListAvailableSlots(ctx context.Context, providerID uuid.UUID, rng DateRange, durationMinutes int, includeEmergency bool) ([]Slot, error) {
	provider, err := s.repo.GetProviderByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, E(KindNotFound, "provider %s not found", providerID)
		}
		return nil, Wrap(KindInternal, err, "load provider")
	}

	windows, err := s.repo.ListAvailabilityWindows(ctx, providerID)
	if err != nil {
		return nil, Wrap(KindInternal, err, "load availability windows")
	}

	candidates := MaterializeSlots(windows, provider.OrgKind, rng, durationMinutes, includeEmergency)
	if len(candidates) == 0 {
		return nil, nil
	}

	persisted, err := s.repo.ListSlots(ctx, providerID, rng)
	if err != nil {
		return nil, Wrap(KindInternal, err, "load slots")
	}
	byWindow := make(map[string]Slot, len(persisted))
	for _, sl := range persisted {
		byWindow[slotKey(sl.StartTime, sl.EndTime, sl.Kind)] = sl
	}

	rangeWin := TimeWindow{Start: midnightUTC(rng.From), End: midnightUTC(rng.To).AddDate(0, 0, 1)}
	_, conflicts, err := HasConflict(ctx, s.repo, providerID, rangeWin, nil)
	if err != nil {
		return nil, err
	}

	var out []Slot
	for _, c := range candidates {
		slot, exists := byWindow[slotKey(c.StartTime, c.EndTime, c.Kind)]
		if exists && slot.BookedCount >= slot.Capacity {
			continue
		}
		if !exists {
			slot = Slot{
				ProviderID:  c.ProviderID,
				Date:        c.Date,
				StartTime:   c.StartTime,
				EndTime:     c.EndTime,
				Kind:        c.Kind,
				Capacity:    c.Capacity,
				IsAvailable: true,
			}
		}
		if conflictsWindow(conflicts, TimeWindow{Start: c.StartTime, End: c.EndTime}, slotIDPtr(slot)) {
			continue
		}
		out = append(out, slot)
	}

	return out, nil
}

// GenerateSlotsForRange materializes and persists slots. With
// overwriteExisting=false it is idempotent: already-present
// (date, start, end) tuples are skipped.
func (s *Service) GenerateSlotsForRange(ctx context.Context, actor Actor, providerID uuid.UUID, rng DateRange, cfg GenerateConfig, overwriteExisting bool) (GenerateResult, error) {
	if !actor.Role.Can(CapGenerateSlots) {
		return GenerateResult{}, E(KindForbidden, "role %s may not generate slots", actor.Role)
	}

	provider, err := s.repo.GetProviderByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return GenerateResult{}, E(KindNotFound, "provider %s not found", providerID)
		}
		return GenerateResult{}, Wrap(KindInternal, err, "load provider")
	}

	windows, err := s.repo.ListAvailabilityWindows(ctx, providerID)
	if err != nil {
		return GenerateResult{}, Wrap(KindInternal, err, "load availability windows")
	}

	candidates := MaterializeSlots(windows, provider.OrgKind, rng, cfg.DurationMinutes, cfg.IncludeEmergency)
	if len(candidates) == 0 {
		return GenerateResult{}, nil
	}

	var result GenerateResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if overwriteExisting {
			if _, err := tx.PurgeUnbookedSlots(ctx, providerID, rng); err != nil {
				return Wrap(KindInternal, err, "purge unbooked slots")
			}
		}

		slots := make([]Slot, 0, len(candidates))
		now := s.now()
		for _, c := range candidates {
			slots = append(slots, Slot{
				ID:          uuid.New(),
				ProviderID:  c.ProviderID,
				Date:        c.Date,
				StartTime:   c.StartTime,
				EndTime:     c.EndTime,
				Kind:        c.Kind,
				Capacity:    c.Capacity,
				BookedCount: 0,
				IsAvailable: true,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}

		inserted, err := tx.InsertSlots(ctx, slots)
		if err != nil {
			return Wrap(KindInternal, err, "insert slots")
		}
		result = GenerateResult{Created: inserted, Skipped: len(slots) - inserted}
		return nil
	})
	if err != nil {
		return GenerateResult{}, err
	}

	s.log.Info().
		Str("provider_id", providerID.String()).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Msg("slots generated")

	return result, nil
}

// Book reserves a slot (or books ad hoc when no slot is given) as one atomic
// unit: slot row locked with write intent, capacity re-checked, conflicts
// re-checked against the exact requested window, appointment inserted. No
// partial reservation survives a failure.
func (s *Service) Book(ctx context.Context, actor Actor, req BookRequest) (*Appointment, error) {
	if actor.ID != req.SubjectID && !actor.Role.Can(CapBookForOthers) {
		return nil, E(KindForbidden, "role %s may only book for itself", actor.Role)
	}

	if _, err := s.repo.GetPatientByID(ctx, req.SubjectID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, E(KindNotFound, "patient %s not found", req.SubjectID)
		}
		return nil, Wrap(KindInternal, err, "load patient")
	}
	if _, err := s.repo.GetProviderByID(ctx, req.ProviderID); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, E(KindNotFound, "provider %s not found", req.ProviderID)
		}
		return nil, Wrap(KindInternal, err, "load provider")
	}

	// A caller holding a slot may omit the window; it defaults to the slot's
	// nominal window. Explicit times win when both are supplied.
	if req.SlotID == nil && !req.Window.Valid() {
		return nil, E(KindValidation, "booking window must have start before end")
	}
	if req.Window.Start.IsZero() != req.Window.End.IsZero() {
		return nil, E(KindValidation, "booking window must set both start and end")
	}
	if !req.Window.Start.IsZero() && !req.Window.Valid() {
		return nil, E(KindValidation, "booking window must have start before end")
	}

	var created *Appointment
	book := func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
			appt, err := s.bookInTx(ctx, tx, actor, req)
			if err != nil {
				return err
			}
			created = appt
			return nil
		})
	}

	var err error
	if req.SlotID != nil {
		// Cross-instance serialization per slot; the row lock inside the
		// transaction remains the authoritative guard.
		err = s.locker.WithSlotLock(ctx, *req.SlotID, book)
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = E(KindConflict, "slot is currently being booked, retry shortly")
		}
	} else {
		err = book(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("provider_id", created.ProviderID.String()).
		Str("patient_id", created.PatientID.String()).
		Time("start", created.StartTime).
		Msg("appointment booked")

	return created, nil
}

func (s *Service) bookInTx(ctx context.Context, tx Repository, actor Actor, req BookRequest) (*Appointment, error) {
	win := req.Window
	var slotID *uuid.UUID

	if req.SlotID != nil {
		slot, err := tx.GetSlotForUpdate(ctx, *req.SlotID)
		if err != nil {
			if errors.Is(err, ErrSlotNotFound) {
				return nil, E(KindNotFound, "slot %s not found", *req.SlotID)
			}
			return nil, Wrap(KindInternal, err, "lock slot")
		}
		if slot.ProviderID != req.ProviderID {
			return nil, E(KindValidation, "slot %s does not belong to provider %s", slot.ID, req.ProviderID)
		}
		if slot.BookedCount >= slot.Capacity {
			return nil, E(KindSlotUnavailable, "slot %s has no remaining capacity", slot.ID)
		}
		if win.Start.IsZero() {
			win = TimeWindow{Start: slot.StartTime, End: slot.EndTime}
		}
		slotID = &slot.ID
	}

	// Authoritative conflict check against the exact requested window.
	// Appointments sharing the target slot are capacity siblings, not
	// conflicts; the ledger bounds those.
	has, conflicts, err := HasConflict(ctx, tx, req.ProviderID, win, nil)
	if err != nil {
		return nil, err
	}
	if has && conflictsWindow(conflicts, win, slotID) {
		return nil, &Error{
			Kind:      KindConflict,
			Message:   "requested window overlaps an active appointment",
			Conflicts: conflicts,
		}
	}

	if slotID != nil {
		if _, err := tx.AcquireSlotCapacity(ctx, *slotID); err != nil {
			if errors.Is(err, ErrCapacityExhausted) {
				return nil, E(KindSlotUnavailable, "slot %s has no remaining capacity", *slotID)
			}
			return nil, Wrap(KindInternal, err, "acquire slot capacity")
		}
	}

	now := s.now()
	appt := &Appointment{
		ID:         uuid.New(),
		ProviderID: req.ProviderID,
		PatientID:  req.SubjectID,
		StartTime:  win.Start,
		EndTime:    win.End,
		Status:     StatusScheduled,
		SlotID:     slotID,
		CarePlanID: req.CarePlanID,
		Notes:      req.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.CreateAppointment(ctx, appt); err != nil {
		return nil, Wrap(KindInternal, err, "create appointment")
	}

	s.audit(ctx, tx, EventBooked, actor.ID, appt.ID, map[string]any{
		"after": appointmentSnapshot(appt),
	})

	return appt, nil
}

// Cancel applies the time-based cancellation policy and, when permitted,
// moves the appointment to the decided terminal status while releasing the
// slot's capacity in the same transaction.
func (s *Service) Cancel(ctx context.Context, actor Actor, appointmentID uuid.UUID, reason string) (*CancelResult, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, E(KindNotFound, "appointment %s not found", appointmentID)
		}
		return nil, Wrap(KindInternal, err, "load appointment")
	}
	if !appt.Status.Active() {
		return nil, E(KindInvalidState, "appointment %s is %s and cannot be cancelled", appt.ID, appt.Status)
	}

	decision := Decide(s.now(), appt.StartTime, appt.CarePlanID != nil)
	if decision.RequiresOverride && !actor.Role.Can(CapOverridePolicy) {
		return nil, &Error{
			Kind:    KindForbidden,
			Message: fmt.Sprintf("cancellation requires an override that role %s cannot grant", actor.Role),
			Policy:  &decision,
		}
	}

	before := appointmentSnapshot(appt)
	var updated *Appointment
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		status := decision.ResultingStatus
		notes := appendNote(appt.Notes, "cancelled: "+reason)
		updated, err = tx.UpdateAppointment(ctx, appt.ID, AppointmentPatch{
			Status: &status,
			Notes:  &notes,
		})
		if err != nil {
			return Wrap(KindInternal, err, "update appointment")
		}

		if appt.SlotID != nil {
			if _, err := tx.ReleaseSlotCapacity(ctx, *appt.SlotID); err != nil {
				return Wrap(KindInternal, err, "release slot capacity")
			}
		}

		s.audit(ctx, tx, EventCancelled, actor.ID, appt.ID, map[string]any{
			"before": before,
			"after":  appointmentSnapshot(updated),
			"policy": decision,
			"reason": reason,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("policy", string(decision.Type)).
		Float64("hours_until", decision.HoursUntil).
		Msg("appointment cancelled")

	return &CancelResult{Appointment: updated, Policy: decision}, nil
}

// Reschedule moves a booking to a new window as one atomic unit: conflict
// check, availability coverage check, old capacity released, new capacity
// acquired (or the appointment goes ad hoc), times and status updated.
func (s *Service) Reschedule(ctx context.Context, actor Actor, appointmentID uuid.UUID, newWindow TimeWindow, reason string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, E(KindNotFound, "appointment %s not found", appointmentID)
		}
		return nil, Wrap(KindInternal, err, "load appointment")
	}
	if appt.Status != StatusScheduled && appt.Status != StatusConfirmed {
		return nil, E(KindInvalidState, "appointment %s is %s and cannot be rescheduled", appt.ID, appt.Status)
	}

	now := s.now()
	if newWindow.End.IsZero() && !newWindow.Start.IsZero() {
		// Omitted end inherits the old duration.
		newWindow.End = newWindow.Start.Add(appt.EndTime.Sub(appt.StartTime))
	}
	if !newWindow.Valid() {
		return nil, E(KindValidation, "new window must have start before end")
	}
	if !newWindow.Start.After(now) {
		return nil, E(KindValidation, "new window must start in the future")
	}

	// Same override gate shape as cancellation, but binary: no lapse branch.
	if appt.StartTime.Sub(now).Hours() < overrideCutoffHours && !actor.Role.Can(CapOverridePolicy) {
		return nil, E(KindForbidden, "rescheduling within 24 hours requires role with override capability, got %s", actor.Role)
	}

	before := appointmentSnapshot(appt)
	var updated *Appointment
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		newSlot, err := tx.FindSlotForWindow(ctx, appt.ProviderID, newWindow)
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			return Wrap(KindInternal, err, "resolve slot for window")
		}
		var newSlotID *uuid.UUID
		if newSlot != nil {
			newSlotID = &newSlot.ID
		}

		has, conflicts, err := HasConflict(ctx, tx, appt.ProviderID, newWindow, &appt.ID)
		if err != nil {
			return err
		}
		if has && conflictsWindow(conflicts, newWindow, newSlotID) {
			return &Error{
				Kind:      KindConflict,
				Message:   "new window overlaps an active appointment",
				Conflicts: conflicts,
			}
		}

		windows, err := tx.ListAvailabilityWindows(ctx, appt.ProviderID)
		if err != nil {
			return Wrap(KindInternal, err, "load availability windows")
		}
		if !WindowsCover(windows, newWindow) {
			return E(KindOutsideAvailability, "new window is not covered by the provider's availability")
		}

		if appt.SlotID != nil {
			if _, err := tx.ReleaseSlotCapacity(ctx, *appt.SlotID); err != nil {
				return Wrap(KindInternal, err, "release old slot capacity")
			}
		}

		patch := AppointmentPatch{
			StartTime: &newWindow.Start,
			EndTime:   &newWindow.End,
			Notes:     ptr(appendNote(appt.Notes, "rescheduled: "+reason)),
			Status:    ptr(StatusRescheduled),
			ClearSlot: true,
		}

		if newSlotID != nil {
			locked, err := tx.GetSlotForUpdate(ctx, *newSlotID)
			if err != nil {
				return Wrap(KindInternal, err, "lock new slot")
			}
			if _, err := tx.AcquireSlotCapacity(ctx, locked.ID); err != nil {
				if errors.Is(err, ErrCapacityExhausted) {
					return E(KindSlotUnavailable, "slot %s has no remaining capacity", locked.ID)
				}
				return Wrap(KindInternal, err, "acquire new slot capacity")
			}
			patch.SlotID = newSlotID
			patch.ClearSlot = false
		}

		updated, err = tx.UpdateAppointment(ctx, appt.ID, patch)
		if err != nil {
			return Wrap(KindInternal, err, "update appointment")
		}

		s.audit(ctx, tx, EventRescheduled, actor.ID, appt.ID, map[string]any{
			"before": before,
			"after":  appointmentSnapshot(updated),
			"reason": reason,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Time("new_start", newWindow.Start).
		Msg("appointment rescheduled")

	return updated, nil
}

func (s *Service) audit(ctx context.Context, tx Repository, eventType string, actorID, appointmentID uuid.UUID, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("marshal audit payload")
		data = nil
	}

	apptID := appointmentID
	ev := AuditEvent{
		EventType:     eventType,
		ActorID:       actorID,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := tx.InsertAuditEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("insert audit event")
	}
}

// conflictsWindow reports whether any descriptor overlapping win belongs to a
// different slot (or no slot) than the one being booked.
func conflictsWindow(conflicts []ConflictDescriptor, win TimeWindow, slotID *uuid.UUID) bool {
	for _, c := range conflicts {
		if !Overlaps(win, TimeWindow{Start: c.StartTime, End: c.EndTime}) {
			continue
		}
		if slotID != nil && c.SlotID != nil && *c.SlotID == *slotID {
			continue
		}
		return true
	}
	return false
}

func appointmentSnapshot(a *Appointment) map[string]any {
	snap := map[string]any{
		"status":     a.Status,
		"start_time": a.StartTime,
		"end_time":   a.EndTime,
	}
	if a.SlotID != nil {
		snap["slot_id"] = a.SlotID.String()
	}
	return snap
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func slotKey(start, end time.Time, kind SlotKind) string {
	return fmt.Sprintf("%d-%d-%s", start.Unix(), end.Unix(), kind)
}

func slotIDPtr(s Slot) *uuid.UUID {
	if s.ID == uuid.Nil {
		return nil
	}
	id := s.ID
	return &id
}

func ptr[T any](v T) *T { return &v }
