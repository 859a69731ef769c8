package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const minutesPerDay = 24 * 60

// UpsertAvailabilityWindow validates and stores a recurring weekly rule.
// Malformed windows are rejected here, at write time, so the materializer can
// trust what it reads. Providers manage their own windows; admins manage any.
func (s *Service) UpsertAvailabilityWindow(ctx context.Context, actor Actor, w *AvailabilityWindow) (*AvailabilityWindow, error) {
	if !actor.Role.Can(CapManageAvailability) {
		return nil, E(KindForbidden, "role %s may not manage availability", actor.Role)
	}
	if actor.ID != w.ProviderID && !actor.Role.Can(CapGenerateSlots) {
		return nil, E(KindForbidden, "role %s may only manage its own availability", actor.Role)
	}
	if err := validateWindow(w); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetProviderByID(ctx, w.ProviderID); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, E(KindNotFound, "provider %s not found", w.ProviderID)
		}
		return nil, Wrap(KindInternal, err, "load provider")
	}

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if err := s.repo.UpsertAvailabilityWindow(ctx, w); err != nil {
		return nil, Wrap(KindInternal, err, "upsert availability window")
	}

	s.log.Info().
		Str("window_id", w.ID.String()).
		Str("provider_id", w.ProviderID.String()).
		Int("day_of_week", w.DayOfWeek).
		Msg("availability window upserted")

	return w, nil
}

// DeactivateAvailabilityWindow flips isAvailable off. Windows are never
// deleted.
func (s *Service) DeactivateAvailabilityWindow(ctx context.Context, actor Actor, windowID uuid.UUID) error {
	if !actor.Role.Can(CapManageAvailability) {
		return E(KindForbidden, "role %s may not manage availability", actor.Role)
	}

	w, err := s.repo.GetAvailabilityWindowByID(ctx, windowID)
	if err != nil {
		if errors.Is(err, ErrWindowNotFound) {
			return E(KindNotFound, "availability window %s not found", windowID)
		}
		return Wrap(KindInternal, err, "load availability window")
	}
	if actor.ID != w.ProviderID && !actor.Role.Can(CapGenerateSlots) {
		return E(KindForbidden, "role %s may only manage its own availability", actor.Role)
	}

	if err := s.repo.DeactivateAvailabilityWindow(ctx, windowID); err != nil {
		return Wrap(KindInternal, err, "deactivate availability window")
	}

	s.log.Info().
		Str("window_id", windowID.String()).
		Msg("availability window deactivated")

	return nil
}

func validateWindow(w *AvailabilityWindow) error {
	if w.ProviderID == uuid.Nil {
		return E(KindValidation, "provider id is required")
	}
	if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
		return E(KindValidation, "day of week must be 0..6, got %d", w.DayOfWeek)
	}
	if w.StartMinute < 0 || w.EndMinute > minutesPerDay || w.EndMinute <= w.StartMinute {
		return E(KindValidation, "window times must satisfy 0 <= start < end <= 1440")
	}
	if w.SlotDurationMinutes <= 0 {
		return E(KindValidation, "slot duration must be positive")
	}
	if w.MaxBookingsPerSlot <= 0 {
		return E(KindValidation, "max bookings per slot must be positive")
	}

	hasBreakStart := w.BreakStartMinute != nil
	hasBreakEnd := w.BreakEndMinute != nil
	if hasBreakStart != hasBreakEnd {
		return E(KindValidation, "break start and end must both be set or both be empty")
	}
	if hasBreakStart {
		bs, be := *w.BreakStartMinute, *w.BreakEndMinute
		if be <= bs {
			return E(KindValidation, "break end must be after break start")
		}
		if bs < w.StartMinute || be > w.EndMinute {
			return E(KindValidation, "break must lie inside the window")
		}
	}

	return nil
}
