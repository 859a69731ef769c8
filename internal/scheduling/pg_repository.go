package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

// WithTx runs fn on a repository bound to one transaction. Commit on nil,
// rollback otherwise. Nested calls reuse the ambient transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if _, ok := r.q.(pgx.Tx); ok {
		return fn(ctx, r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	bound := &PgRepository{pool: r.pool, q: tx}
	if err := fn(ctx, bound); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Name, &p.Specialty, &p.OrgKind, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	err := row.Scan(
		&w.ID,
		&w.ProviderID,
		&w.DayOfWeek,
		&w.StartMinute,
		&w.EndMinute,
		&w.SlotDurationMinutes,
		&w.MaxBookingsPerSlot,
		&w.BreakStartMinute,
		&w.BreakEndMinute,
		&w.IsAvailable,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}
	return &w, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.Kind,
		&s.Capacity,
		&s.BookedCount,
		&s.IsAvailable,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.PatientID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.SlotID,
		&a.CarePlanID,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

const slotColumns = `id, provider_id, date, start_time, end_time, kind, capacity, booked_count, is_available, created_at, updated_at`
const appointmentColumns = `id, provider_id, patient_id, start_time, end_time, status, slot_id, care_plan_id, notes, created_at, updated_at`
const windowColumns = `id, provider_id, day_of_week, start_minute, end_minute, slot_duration_minutes, max_bookings_per_slot, break_start_minute, break_end_minute, is_available, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, specialty, org_kind, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) ListProviderIDsWithAvailability(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT provider_id
		FROM availability_windows
		WHERE is_available
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PgRepository) ListAvailabilityWindows(ctx context.Context, providerID uuid.UUID) ([]AvailabilityWindow, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE provider_id = $1
		ORDER BY day_of_week, start_minute
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetAvailabilityWindowByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE id = $1
	`, id)
	return scanWindow(row)
}

func (r *PgRepository) UpsertAvailabilityWindow(ctx context.Context, w *AvailabilityWindow) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO availability_windows
			(id, provider_id, day_of_week, start_minute, end_minute,
			 slot_duration_minutes, max_bookings_per_slot,
			 break_start_minute, break_end_minute, is_available,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			day_of_week = EXCLUDED.day_of_week,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			slot_duration_minutes = EXCLUDED.slot_duration_minutes,
			max_bookings_per_slot = EXCLUDED.max_bookings_per_slot,
			break_start_minute = EXCLUDED.break_start_minute,
			break_end_minute = EXCLUDED.break_end_minute,
			is_available = EXCLUDED.is_available,
			updated_at = now()
	`, w.ID, w.ProviderID, w.DayOfWeek, w.StartMinute, w.EndMinute,
		w.SlotDurationMinutes, w.MaxBookingsPerSlot,
		w.BreakStartMinute, w.BreakEndMinute, w.IsAvailable)
	return err
}

func (r *PgRepository) DeactivateAvailabilityWindow(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE availability_windows
		SET is_available = false,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWindowNotFound
	}
	return nil
}

func (r *PgRepository) ListSlots(ctx context.Context, providerID uuid.UUID, rng DateRange) ([]Slot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		  AND date >= $2
		  AND date <= $3
		ORDER BY start_time
	`, providerID, midnightUTC(rng.From), midnightUTC(rng.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) FindSlotForWindow(ctx context.Context, providerID uuid.UUID, win TimeWindow) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		  AND start_time = $2
		  AND end_time = $3
		ORDER BY CASE kind WHEN 'regular' THEN 0 ELSE 1 END
		LIMIT 1
	`, providerID, win.Start, win.End)
	return scanSlot(row)
}

func (r *PgRepository) InsertSlots(ctx context.Context, slots []Slot) (int, error) {
	inserted := 0
	for _, s := range slots {
		tag, err := r.q.Exec(ctx, `
			INSERT INTO slots
				(id, provider_id, date, start_time, end_time, kind,
				 capacity, booked_count, is_available, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, true, now(), now())
			ON CONFLICT (provider_id, start_time, end_time, kind) DO NOTHING
		`, s.ID, s.ProviderID, s.Date, s.StartTime, s.EndTime, s.Kind, s.Capacity)
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (r *PgRepository) PurgeUnbookedSlots(ctx context.Context, providerID uuid.UUID, rng DateRange) (int, error) {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM slots
		WHERE provider_id = $1
		  AND date >= $2
		  AND date <= $3
		  AND booked_count = 0
		  AND start_time > now()
	`, providerID, midnightUTC(rng.From), midnightUTC(rng.To))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) AcquireSlotCapacity(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE slots
		SET booked_count = booked_count + 1,
		    is_available = booked_count + 1 < capacity,
		    updated_at = now()
		WHERE id = $1
		  AND booked_count < capacity
		RETURNING `+slotColumns+`
	`, slotID)

	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			// Distinguish a missing row from an exhausted one.
			if _, getErr := r.GetSlotByID(ctx, slotID); getErr != nil {
				return nil, getErr
			}
			return nil, ErrCapacityExhausted
		}
		return nil, err
	}
	return s, nil
}

func (r *PgRepository) ReleaseSlotCapacity(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE slots
		SET booked_count = GREATEST(booked_count - 1, 0),
		    is_available = GREATEST(booked_count - 1, 0) < capacity,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+slotColumns+`
	`, slotID)
	return scanSlot(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListActiveAppointmentsOverlapping(ctx context.Context, providerID uuid.UUID, win TimeWindow, exclude *uuid.UUID) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND status = ANY($2)
		  AND start_time < $3
		  AND end_time > $4
		  AND ($5::uuid IS NULL OR id <> $5)
		ORDER BY start_time
	`, providerID, activeStatusStrings(), win.End, win.Start, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO appointments
			(id, provider_id, patient_id, start_time, end_time, status,
			 slot_id, care_plan_id, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`, a.ID, a.ProviderID, a.PatientID, a.StartTime, a.EndTime, a.Status,
		a.SlotID, a.CarePlanID, a.Notes)
	return err
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, id uuid.UUID, patch AppointmentPatch) (*Appointment, error) {
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}

	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = COALESCE($2, start_time),
		    end_time = COALESCE($3, end_time),
		    status = COALESCE($4, status),
		    notes = COALESCE($5, notes),
		    slot_id = CASE
		        WHEN $7 THEN NULL
		        WHEN $6::uuid IS NOT NULL THEN $6
		        ELSE slot_id
		    END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, patch.StartTime, patch.EndTime, status, patch.Notes, patch.SlotID, patch.ClearSlot)
	return scanAppointment(row)
}

func (r *PgRepository) InsertAuditEvent(ctx context.Context, ev AuditEvent) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO audit_events (event_type, actor_id, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.ActorID, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func activeStatusStrings() []string {
	out := make([]string, len(ActiveStatuses))
	for i, s := range ActiveStatuses {
		out[i] = string(s)
	}
	return out
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
