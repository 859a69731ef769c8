package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrProviderNotFound    = errors.New("provider not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrWindowNotFound      = errors.New("availability window not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrCapacityExhausted is returned by AcquireSlotCapacity when the guarded
	// increment finds booked_count == capacity.
	ErrCapacityExhausted = errors.New("slot capacity exhausted")
)

// Repository contains all store interactions needed by the engine. A
// Repository obtained through WithTx runs every call on the same transaction;
// returning an error from the unit of work rolls the whole thing back.
type Repository interface {
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Providers with at least one active availability window, for the
	// materialization worker.
	ListProviderIDsWithAvailability(ctx context.Context) ([]uuid.UUID, error)

	ListAvailabilityWindows(ctx context.Context, providerID uuid.UUID) ([]AvailabilityWindow, error)
	GetAvailabilityWindowByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
	UpsertAvailabilityWindow(ctx context.Context, w *AvailabilityWindow) error
	DeactivateAvailabilityWindow(ctx context.Context, id uuid.UUID) error

	ListSlots(ctx context.Context, providerID uuid.UUID, rng DateRange) ([]Slot, error)
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// GetSlotForUpdate reads the slot row with write intent; only meaningful
	// inside WithTx.
	GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error)
	FindSlotForWindow(ctx context.Context, providerID uuid.UUID, win TimeWindow) (*Slot, error)
	// InsertSlots persists candidates, skipping (provider, date, start, end)
	// tuples that already exist. Returns how many rows were actually inserted.
	InsertSlots(ctx context.Context, slots []Slot) (int, error)
	// PurgeUnbookedSlots removes future slots with no bookings in the range.
	PurgeUnbookedSlots(ctx context.Context, providerID uuid.UUID, rng DateRange) (int, error)

	// AcquireSlotCapacity increments booked_count only while it is below
	// capacity, re-deriving is_available in the same write. Returns
	// ErrCapacityExhausted otherwise.
	AcquireSlotCapacity(ctx context.Context, slotID uuid.UUID) (*Slot, error)
	// ReleaseSlotCapacity decrements booked_count, never below zero.
	ReleaseSlotCapacity(ctx context.Context, slotID uuid.UUID) (*Slot, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListActiveAppointmentsOverlapping(ctx context.Context, providerID uuid.UUID, win TimeWindow, exclude *uuid.UUID) ([]Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, id uuid.UUID, patch AppointmentPatch) (*Appointment, error)

	InsertAuditEvent(ctx context.Context, ev AuditEvent) error

	// WithTx executes fn as one atomic unit: commit on nil, rollback on error.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}
