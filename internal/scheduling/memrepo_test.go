package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository used by the service tests. WithTx runs
// on a copy of the state and swaps it in only on success, so rollback
// semantics match the real store. A single mutex serializes transactions,
// which is the same guarantee row locks give per slot.
type memRepo struct {
	mu    *sync.Mutex
	state *memState
	tx    bool
}

type memState struct {
	providers    map[uuid.UUID]Provider
	patients     map[uuid.UUID]Patient
	windows      map[uuid.UUID]AvailabilityWindow
	slots        map[uuid.UUID]Slot
	appointments map[uuid.UUID]Appointment
	audits       []AuditEvent
}

func newMemRepo() *memRepo {
	return &memRepo{
		mu: &sync.Mutex{},
		state: &memState{
			providers:    map[uuid.UUID]Provider{},
			patients:     map[uuid.UUID]Patient{},
			windows:      map[uuid.UUID]AvailabilityWindow{},
			slots:        map[uuid.UUID]Slot{},
			appointments: map[uuid.UUID]Appointment{},
		},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		providers:    make(map[uuid.UUID]Provider, len(s.providers)),
		patients:     make(map[uuid.UUID]Patient, len(s.patients)),
		windows:      make(map[uuid.UUID]AvailabilityWindow, len(s.windows)),
		slots:        make(map[uuid.UUID]Slot, len(s.slots)),
		appointments: make(map[uuid.UUID]Appointment, len(s.appointments)),
		audits:       append([]AuditEvent(nil), s.audits...),
	}
	for k, v := range s.providers {
		c.providers[k] = v
	}
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for k, v := range s.windows {
		c.windows[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	return c
}

func (r *memRepo) lock() func() {
	if r.tx {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *memRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.tx {
		return fn(ctx, r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := r.state.clone()
	bound := &memRepo{mu: r.mu, state: clone, tx: true}
	if err := fn(ctx, bound); err != nil {
		return err
	}
	r.state = clone
	return nil
}

func (r *memRepo) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	defer r.lock()()
	p, ok := r.state.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (r *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	defer r.lock()()
	p, ok := r.state.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) ListProviderIDsWithAvailability(_ context.Context) ([]uuid.UUID, error) {
	defer r.lock()()
	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for _, w := range r.state.windows {
		if w.IsAvailable && !seen[w.ProviderID] {
			seen[w.ProviderID] = true
			ids = append(ids, w.ProviderID)
		}
	}
	return ids, nil
}

func (r *memRepo) ListAvailabilityWindows(_ context.Context, providerID uuid.UUID) ([]AvailabilityWindow, error) {
	defer r.lock()()
	var out []AvailabilityWindow
	for _, w := range r.state.windows {
		if w.ProviderID == providerID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *memRepo) GetAvailabilityWindowByID(_ context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	defer r.lock()()
	w, ok := r.state.windows[id]
	if !ok {
		return nil, ErrWindowNotFound
	}
	return &w, nil
}

func (r *memRepo) UpsertAvailabilityWindow(_ context.Context, w *AvailabilityWindow) error {
	defer r.lock()()
	r.state.windows[w.ID] = *w
	return nil
}

func (r *memRepo) DeactivateAvailabilityWindow(_ context.Context, id uuid.UUID) error {
	defer r.lock()()
	w, ok := r.state.windows[id]
	if !ok {
		return ErrWindowNotFound
	}
	w.IsAvailable = false
	r.state.windows[id] = w
	return nil
}

func (r *memRepo) ListSlots(_ context.Context, providerID uuid.UUID, rng DateRange) ([]Slot, error) {
	defer r.lock()()
	from := midnightUTC(rng.From)
	to := midnightUTC(rng.To)
	var out []Slot
	for _, s := range r.state.slots {
		if s.ProviderID == providerID && !s.Date.Before(from) && !s.Date.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	defer r.lock()()
	s, ok := r.state.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *memRepo) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.GetSlotByID(ctx, id)
}

func (r *memRepo) FindSlotForWindow(_ context.Context, providerID uuid.UUID, win TimeWindow) (*Slot, error) {
	defer r.lock()()
	for _, s := range r.state.slots {
		if s.ProviderID == providerID && s.StartTime.Equal(win.Start) && s.EndTime.Equal(win.End) {
			return &s, nil
		}
	}
	return nil, ErrSlotNotFound
}

func (r *memRepo) InsertSlots(_ context.Context, slots []Slot) (int, error) {
	defer r.lock()()
	existing := map[string]bool{}
	for _, s := range r.state.slots {
		existing[memSlotKey(s)] = true
	}
	inserted := 0
	for _, s := range slots {
		if existing[memSlotKey(s)] {
			continue
		}
		existing[memSlotKey(s)] = true
		r.state.slots[s.ID] = s
		inserted++
	}
	return inserted, nil
}

func memSlotKey(s Slot) string {
	return s.ProviderID.String() + s.StartTime.UTC().String() + s.EndTime.UTC().String() + string(s.Kind)
}

func (r *memRepo) PurgeUnbookedSlots(_ context.Context, providerID uuid.UUID, rng DateRange) (int, error) {
	defer r.lock()()
	from := midnightUTC(rng.From)
	to := midnightUTC(rng.To)
	purged := 0
	for id, s := range r.state.slots {
		if s.ProviderID == providerID && s.BookedCount == 0 &&
			!s.Date.Before(from) && !s.Date.After(to) {
			delete(r.state.slots, id)
			purged++
		}
	}
	return purged, nil
}

func (r *memRepo) AcquireSlotCapacity(_ context.Context, slotID uuid.UUID) (*Slot, error) {
	defer r.lock()()
	s, ok := r.state.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if s.BookedCount >= s.Capacity {
		return nil, ErrCapacityExhausted
	}
	s.BookedCount++
	s.IsAvailable = s.BookedCount < s.Capacity
	r.state.slots[slotID] = s
	return &s, nil
}

func (r *memRepo) ReleaseSlotCapacity(_ context.Context, slotID uuid.UUID) (*Slot, error) {
	defer r.lock()()
	s, ok := r.state.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if s.BookedCount > 0 {
		s.BookedCount--
	}
	s.IsAvailable = s.BookedCount < s.Capacity
	r.state.slots[slotID] = s
	return &s, nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	defer r.lock()()
	a, ok := r.state.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) ListActiveAppointmentsOverlapping(_ context.Context, providerID uuid.UUID, win TimeWindow, exclude *uuid.UUID) ([]Appointment, error) {
	defer r.lock()()
	var out []Appointment
	for _, a := range r.state.appointments {
		if a.ProviderID != providerID || !a.Status.Active() {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if a.StartTime.Before(win.End) && a.EndTime.After(win.Start) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) CreateAppointment(_ context.Context, a *Appointment) error {
	defer r.lock()()
	r.state.appointments[a.ID] = *a
	return nil
}

func (r *memRepo) UpdateAppointment(_ context.Context, id uuid.UUID, patch AppointmentPatch) (*Appointment, error) {
	defer r.lock()()
	a, ok := r.state.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if patch.StartTime != nil {
		a.StartTime = *patch.StartTime
	}
	if patch.EndTime != nil {
		a.EndTime = *patch.EndTime
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	if patch.Notes != nil {
		a.Notes = *patch.Notes
	}
	if patch.ClearSlot {
		a.SlotID = nil
	} else if patch.SlotID != nil {
		a.SlotID = patch.SlotID
	}
	a.UpdatedAt = time.Now()
	r.state.appointments[id] = a
	return &a, nil
}

func (r *memRepo) InsertAuditEvent(_ context.Context, ev AuditEvent) error {
	defer r.lock()()
	ev.ID = int64(len(r.state.audits) + 1)
	r.state.audits = append(r.state.audits, ev)
	return nil
}

// memLocker serializes per slot with plain mutexes.
type memLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: map[uuid.UUID]*sync.Mutex{}}
}

func (l *memLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[slotID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[slotID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}
