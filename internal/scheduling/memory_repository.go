package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/keylock"
)

// MemoryRepository is an in-process Repository for single-node runs and
// tests. Admission transactions stage their writes and publish them on
// success only.
type MemoryRepository struct {
	mu           sync.RWMutex
	services     map[string]*Service
	limits       map[int64]*CapacityLimit
	reservations map[uuid.UUID]*Reservation
	nextID       int64
	keys         *keylock.Locker

	// createHook, when set, runs before every insert; tests use it to inject faults.
	createHook func() error
	// moveHook runs after a move is staged, before the transaction commits.
	moveHook func()
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		services:     make(map[string]*Service),
		limits:       make(map[int64]*CapacityLimit),
		reservations: make(map[uuid.UUID]*Reservation),
		keys:         keylock.New(),
	}
}

// AddService stores svc, assigning an ID when it has none.
func (m *MemoryRepository) AddService(svc Service) *Service {
	m.mu.Lock()
	defer m.mu.Unlock()

	if svc.ID == 0 {
		m.nextID++
		svc.ID = m.nextID
	}
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = time.Now()
		svc.UpdatedAt = svc.CreatedAt
	}
	stored := svc
	m.services[svc.Code] = &stored
	out := stored
	return &out
}

func (m *MemoryRepository) SetCapacityLimit(limit CapacityLimit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := limit
	m.limits[limit.ServiceID] = &l
}

// ReservationCount returns the number of stored rows in any status.
func (m *MemoryRepository) ReservationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.reservations)
}

func (m *MemoryRepository) GetServiceByCode(_ context.Context, code string) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	svc, ok := m.services[code]
	if !ok {
		return nil, ErrServiceNotFound
	}
	out := *svc
	return &out, nil
}

func (m *MemoryRepository) GetCapacityLimit(_ context.Context, serviceID int64) (*CapacityLimit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.limits[serviceID]
	if !ok {
		return nil, nil
	}
	out := *l
	return &out, nil
}

func (m *MemoryRepository) ListActiveServices(_ context.Context) ([]Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Service
	for _, svc := range m.services {
		if svc.IsActive {
			out = append(out, *svc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (m *MemoryRepository) UpdateServiceDuration(_ context.Context, code string, durationMinutes int) (*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[code]
	if !ok {
		return nil, ErrServiceNotFound
	}
	svc.DurationMinutes = durationMinutes
	svc.UpdatedAt = time.Now()
	out := *svc
	return &out, nil
}

func (m *MemoryRepository) ListBlockingReservations(ctx context.Context, serviceCode string, date time.Time) ([]Reservation, error) {
	return m.listDay(serviceCode, date, true), nil
}

func (m *MemoryRepository) ListReservationsByDay(ctx context.Context, serviceCode string, date time.Time) ([]Reservation, error) {
	return m.listDay(serviceCode, date, false), nil
}

func (m *MemoryRepository) listDay(serviceCode string, date time.Time, blockingOnly bool) []Reservation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Reservation
	for _, r := range m.reservations {
		if r.ServiceCode != serviceCode || !r.Date.Equal(date) {
			continue
		}
		if blockingOnly && !r.Status.Blocking() {
			continue
		}
		out = append(out, *r)
	}
	sortReservations(out)
	return out
}

func sortReservations(rs []Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].Date.Equal(rs[j].Date) {
			return rs[i].Date.Before(rs[j].Date)
		}
		if rs[i].SlotStart != rs[j].SlotStart {
			return rs[i].SlotStart < rs[j].SlotStart
		}
		return rs[i].CreatedAt.Before(rs[j].CreatedAt)
	})
}

func (m *MemoryRepository) CountFutureReservations(_ context.Context, serviceCode string, from time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.reservations {
		if r.ServiceCode == serviceCode && !r.Date.Before(from) && r.Status.Blocking() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) GetReservationByID(_ context.Context, id uuid.UUID) (*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	out := *r
	return &out, nil
}

func (m *MemoryRepository) CreateReservation(_ context.Context, r *Reservation) (*Reservation, error) {
	if m.createHook != nil {
		if err := m.createHook(); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *r
	m.reservations[r.ID] = &stored
	out := stored
	return &out, nil
}

func (m *MemoryRepository) UpdateReservationStatus(_ context.Context, id uuid.UUID, from, to Status, cancelReason *string, at time.Time) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok || r.Status != from {
		return nil, ErrReservationNotFound
	}
	r.Status = to
	r.CancelReason = cancelReason
	r.UpdatedAt = at
	changed := at
	r.StatusChangedAt = &changed
	out := *r
	return &out, nil
}

func (m *MemoryRepository) UpdateReservationDetails(_ context.Context, r *Reservation) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.reservations[r.ID]
	if !ok || !cur.Status.Blocking() {
		return nil, ErrReservationNotFound
	}
	cur.Patient = r.Patient
	cur.Notes = r.Notes
	cur.AdminNotes = r.AdminNotes
	cur.UpdatedAt = r.UpdatedAt
	out := *cur
	return &out, nil
}

func (m *MemoryRepository) MoveReservation(_ context.Context, r *Reservation) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(r)
}

func (m *MemoryRepository) moveLocked(r *Reservation) (*Reservation, error) {
	cur, ok := m.reservations[r.ID]
	if !ok || !cur.Status.Blocking() {
		return nil, ErrReservationNotFound
	}
	cur.Date = r.Date
	cur.SlotStart = r.SlotStart
	cur.SlotEnd = r.SlotEnd
	cur.BufferMinutes = r.BufferMinutes
	cur.Period = r.Period
	cur.UpdatedAt = r.UpdatedAt
	out := *cur
	return &out, nil
}

func (m *MemoryRepository) WithAdmissionTx(ctx context.Context, key AdmissionKey, fn func(ctx context.Context, tx Repository) error) error {
	return m.keys.WithKeyLock(ctx, key.String(), func(ctx context.Context) error {
		tx := &memoryTx{MemoryRepository: m, staged: make(map[uuid.UUID]stagedWrite)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return tx.commit()
	})
}

type stagedWrite struct {
	r      Reservation
	create bool
}

// memoryTx overlays staged creates and moves on the shared store.
type memoryTx struct {
	*MemoryRepository
	staged map[uuid.UUID]stagedWrite
}

func (tx *memoryTx) ListBlockingReservations(ctx context.Context, serviceCode string, date time.Time) ([]Reservation, error) {
	return tx.overlay(tx.MemoryRepository.listDay(serviceCode, date, true), serviceCode, date), nil
}

func (tx *memoryTx) ListReservationsByDay(ctx context.Context, serviceCode string, date time.Time) ([]Reservation, error) {
	return tx.overlay(tx.MemoryRepository.listDay(serviceCode, date, false), serviceCode, date), nil
}

func (tx *memoryTx) overlay(base []Reservation, serviceCode string, date time.Time) []Reservation {
	out := base[:0:0]
	for _, r := range base {
		if _, ok := tx.staged[r.ID]; !ok {
			out = append(out, r)
		}
	}
	for _, w := range tx.staged {
		if w.r.ServiceCode == serviceCode && w.r.Date.Equal(date) {
			out = append(out, w.r)
		}
	}
	sortReservations(out)
	return out
}

func (tx *memoryTx) GetReservationByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	if w, ok := tx.staged[id]; ok {
		out := w.r
		return &out, nil
	}
	return tx.MemoryRepository.GetReservationByID(ctx, id)
}

func (tx *memoryTx) CreateReservation(_ context.Context, r *Reservation) (*Reservation, error) {
	if tx.createHook != nil {
		if err := tx.createHook(); err != nil {
			return nil, err
		}
	}
	tx.staged[r.ID] = stagedWrite{r: *r, create: true}
	out := *r
	return &out, nil
}

func (tx *memoryTx) MoveReservation(ctx context.Context, r *Reservation) (*Reservation, error) {
	cur, err := tx.GetReservationByID(ctx, r.ID)
	if err != nil || !cur.Status.Blocking() {
		return nil, ErrReservationNotFound
	}
	moved := *cur
	moved.Date = r.Date
	moved.SlotStart = r.SlotStart
	moved.SlotEnd = r.SlotEnd
	moved.BufferMinutes = r.BufferMinutes
	moved.Period = r.Period
	moved.UpdatedAt = r.UpdatedAt
	tx.staged[r.ID] = stagedWrite{r: moved, create: tx.staged[r.ID].create}
	if tx.moveHook != nil {
		tx.moveHook()
	}
	out := moved
	return &out, nil
}

func (tx *memoryTx) WithAdmissionTx(ctx context.Context, _ AdmissionKey, fn func(ctx context.Context, tx Repository) error) error {
	return fn(ctx, tx)
}

func (tx *memoryTx) commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	for id, w := range tx.staged {
		if w.create {
			continue
		}
		if cur, ok := tx.reservations[id]; !ok || !cur.Status.Blocking() {
			return ErrReservationNotFound
		}
	}
	for id, w := range tx.staged {
		if w.create {
			r := w.r
			tx.reservations[id] = &r
			continue
		}
		if _, err := tx.moveLocked(&w.r); err != nil {
			return err
		}
	}
	return nil
}
