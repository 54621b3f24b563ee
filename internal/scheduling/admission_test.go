package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

func TestAdmit_CreatesPendingReservation(t *testing.T) {
	f := newFixture(t)

	r := f.mustAdmit(t, monday, "13:40")

	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, "X", r.ServiceCode)
	assert.Equal(t, "13:40", r.SlotStart.String())
	assert.Equal(t, "14:10", r.SlotEnd.String())
	assert.Equal(t, 10, r.BufferMinutes)
	assert.Equal(t, PeriodAfternoon, r.Period)
	assert.Equal(t, 1, f.repo.ReservationCount())

	stored, err := f.sched.GetReservation(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, stored.ID)
}

func TestAdmit_SeventhBookingExceedsCapacity(t *testing.T) {
	f := newFixture(t)
	for _, start := range []string{"09:00", "09:40", "10:20", "11:00", "13:00", "13:40"} {
		f.mustAdmit(t, monday, start)
	}

	_, err := f.admit(t, monday, "18:00")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, "CAPACITY_EXCEEDED", ReasonCode(err))
	assert.Equal(t, 6, f.repo.ReservationCount())
}

func TestAdmit_ConcurrentSameSlotOnlyOneWins(t *testing.T) {
	hours := DefaultOperatingHours()
	hours.StepMinutes = 30
	f := newFixtureWithHours(t, hours)

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.admit(t, monday, "14:00")
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrSlotOverlap)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.repo.ReservationCount())
}

func TestAdmit_ConcurrentBookingsNeverOverlapOrExceedCapacity(t *testing.T) {
	hours := DefaultOperatingHours()
	hours.StepMinutes = 10
	f := newFixtureWithHours(t, hours)

	starts := []string{"09:00", "09:10", "09:20", "09:30", "09:40", "10:00", "10:20", "10:30", "13:00", "13:20", "13:50", "14:00", "15:00", "15:10", "16:00", "17:00"}
	var wg sync.WaitGroup
	for _, s := range starts {
		wg.Add(1)
		go func(start string) {
			defer wg.Done()
			_, _ = f.admit(t, monday, start)
		}(s)
	}
	wg.Wait()

	rows, err := f.sched.ListReservations(context.Background(), "X", monday)
	require.NoError(t, err)

	committed := 0
	for i := range rows {
		committed += rows[i].DurationMinutes()
		for j := i + 1; j < len(rows); j++ {
			assert.False(t,
				intersects(rows[i].SlotStart, rows[i].OccupiedUntil(), rows[j].SlotStart, rows[j].OccupiedUntil()),
				"%s and %s overlap", rows[i].SlotStart, rows[j].SlotStart)
		}
	}
	assert.LessOrEqual(t, committed, 180)
}

func TestAdmit_RejectionsWriteNothing(t *testing.T) {
	f := newFixture(t)
	f.mustAdmit(t, monday, "09:00")

	tests := []struct {
		name string
		req  AdmissionRequest
		want error
	}{
		{
			name: "overlap",
			req:  AdmissionRequest{ServiceCode: "X", Date: monday, SlotStart: NewTimeOfDay(9, 0), Patient: patient()},
			want: ErrSlotOverlap,
		},
		{
			name: "off grid start",
			req:  AdmissionRequest{ServiceCode: "X", Date: monday, SlotStart: NewTimeOfDay(9, 10), Patient: patient()},
			want: ErrInvalidSlotGranularity,
		},
		{
			name: "outside operating hours",
			req:  AdmissionRequest{ServiceCode: "X", Date: monday, SlotStart: NewTimeOfDay(21, 0), Patient: patient()},
			want: ErrInvalidSlotGranularity,
		},
		{
			name: "past date",
			req:  AdmissionRequest{ServiceCode: "X", Date: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), SlotStart: NewTimeOfDay(9, 0), Patient: patient()},
			want: ErrPastDate,
		},
		{
			name: "past closed day",
			req:  AdmissionRequest{ServiceCode: "X", Date: time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC), SlotStart: NewTimeOfDay(9, 0), Patient: patient()},
			want: ErrPastDate,
		},
		{
			name: "closed day",
			req:  AdmissionRequest{ServiceCode: "X", Date: time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC), SlotStart: NewTimeOfDay(9, 0), Patient: patient()},
			want: ErrClosedDay,
		},
		{
			name: "unknown service",
			req:  AdmissionRequest{ServiceCode: "NOPE", Date: monday, SlotStart: NewTimeOfDay(9, 40), Patient: patient()},
			want: ErrServiceNotFound,
		},
		{
			name: "missing patient phone",
			req:  AdmissionRequest{ServiceCode: "X", Date: monday, SlotStart: NewTimeOfDay(9, 40), Patient: PatientInfo{Name: "Lee"}},
			want: ErrInvalidPatient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sched.Admit(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, f.repo.ReservationCount())
		})
	}
}

func TestAdmit_InactiveService(t *testing.T) {
	f := newFixture(t)
	f.repo.AddService(Service{Code: "OFF", Name: "Retired", DurationMinutes: 30, IsActive: false})

	_, err := f.sched.Admit(context.Background(), AdmissionRequest{
		ServiceCode: "OFF", Date: monday, SlotStart: NewTimeOfDay(9, 0), Patient: patient(),
	})
	assert.ErrorIs(t, err, ErrServiceInactive)
	assert.Equal(t, 0, f.repo.ReservationCount())
}

func TestAdmit_RetriesStoreFaultOnce(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.repo.createHook = func() error {
		calls++
		if calls == 1 {
			return errors.New("connection reset by peer")
		}
		return nil
	}

	r, err := f.admit(t, monday, "09:00")
	require.NoError(t, err)
	assert.NotNil(t, r)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, f.repo.ReservationCount())
}

func TestAdmit_PersistentStoreFaultSurfaces(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.repo.createHook = func() error {
		calls++
		return errors.New("connection refused")
	}

	_, err := f.admit(t, monday, "09:00")
	require.Error(t, err)
	assert.Equal(t, "INTERNAL", ReasonCode(err))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, f.repo.ReservationCount())
}

type busyLocker struct{}

func (busyLocker) WithKeyLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestAdmit_LockNotAcquiredIsBusy(t *testing.T) {
	f := newFixture(t)
	f.admission.locker = busyLocker{}

	_, err := f.admit(t, monday, "09:00")
	assert.ErrorIs(t, err, ErrAdmissionBusy)
	assert.Equal(t, CategoryContention, CategoryOf(err))
	assert.Equal(t, 0, f.repo.ReservationCount())
}

func TestAdmit_LockBackendDownFallsBackToStoreLock(t *testing.T) {
	f := newFixture(t)
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	f.admission.locker = redisclient.NewKeyLocker(rdb, time.Second, time.Second)

	r, err := f.admit(t, monday, "09:00")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)

	_, err = f.admit(t, monday, "09:00")
	assert.ErrorIs(t, err, ErrSlotOverlap)
	assert.Equal(t, 1, f.repo.ReservationCount())
}

func TestAdmit_DeadlineLeavesNoRow(t *testing.T) {
	f := newFixture(t)
	f.repo.createHook = func() error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.sched.Admit(ctx, AdmissionRequest{
		ServiceCode: "X", Date: monday, SlotStart: NewTimeOfDay(9, 0), Patient: patient(),
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "TIMEOUT", ReasonCode(err))
	assert.Equal(t, 0, f.repo.ReservationCount())
}

func TestReschedule_CancelledMidMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.mustAdmit(t, monday, "09:00")

	f.repo.moveHook = func() {
		_, err := f.repo.UpdateReservationStatus(ctx, r.ID, StatusPending, StatusCancelled, ptr("patient request"), time.Now())
		require.NoError(t, err)
	}

	_, err := f.sched.Reschedule(ctx, r.ID, monday, NewTimeOfDay(13, 0))
	assert.ErrorIs(t, err, ErrImmutableField)

	got, err := f.sched.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "09:00", got.SlotStart.String())
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.mustAdmit(t, monday, "09:00")
	b := f.mustAdmit(t, monday, "10:20")

	t.Run("to a free slot", func(t *testing.T) {
		moved, err := f.sched.Reschedule(ctx, a.ID, monday, NewTimeOfDay(13, 0))
		require.NoError(t, err)
		assert.Equal(t, "13:00", moved.SlotStart.String())
		assert.Equal(t, PeriodAfternoon, moved.Period)

		res, err := f.sched.ComputeSlots(ctx, "X", monday)
		require.NoError(t, err)
		assert.True(t, slotAt(t, res, "09:00").Available)
		assert.False(t, slotAt(t, res, "13:00").Available)
	})

	t.Run("within its own window", func(t *testing.T) {
		moved, err := f.sched.Reschedule(ctx, a.ID, monday, NewTimeOfDay(13, 0))
		require.NoError(t, err)
		assert.Equal(t, "13:00", moved.SlotStart.String())
	})

	t.Run("onto another reservation", func(t *testing.T) {
		_, err := f.sched.Reschedule(ctx, a.ID, monday, NewTimeOfDay(10, 20))
		assert.ErrorIs(t, err, ErrSlotOverlap)
	})

	t.Run("to another day", func(t *testing.T) {
		tuesday := monday.AddDate(0, 0, 1)
		moved, err := f.sched.Reschedule(ctx, b.ID, tuesday, NewTimeOfDay(9, 0))
		require.NoError(t, err)
		assert.True(t, moved.Date.Equal(tuesday))

		rows, err := f.sched.ListReservations(ctx, "X", monday)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("terminal reservation", func(t *testing.T) {
		_, err := f.sched.Transition(ctx, a.ID, StatusCancelled, "moved away", false)
		require.NoError(t, err)

		_, err = f.sched.Reschedule(ctx, a.ID, monday, NewTimeOfDay(9, 0))
		assert.ErrorIs(t, err, ErrImmutableField)
	})

	assert.Equal(t, 2, f.repo.ReservationCount())
}
