package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/keylock"
)

var kst = time.FixedZone("KST", 9*60*60)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

// monday is a regular opening day after the fixed "now" of 2025-01-15 08:00 KST.
var monday = time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)

type fixture struct {
	repo      *MemoryRepository
	clock     *fixedClock
	cal       Calendar
	svc       *Service
	sched     *Scheduler
	admission *AdmissionController
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithHours(t, DefaultOperatingHours())
}

// newFixtureWithHours sets up service X (30 min, 10 min buffer, 180 min/day).
func newFixtureWithHours(t *testing.T, hours OperatingHours) *fixture {
	t.Helper()
	require.NoError(t, hours.Validate())

	repo := NewMemoryRepository()
	svc := repo.AddService(Service{
		Code:            "X",
		Name:            "Consultation",
		DurationMinutes: 30,
		BufferMinutes:   10,
		IsActive:        true,
	})
	repo.SetCapacityLimit(CapacityLimit{ServiceID: svc.ID, DailyLimitMinutes: 180, IsActive: true})

	clock := &fixedClock{t: time.Date(2025, 1, 15, 8, 0, 0, 0, kst)}
	cal := Calendar{Hours: hours, Location: kst, Clock: clock}

	sched := NewScheduler(repo, keylock.New(), cal, nil, zerolog.Nop())
	sched.admission.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

	return &fixture{
		repo:      repo,
		clock:     clock,
		cal:       cal,
		svc:       svc,
		sched:     sched,
		admission: sched.admission,
	}
}

func patient() PatientInfo {
	return PatientInfo{Name: "Kim Minji", Phone: "010-1234-5678"}
}

func (f *fixture) admit(t *testing.T, date time.Time, start string) (*Reservation, error) {
	t.Helper()
	tod, err := ParseTimeOfDay(start)
	require.NoError(t, err)
	return f.sched.Admit(context.Background(), AdmissionRequest{
		ServiceCode: "X",
		Date:        date,
		SlotStart:   tod,
		Patient:     patient(),
	})
}

func (f *fixture) mustAdmit(t *testing.T, date time.Time, start string) *Reservation {
	t.Helper()
	r, err := f.admit(t, date, start)
	require.NoError(t, err)
	return r
}

func (f *fixture) confirm(t *testing.T, id uuid.UUID) *Reservation {
	t.Helper()
	r, err := f.sched.Transition(context.Background(), id, StatusConfirmed, "", true)
	require.NoError(t, err)
	return r
}

func slotAt(t *testing.T, res *SlotsResult, start string) Slot {
	t.Helper()
	tod, err := ParseTimeOfDay(start)
	require.NoError(t, err)
	for _, s := range res.Slots {
		if s.Start == tod {
			return s
		}
	}
	t.Fatalf("no slot at %s", start)
	return Slot{}
}

func reasonOf(s Slot) string {
	if s.UnavailableReason == nil {
		return ""
	}
	return string(*s.UnavailableReason)
}

func ptr[T any](v T) *T { return &v }
