package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSlots_CandidatesFollowServiceTotalMinutes(t *testing.T) {
	f := newFixture(t)

	res, err := f.sched.ComputeSlots(context.Background(), "X", monday)
	require.NoError(t, err)

	var starts []string
	for _, s := range res.ByPeriod()[PeriodMorning] {
		starts = append(starts, s.Start.String())
		assert.True(t, s.Available)
		assert.Equal(t, s.Start.Add(30), s.End)
	}
	// 11:40 would end at 12:10, past the morning close.
	assert.Equal(t, []string{"09:00", "09:40", "10:20", "11:00"}, starts)

	assert.Equal(t, "Consultation", res.Metadata.ServiceName)
	assert.Equal(t, 30, res.Metadata.DurationMinutes)
	assert.Equal(t, 40, res.Metadata.TotalMinutes)
	require.NotNil(t, res.Metadata.DailyLimitMinutes)
	assert.Equal(t, 180, *res.Metadata.DailyLimitMinutes)
	assert.Equal(t, 0, res.Metadata.CommittedMinutes)

	for i := 1; i < len(res.Slots); i++ {
		assert.Less(t, res.Slots[i-1].Start, res.Slots[i].Start, "slots must be chronological")
	}
}

func TestComputeSlots_ConfirmedReservationBlocksItsWindow(t *testing.T) {
	f := newFixture(t)
	r := f.mustAdmit(t, monday, "09:00")
	f.confirm(t, r.ID)

	res, err := f.sched.ComputeSlots(context.Background(), "X", monday)
	require.NoError(t, err)

	nine := slotAt(t, res, "09:00")
	assert.False(t, nine.Available)
	assert.Equal(t, string(ReasonOverlap), reasonOf(nine))

	next := slotAt(t, res, "09:40")
	assert.True(t, next.Available)
	assert.Equal(t, 30, res.Metadata.CommittedMinutes)
}

func TestComputeSlots_CancellationFreesSlot(t *testing.T) {
	f := newFixture(t)
	r := f.mustAdmit(t, monday, "09:00")
	f.confirm(t, r.ID)

	cancelled, err := f.sched.Transition(context.Background(), r.ID, StatusCancelled, "환자 요청", false)
	require.NoError(t, err)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "환자 요청", *cancelled.CancelReason)

	res, err := f.sched.ComputeSlots(context.Background(), "X", monday)
	require.NoError(t, err)
	assert.True(t, slotAt(t, res, "09:00").Available)
	assert.Equal(t, 0, res.Metadata.CommittedMinutes)
}

func TestComputeSlots_NoShowReleasesCapacity(t *testing.T) {
	f := newFixture(t)
	r := f.mustAdmit(t, monday, "09:00")
	f.confirm(t, r.ID)

	_, err := f.sched.Transition(context.Background(), r.ID, StatusNoShow, "", true)
	require.NoError(t, err)

	res, err := f.sched.ComputeSlots(context.Background(), "X", monday)
	require.NoError(t, err)
	assert.True(t, slotAt(t, res, "09:00").Available)
}

func TestComputeSlots_CapacityExhausted(t *testing.T) {
	f := newFixture(t)
	for _, start := range []string{"09:00", "09:40", "10:20", "11:00", "13:00", "13:40"} {
		f.mustAdmit(t, monday, start)
	}

	res, err := f.sched.ComputeSlots(context.Background(), "X", monday)
	require.NoError(t, err)
	assert.Equal(t, 180, res.Metadata.CommittedMinutes)

	assert.Equal(t, string(ReasonOverlap), reasonOf(slotAt(t, res, "13:00")))
	assert.Equal(t, string(ReasonCapacityExceeded), reasonOf(slotAt(t, res, "14:20")))
	assert.Equal(t, string(ReasonCapacityExceeded), reasonOf(slotAt(t, res, "19:20")))
}

func TestComputeSlots_ReasonPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		date   time.Time
		now    time.Time
		start  string
		expect UnavailableReason
	}{
		{
			name:   "closed sunday",
			date:   time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC),
			now:    time.Date(2025, 1, 15, 8, 0, 0, 0, kst),
			start:  "09:00",
			expect: ReasonClosedDay,
		},
		{
			name:   "past sunday is past, not closed",
			date:   time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC),
			now:    time.Date(2025, 1, 15, 8, 0, 0, 0, kst),
			start:  "09:00",
			expect: ReasonPast,
		},
		{
			name:   "past date",
			date:   time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC),
			now:    time.Date(2025, 1, 15, 8, 0, 0, 0, kst),
			start:  "09:00",
			expect: ReasonPast,
		},
		{
			name:   "earlier today",
			date:   time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
			now:    time.Date(2025, 1, 15, 10, 0, 0, 0, kst),
			start:  "09:40",
			expect: ReasonPast,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.clock.t = tt.now

			res, err := f.sched.ComputeSlots(context.Background(), "X", tt.date)
			require.NoError(t, err)
			assert.Equal(t, string(tt.expect), reasonOf(slotAt(t, res, tt.start)))
		})
	}
}

func TestComputeSlots_SameDayFutureSlotsStayOpen(t *testing.T) {
	f := newFixture(t)
	f.clock.t = time.Date(2025, 1, 15, 10, 0, 0, 0, kst)
	today := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	res, err := f.sched.ComputeSlots(context.Background(), "X", today)
	require.NoError(t, err)

	assert.Equal(t, string(ReasonPast), reasonOf(slotAt(t, res, "09:00")))
	assert.True(t, slotAt(t, res, "10:20").Available)
}

func TestComputeSlots_Holiday(t *testing.T) {
	hours := DefaultOperatingHours()
	hours.Holidays = []time.Time{monday}
	f := newFixtureWithHours(t, hours)

	res, err := f.sched.ComputeSlots(context.Background(), "X", monday)
	require.NoError(t, err)
	for _, s := range res.Slots {
		assert.Equal(t, string(ReasonClosedDay), reasonOf(s))
	}
}

func TestComputeSlots_UnknownAndInactiveService(t *testing.T) {
	f := newFixture(t)
	f.repo.AddService(Service{Code: "OFF", Name: "Retired", DurationMinutes: 30, IsActive: false})

	_, err := f.sched.ComputeSlots(context.Background(), "NOPE", monday)
	assert.ErrorIs(t, err, ErrServiceNotFound)

	_, err = f.sched.ComputeSlots(context.Background(), "OFF", monday)
	assert.ErrorIs(t, err, ErrServiceInactive)
}

func TestComputeSlots_NoLimitReportsNilDailyLimit(t *testing.T) {
	f := newFixture(t)
	f.repo.AddService(Service{Code: "Y", Name: "Checkup", DurationMinutes: 20, BufferMinutes: 0, IsActive: true})

	res, err := f.sched.ComputeSlots(context.Background(), "Y", monday)
	require.NoError(t, err)
	assert.Nil(t, res.Metadata.DailyLimitMinutes)
	assert.Equal(t, "09:20", res.Slots[1].Start.String())
}

type failingReader struct{ *MemoryRepository }

func (failingReader) ListBlockingReservations(context.Context, string, time.Time) ([]Reservation, error) {
	return nil, errors.New("connection reset")
}

func TestComputeSlots_StoreFaultIsNotRetried(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(failingReader{f.repo}, f.cal, nil, zerolog.Nop())

	_, err := engine.ComputeSlots(context.Background(), "X", monday)
	require.Error(t, err)
	assert.Equal(t, "INTERNAL", ReasonCode(err))
	assert.Equal(t, CategoryFault, CategoryOf(err))
}
