package scheduling

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func warningCodes(e *CascadeEffect) []string {
	codes := make([]string, 0, len(e.Warnings))
	for _, w := range e.Warnings {
		codes = append(codes, w.Code)
	}
	return codes
}

func TestCalculateCascade(t *testing.T) {
	tests := []struct {
		name           string
		oldMin, newMin int
		before, after  int
		change         CapacityChange
		warnings       []string
	}{
		{"longer appointments", 30, 45, 6, 4, CapacityDecrease, []string{WarningMaxBookingsChanged}},
		{"shorter appointments", 30, 20, 6, 9, CapacityIncrease, []string{WarningMaxBookingsChanged}},
		{"slightly longer", 30, 35, 6, 5, CapacityDecrease, []string{WarningMaxBookingsChanged}},
		{"unchanged", 30, 30, 6, 6, CapacityUnchanged, []string{}},
		{"limit below duration", 30, 240, 6, 0, CapacityDecrease, []string{WarningMaxBookingsChanged, WarningLimitBelowDuration}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			e, err := f.sched.CalculateCascade(context.Background(), "X", tt.oldMin, tt.newMin)
			require.NoError(t, err)
			require.NotNil(t, e.MaxBookingsBefore)
			require.NotNil(t, e.MaxBookingsAfter)
			assert.Equal(t, tt.before, *e.MaxBookingsBefore)
			assert.Equal(t, tt.after, *e.MaxBookingsAfter)
			assert.Equal(t, tt.change, e.Change)
			assert.Equal(t, tt.warnings, warningCodes(e))
			assert.Equal(t, 180, *e.DailyLimitMinutes)
		})
	}
}

func TestCalculateCascade_Unlimited(t *testing.T) {
	f := newFixture(t)
	f.repo.AddService(Service{Code: "Y", Name: "Checkup", DurationMinutes: 20, IsActive: true})

	e, err := f.sched.CalculateCascade(context.Background(), "Y", 20, 40)
	require.NoError(t, err)
	assert.Equal(t, CapacityUnlimited, e.Change)
	assert.Nil(t, e.MaxBookingsBefore)
	assert.Nil(t, e.DailyLimitMinutes)
	assert.NotNil(t, e.Warnings)
	assert.Empty(t, e.Warnings)
}

func TestCalculateCascade_InactiveLimitIsUnlimited(t *testing.T) {
	f := newFixture(t)
	f.repo.SetCapacityLimit(CapacityLimit{ServiceID: f.svc.ID, DailyLimitMinutes: 180, IsActive: false})

	e, err := f.sched.CalculateCascade(context.Background(), "X", 30, 45)
	require.NoError(t, err)
	assert.Equal(t, CapacityUnlimited, e.Change)
}

func TestCalculateCascade_InvalidInput(t *testing.T) {
	f := newFixture(t)

	for _, pair := range [][2]int{{5, 30}, {30, 9}, {30, 481}, {0, 0}} {
		_, err := f.sched.CalculateCascade(context.Background(), "X", pair[0], pair[1])
		assert.ErrorIs(t, err, ErrInvalidDuration, "%v", pair)
	}

	_, err := f.sched.CalculateCascade(context.Background(), "NOPE", 30, 45)
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestCalculateCascade_CountsFutureReservations(t *testing.T) {
	f := newFixture(t)
	f.mustAdmit(t, monday, "09:00")
	f.mustAdmit(t, monday.AddDate(0, 0, 1), "09:00")

	e, err := f.sched.CalculateCascade(context.Background(), "X", 30, 45)
	require.NoError(t, err)
	assert.Equal(t, 2, e.FutureReservationsCount)
	assert.Contains(t, warningCodes(e), WarningFutureReservations)
}

func TestUpdateServiceDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := f.mustAdmit(t, monday, "09:00")

	_, _, err := f.sched.UpdateServiceDuration(ctx, "X", 45, false)
	assert.ErrorIs(t, err, ErrForbidden)

	_, _, err = f.sched.UpdateServiceDuration(ctx, "X", 500, true)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	effect, svc, err := f.sched.UpdateServiceDuration(ctx, "X", 45, true)
	require.NoError(t, err)
	assert.Equal(t, 30, effect.OldDurationMinutes)
	assert.Equal(t, 45, svc.DurationMinutes)

	// Existing reservations keep their booked window.
	got, err := f.sched.GetReservation(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.DurationMinutes())

	res, err := f.sched.ComputeSlots(ctx, "X", monday)
	require.NoError(t, err)
	assert.Equal(t, 45, res.Metadata.DurationMinutes)
}

func TestPreviewCascade_UsesCurrentDuration(t *testing.T) {
	f := newFixture(t)

	e, err := f.sched.PreviewCascade(context.Background(), "X", 60)
	require.NoError(t, err)
	assert.Equal(t, 30, e.OldDurationMinutes)
	assert.Equal(t, 3, *e.MaxBookingsAfter)
}
