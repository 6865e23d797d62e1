package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"direct-booking/internal/status"
	"direct-booking/internal/store"
	"direct-booking/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func june(d int) models.Date {
	return models.NewDate(2025, time.June, d)
}

func TestFindConflict(t *testing.T) {
	existing := []*models.Booking{
		{ID: "b1", CheckIn: june(10), CheckOut: june(14), Status: status.Confirmed},
		{ID: "b2", CheckIn: june(20), CheckOut: june(25), Status: status.Pending},
		{ID: "b3", CheckIn: june(5), CheckOut: june(30), Status: status.Cancelled},
		{ID: "b4", CheckIn: june(1), CheckOut: june(4), Status: status.Completed},
	}

	tests := []struct {
		name      string
		in, out   models.Date
		excludeID string
		wantID    string
	}{
		{"free gap", june(14), june(20), "", ""},
		{"same-day turnover after", june(14), june(16), "", ""},
		{"same-day turnover before", june(8), june(10), "", ""},
		{"overlaps first", june(12), june(16), "", "b1"},
		{"overlaps second", june(22), june(23), "", "b2"},
		{"spans both reports earliest", june(11), june(21), "", "b1"},
		{"terminal bookings ignored", june(1), june(4), "", ""},
		{"excluded booking skipped", june(11), june(13), "b1", ""},
		{"exclusion only skips itself", june(11), june(21), "b1", "b2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindConflict(existing, tt.in, tt.out, tt.excludeID)
			if tt.wantID == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

type failingStore struct {
	store.Store
	err error
}

func (f failingStore) LoadActiveBookingsForProperty(context.Context, string) ([]*models.Booking, error) {
	return nil, f.err
}

func TestCheckAvailability(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.PutBooking(&models.Booking{ID: "b1", PropertyID: "p1", CheckIn: june(10), CheckOut: june(14), Status: status.Pending})
	c := NewAvailabilityChecker(st, time.Second)

	av, err := c.CheckAvailability(ctx, "p1", june(12), june(16))
	require.NoError(t, err)
	assert.False(t, av.Available)
	require.NotNil(t, av.Conflict)
	assert.Equal(t, "b1", av.Conflict.ID)

	av, err = c.CheckAvailability(ctx, "p1", june(14), june(18))
	require.NoError(t, err)
	assert.True(t, av.Available)
	assert.Nil(t, av.Conflict)

	_, err = c.CheckAvailability(ctx, "p1", june(14), june(14))
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestCheckAvailability_StoreFailure(t *testing.T) {
	c := NewAvailabilityChecker(failingStore{err: errors.New("db down")}, time.Second)

	_, err := c.CheckAvailability(context.Background(), "p1", june(1), june(2))

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindPersistence, perr.Kind())
}
