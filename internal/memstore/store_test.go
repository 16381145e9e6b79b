package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapycal/internal/models"
)

func TestStoreListFindDelete(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	later, err := s.InsertEvent(ctx, models.Event{Start: base.Add(time.Hour), End: base.Add(90 * time.Minute),
		Private: map[string]string{models.KeyAvailabilityType: models.BlockedSlot}})
	require.NoError(t, err)
	earlier, err := s.InsertEvent(ctx, models.Event{Start: base, End: base.Add(30 * time.Minute),
		Private: map[string]string{models.KeyAvailabilityType: models.AvailableSlot}})
	require.NoError(t, err)

	all, err := s.ListEvents(ctx, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, earlier, all[0].ID, "ordered by start")
	assert.Equal(t, later, all[1].ID)

	found, err := s.FindEventsByMetadata(ctx, models.KeyAvailabilityType, models.BlockedSlot, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, later, found[0].ID)

	require.NoError(t, s.DeleteEvent(ctx, later))
	assert.ErrorIs(t, s.DeleteEvent(ctx, later), models.ErrEventNotFound)
	assert.Equal(t, 1, s.Len())
}

func TestStoreHonoursLimit(t *testing.T) {
	ctx := context.Background()
	s := New(3)
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		start := base.Add(time.Duration(i) * 30 * time.Minute)
		s.Seed(models.Event{Start: start, End: start.Add(30 * time.Minute)})
	}
	got, err := s.ListEvents(ctx, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestStoreCopiesMetadata(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	meta := map[string]string{models.KeyReason: "original"}
	s.Seed(models.Event{Start: base, End: base.Add(time.Hour), Private: meta})
	meta[models.KeyReason] = "mutated"

	got, err := s.ListEvents(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "original", got[0].Meta(models.KeyReason))
}
