package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventContainsIsHalfOpen(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := Event{Start: start, End: start.Add(30 * time.Minute)}

	assert.True(t, ev.Contains(start))
	assert.True(t, ev.Contains(start.Add(29*time.Minute)))
	assert.False(t, ev.Contains(start.Add(30*time.Minute)))
	assert.False(t, ev.Contains(start.Add(-time.Second)))
}

func TestEventOverlaps(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ev := Event{Start: start, End: start.Add(50 * time.Minute)}

	assert.True(t, ev.Overlaps(start.Add(30*time.Minute), start.Add(60*time.Minute)))
	assert.False(t, ev.Overlaps(start.Add(50*time.Minute), start.Add(80*time.Minute)))
	assert.False(t, ev.Overlaps(start.Add(-30*time.Minute), start))
}

func TestEventMetaNilMap(t *testing.T) {
	assert.Equal(t, "", Event{}.Meta(KeyReason))
	assert.Equal(t, "x", Event{Private: map[string]string{KeyReason: "x"}}.Meta(KeyReason))
}
