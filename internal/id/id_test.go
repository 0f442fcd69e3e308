package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIsSortableAndUnique(t *testing.T) {
	g := NewGenerator(nil)
	prev := g.Next()
	seen := map[string]bool{prev: true}
	for range 1000 {
		next := g.Next()
		assert.Less(t, prev, next)
		assert.False(t, seen[next])
		seen[next] = true
		prev = next
	}
}

func TestSameMillisecondStaysOrdered(t *testing.T) {
	frozen := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	g := NewGenerator(func() time.Time { return frozen })

	a, b := g.Next(), g.Next()
	assert.Less(t, a, b)
	assert.Equal(t, a[:10], b[:10], "time prefix")

	stamp, err := Stamp(b)
	require.NoError(t, err)
	assert.True(t, stamp.Equal(frozen))
}

func TestLaterClockSortsAfter(t *testing.T) {
	clock := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	g := NewGenerator(func() time.Time { return clock })

	first := g.Next()
	clock = clock.Add(time.Millisecond)
	second := g.Next()
	assert.Less(t, first, second)
	assert.NotEqual(t, first[:10], second[:10])
}

func TestStampRejectsGarbage(t *testing.T) {
	_, err := Stamp("not-an-id")
	assert.Error(t, err)
}
