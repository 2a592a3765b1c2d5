package buffer_test

import (
	"testing"

	"codeberg.org/mutker/petvitals/internal/buffer"
	"codeberg.org/mutker/petvitals/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingKeepsLastCapacityValues(t *testing.T) {
	r, err := buffer.New[int](100)
	require.NoError(t, err)

	for i := 1; i <= 150; i++ {
		r.Push(i)
	}

	got := r.Snapshot()
	require.Len(t, got, 100)
	assert.Equal(t, 51, got[0])
	assert.Equal(t, 150, got[99])
	for i, v := range got {
		assert.Equal(t, 51+i, v)
	}
}

func TestRingLengthIsMinOfPushesAndCapacity(t *testing.T) {
	tests := []struct {
		capacity, pushes int
	}{
		{capacity: 1, pushes: 0},
		{capacity: 1, pushes: 1},
		{capacity: 1, pushes: 7},
		{capacity: 5, pushes: 3},
		{capacity: 5, pushes: 5},
		{capacity: 5, pushes: 23},
		{capacity: 64, pushes: 1000},
	}

	for _, tt := range tests {
		r := buffer.MustNew[int](tt.capacity)
		for i := 0; i < tt.pushes; i++ {
			r.Push(i)
			assert.LessOrEqual(t, r.Len(), tt.capacity)
		}

		want := min(tt.pushes, tt.capacity)
		got := r.Snapshot()
		require.Len(t, got, want)
		for i, v := range got {
			assert.Equal(t, tt.pushes-want+i, v)
		}
	}
}

func TestRingCapacityOneKeepsLatest(t *testing.T) {
	r := buffer.MustNew[string](1)
	r.Push("a")
	r.Push("b")

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, "b", last)
	assert.Equal(t, []string{"b"}, r.Snapshot())
}

func TestRingSnapshotIsACopy(t *testing.T) {
	r := buffer.MustNew[int](3)
	r.Push(1)
	r.Push(2)

	snap := r.Snapshot()
	snap[0] = 99

	assert.Equal(t, []int{1, 2}, r.Snapshot())
}

func TestRingClear(t *testing.T) {
	r := buffer.MustNew[int](3)
	r.Push(1)
	r.Clear()

	assert.Equal(t, 0, r.Len())
	_, ok := r.Last()
	assert.False(t, ok)

	r.Push(2)
	assert.Equal(t, []int{2}, r.Snapshot())
}

func TestRingRejectsNonPositiveCapacity(t *testing.T) {
	_, err := buffer.New[int](0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidCapacity))

	assert.Panics(t, func() { buffer.MustNew[int](-1) })
}
