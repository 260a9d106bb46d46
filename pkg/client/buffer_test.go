package client

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingCapacityEviction(t *testing.T) {
	r := NewRing[int](50)

	for i := 0; i < 60; i++ {
		r.Push(i)
	}

	require.Equal(t, 50, r.Len())
	snap := r.Snapshot()
	// Most-recent-first: 59 down to 10; 0..9 evicted.
	assert.Equal(t, 59, snap[0])
	assert.Equal(t, 10, snap[49])
}

func TestRingUnderCapacity(t *testing.T) {
	r := NewRing[string](10)
	r.Push("a")
	r.Push("b")

	require.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"b", "a"}, r.Snapshot())
}

func TestRingOrderAfterWrap(t *testing.T) {
	r := NewRing[string](3)
	for i := 0; i < 5; i++ {
		r.Push(fmt.Sprintf("m%d", i))
	}
	assert.Equal(t, []string{"m4", "m3", "m2"}, r.Snapshot())
}

func TestRingSnapshotIsCopy(t *testing.T) {
	r := NewRing[int](3)
	r.Push(1)
	snap := r.Snapshot()
	snap[0] = 99

	assert.Equal(t, 1, r.Snapshot()[0])
}

func TestRingClear(t *testing.T) {
	r := NewRing[int](3)
	r.Push(1)
	r.Push(2)
	r.Clear()

	assert.Equal(t, 0, r.Len())
	r.Push(7)
	assert.Equal(t, []int{7}, r.Snapshot())
}
