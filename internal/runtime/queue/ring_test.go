package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func filled(items ...string) *Ring[string] {
	r := New[string]()
	r.Push(items...)
	return r
}

func TestPushAndPopNKeepOrder(t *testing.T) {
	r := filled("a", "b", "c")

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"a", "b"}, r.PopN(2))
	assert.Equal(t, []string{"c"}, r.PopN(5))
	assert.Nil(t, r.PopN(1))
	assert.Equal(t, 0, r.Len())
}

func TestPushFrontRestoresHead(t *testing.T) {
	r := filled("a", "b", "c")
	batch := r.PopN(2)
	r.Push("d")

	r.PushFront(batch)

	assert.Equal(t, []string{"a", "b", "c", "d"}, r.Snapshot())
}

func TestPushFrontOnEmptyAndNil(t *testing.T) {
	r := New[string]()
	r.PushFront(nil)
	assert.Equal(t, 0, r.Len())

	r.PushFront([]string{"x", "y"})
	assert.Equal(t, []string{"x", "y"}, r.Snapshot())
}

func TestDropFront(t *testing.T) {
	r := filled("a", "b", "c")
	assert.Equal(t, 2, r.DropFront(2))
	assert.Equal(t, []string{"c"}, r.Snapshot())
	assert.Equal(t, 1, r.DropFront(4))
	assert.Equal(t, 0, r.DropFront(1))
}

func TestTruncateBack(t *testing.T) {
	r := filled("a", "b", "c", "d")
	assert.Equal(t, 0, r.TruncateBack(10))
	assert.Equal(t, 2, r.TruncateBack(2))
	assert.Equal(t, []string{"a", "b"}, r.Snapshot())

	r.Push("e")
	assert.Equal(t, []string{"a", "b", "e"}, r.Snapshot())
	assert.Equal(t, 3, r.TruncateBack(-1))
	assert.Equal(t, 0, r.Len())
}

func TestSnapshotIsACopy(t *testing.T) {
	r := filled("a", "b")
	snap := r.Snapshot()
	snap[0] = "z"
	assert.Equal(t, []string{"a", "b"}, r.Snapshot())
}

func TestDrainAcrossGrowth(t *testing.T) {
	r := New[int]()
	for i := 0; i < 100; i++ {
		r.Push(i)
	}
	r.DropFront(90)
	for i := 100; i < 120; i++ {
		r.Push(i)
	}

	got := r.Drain()
	assert.Len(t, got, 30)
	assert.Equal(t, 90, got[0])
	assert.Equal(t, 119, got[29])
}
