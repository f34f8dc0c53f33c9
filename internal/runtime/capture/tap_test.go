package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/framerelay/internal/runtime/frames"
	"github.com/drblury/framerelay/internal/runtime/telemetry"
)

func collect(tap *Tap) (*[]frames.CapturedFrame, func()) {
	var (
		mu  sync.Mutex
		got []frames.CapturedFrame
	)
	unsubscribe := tap.Subscribe(func(f frames.CapturedFrame) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})
	return &got, unsubscribe
}

func TestObserveFiltersByAllowList(t *testing.T) {
	metrics := telemetry.NewPipelineMetrics(prometheus.NewRegistry())
	tap := NewTap([]string{"WebcastChatMessage"}, WithMetrics(metrics))
	got, _ := collect(tap)

	assert.True(t, tap.Observe("WebcastChatMessage", []byte{1}))
	assert.False(t, tap.Observe("WebcastControlMessage", []byte{2}))

	require.Len(t, *got, 1)
	assert.Equal(t, "WebcastChatMessage", (*got)[0].Kind)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.FramesAccepted)
	assert.Equal(t, uint64(1), snap.FramesRejected)
}

func TestObserveCopiesPayload(t *testing.T) {
	tap := NewTap([]string{"X"})
	got, _ := collect(tap)

	buf := []byte{1, 2, 3}
	tap.Observe("X", buf)
	buf[0] = 9

	require.Len(t, *got, 1)
	assert.Equal(t, []byte{1, 2, 3}, (*got)[0].Payload)
}

func TestObserveStampsCaptureTime(t *testing.T) {
	at := time.UnixMilli(100)
	tap := NewTap([]string{"X"}, WithClock(func() time.Time { return at }))
	got, _ := collect(tap)

	tap.Observe("X", nil)
	tap.ObserveAt("X", nil, time.UnixMilli(101))

	require.Len(t, *got, 2)
	assert.Equal(t, at, (*got)[0].CapturedAt)
	assert.Equal(t, int64(101), (*got)[1].CapturedAt.UnixMilli())
}

func TestUnsubscribe(t *testing.T) {
	tap := NewTap([]string{"X"})
	first, unsubscribe := collect(tap)
	second, _ := collect(tap)

	tap.Observe("X", nil)
	unsubscribe()
	unsubscribe()
	tap.Observe("X", nil)

	assert.Len(t, *first, 1)
	assert.Len(t, *second, 2)
	assert.NotPanics(t, func() { tap.Subscribe(nil)() })
}

func TestObserveWithoutSubscribersStillReportsEmission(t *testing.T) {
	tap := NewTap([]string{"X"})
	assert.True(t, tap.Observe("X", []byte{1}))
}

func TestAllowedKindsSorted(t *testing.T) {
	tap := NewTap([]string{"b", "a", "b"})
	assert.Equal(t, []string{"a", "b"}, tap.AllowedKinds())
	assert.True(t, tap.Allows("a"))
	assert.False(t, tap.Allows("c"))
}
