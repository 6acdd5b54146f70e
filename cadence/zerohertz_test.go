package cadence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"framecadence/internal/taskqueue"
)

func newTestZeroHertz(t *testing.T, layerCount int, opts ...ZeroHertzOption) (*ZeroHertz, *taskqueue.Fake, *taskqueue.FakeClock, *recordingSink) {
	t.Helper()
	clk := taskqueue.NewFakeClock(0)
	q := taskqueue.NewFake(clk)
	sink := &recordingSink{}
	z := NewZeroHertz(q, clk, sink, 10, layerCount, opts...) // 10fps -> 100ms frame delay
	return z, q, clk, sink
}

func TestNewZeroHertzPanicsOnNonPositiveMaxFPS(t *testing.T) {
	clk := taskqueue.NewFakeClock(0)
	q := taskqueue.NewFake(clk)
	sink := &recordingSink{}
	assert.Panics(t, func() { NewZeroHertz(q, clk, sink, 0, 1) })
	assert.Panics(t, func() { NewZeroHertz(q, clk, sink, -5, 1) })
}

func TestUpdateLayerOutOfRangePanics(t *testing.T) {
	z, _, _, _ := newTestZeroHertz(t, 2)
	assert.Panics(t, func() { z.UpdateLayerEnabled(2, true) })
	assert.Panics(t, func() { z.UpdateLayerConverged(-1, true) })
}

func TestZeroHertzArrivalEmitsAfterFrameDelay(t *testing.T) {
	z, q, _, sink := newTestZeroHertz(t, 1)

	z.OnFrame(0, 1, Frame{Payload: []byte("f1")})
	assert.Empty(t, sink.frames, "no emission before frame_delay elapses")

	q.Advance(100 * time.Millisecond)
	assert.Len(t, sink.frames, 1)
	assert.Equal(t, []byte("f1"), sink.frames[0].Payload)
}

// All layers start disabled, and disabled layers don't participate in
// convergence, so the default idle-repeat cadence applies once the
// queue runs dry.
func TestZeroHertzIdleRepeatUsesIdlePeriodWhenAllLayersDisabled(t *testing.T) {
	z, q, _, sink := newTestZeroHertz(t, 1, WithIdleRepeatPeriod(200*time.Millisecond))

	z.OnFrame(0, 1, Frame{
		Payload:            []byte("f1"),
		CaptureTimestampUs: 1000,
		UpdateRect:         UpdateRect{X: 1, Y: 2, Width: 3, Height: 4},
	})
	q.Advance(100 * time.Millisecond)
	assert.Len(t, sink.frames, 1)
	assert.False(t, sink.frames[0].UpdateRect.IsEmpty(), "the original emission keeps its real update rect")

	// No further arrival; the repeat loop should fire at the idle
	// period, not the (faster) frame delay.
	q.Advance(100 * time.Millisecond) // t=200ms: would fire if repeat used frame_delay
	assert.Len(t, sink.frames, 1, "repeat period is idle (200ms), not frame_delay (100ms)")

	q.Advance(100 * time.Millisecond) // t=300ms: idle period elapsed since first emission
	assert.Len(t, sink.frames, 2)
	repeat := sink.frames[1]
	assert.True(t, repeat.UpdateRect.IsEmpty(), "a repeated frame changes no pixels")
	assert.Equal(t, int64(1000+200_000), repeat.CaptureTimestampUs, "timestamp advances by the scheduled delay")
}

func TestZeroHertzUnconvergedEnabledLayerRepeatsAtFrameDelay(t *testing.T) {
	z, q, _, sink := newTestZeroHertz(t, 1, WithIdleRepeatPeriod(5*time.Second))
	z.UpdateLayerEnabled(0, true) // enabled, starts unconverged

	z.OnFrame(0, 1, Frame{Payload: []byte("f1")})
	q.Advance(100 * time.Millisecond)
	assert.Len(t, sink.frames, 1)

	q.Advance(100 * time.Millisecond) // frame_delay elapsed again
	assert.Len(t, sink.frames, 2, "unconverged layer repeats at frame_delay, not the 5s idle period")
}

// Convergence state is read when a repeat is scheduled, not
// retroactively applied to one already in flight: the repeat the
// unconverged layer already scheduled still fires on its original
// (fast) cadence, and only the next one after it slows down.
func TestZeroHertzConvergenceLetsRepeatSlowDown(t *testing.T) {
	z, q, _, sink := newTestZeroHertz(t, 1, WithIdleRepeatPeriod(500*time.Millisecond))
	z.UpdateLayerEnabled(0, true)

	z.OnFrame(0, 1, Frame{Payload: []byte("f1")})
	q.Advance(100 * time.Millisecond) // t=100ms: f1 emitted, repeat scheduled at frame_delay (still unconverged)
	assert.Len(t, sink.frames, 1)

	z.UpdateLayerConverged(0, true)

	q.Advance(100 * time.Millisecond) // t=200ms: the already-scheduled fast repeat fires regardless
	assert.Len(t, sink.frames, 2)

	q.Advance(400 * time.Millisecond) // t=600ms: the idle period (now converged) hasn't elapsed yet
	assert.Len(t, sink.frames, 2)

	q.Advance(100 * time.Millisecond) // t=700ms: 500ms idle period since the t=200ms repeat
	assert.Len(t, sink.frames, 3)
}

func TestZeroHertzDisabledLayerDoesNotVetoConvergence(t *testing.T) {
	z, q, _, sink := newTestZeroHertz(t, 2, WithIdleRepeatPeriod(200*time.Millisecond))
	z.UpdateLayerEnabled(1, true)
	// layer 0 stays disabled throughout.

	z.OnFrame(0, 1, Frame{Payload: []byte("f1")})
	// The arrival cleared layer 1's converged bit; converge it again
	// before the first emission schedules the repeat.
	z.UpdateLayerConverged(1, true)
	q.Advance(100 * time.Millisecond)
	assert.Len(t, sink.frames, 1)

	q.Advance(100 * time.Millisecond) // t=200ms: would fire if disabled layer 0 blocked convergence
	assert.Len(t, sink.frames, 1)

	q.Advance(100 * time.Millisecond) // t=300ms: idle period elapsed
	assert.Len(t, sink.frames, 2)
}

func TestZeroHertzNewArrivalCancelsScheduledRepeat(t *testing.T) {
	z, q, _, sink := newTestZeroHertz(t, 1, WithIdleRepeatPeriod(200*time.Millisecond))

	z.OnFrame(0, 1, Frame{Payload: []byte("f1")})
	q.Advance(100 * time.Millisecond) // f1 emitted at t=100ms, repeat scheduled for t=300ms
	assert.Len(t, sink.frames, 1)

	q.Advance(50 * time.Millisecond) // t=150ms
	z.OnFrame(150_000, 1, Frame{Payload: []byte("f2")})

	q.Advance(100 * time.Millisecond) // t=250ms: f2's delayed emission fires
	assert.Len(t, sink.frames, 2)
	assert.Equal(t, []byte("f2"), sink.frames[1].Payload)

	q.Advance(50 * time.Millisecond) // t=300ms: the cancelled f1 repeat would have fired here
	assert.Len(t, sink.frames, 2, "the stale repeat chain was cancelled by generation mismatch")

	q.Advance(150 * time.Millisecond) // t=450ms: f2's own repeat, scheduled at t=250+200
	assert.Len(t, sink.frames, 3)
}

func TestZeroHertzBurstArrivalsEachEmitIndependently(t *testing.T) {
	z, q, _, sink := newTestZeroHertz(t, 1)

	z.OnFrame(0, 1, Frame{Payload: []byte("f1")})       // delayed emission at t=100ms
	q.Advance(50 * time.Millisecond)                    // t=50ms
	z.OnFrame(50_000, 1, Frame{Payload: []byte("f2")}) // delayed emission at t=150ms

	q.Advance(50 * time.Millisecond) // t=100ms: f1's delayed emission
	assert.Len(t, sink.frames, 1)
	assert.Equal(t, []byte("f1"), sink.frames[0].Payload)

	q.Advance(50 * time.Millisecond) // t=150ms: f2's delayed emission
	assert.Len(t, sink.frames, 2)
	assert.Equal(t, []byte("f2"), sink.frames[1].Payload)
}

func TestZeroHertzCloseSilencesPendingRepeat(t *testing.T) {
	z, q, _, sink := newTestZeroHertz(t, 1, WithIdleRepeatPeriod(200*time.Millisecond))

	z.OnFrame(0, 1, Frame{Payload: []byte("f1")})
	q.Advance(100 * time.Millisecond)
	assert.Len(t, sink.frames, 1)

	z.Close()
	q.Advance(300 * time.Millisecond)
	assert.Len(t, sink.frames, 1, "a closed mode's pending repeat becomes a silent no-op")
}

func TestZeroHertzInputFPSReportsMaxFPS(t *testing.T) {
	z, _, _, _ := newTestZeroHertz(t, 1)
	rate, ok := z.InputFPS()
	assert.True(t, ok)
	assert.Equal(t, 10.0, rate)
}

func TestZeroHertzSnapshot(t *testing.T) {
	z, q, _, _ := newTestZeroHertz(t, 2)
	z.UpdateLayerEnabled(0, true)
	z.OnFrame(0, 1, Frame{Payload: []byte("f1")})

	snap := z.Snapshot()
	assert.Equal(t, 1, snap.QueueLen)
	assert.False(t, snap.IsRepeating)
	assert.Equal(t, uint64(1), snap.GenerationID)
	assert.Equal(t, []int{int(layerEnabledUnconverged), int(layerDisabled)}, snap.LayerStates)

	q.Advance(100 * time.Millisecond)
	snap = z.Snapshot()
	assert.True(t, snap.IsRepeating)
}
