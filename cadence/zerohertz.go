package cadence

import (
	"fmt"
	"time"

	"github.com/gammazero/deque"

	"framecadence/internal/clock"
	"framecadence/internal/log"
	"framecadence/internal/taskqueue"
)

// DefaultIdleRepeatPeriod is the idle repeat period used when a
// ZeroHertz mode is constructed without WithIdleRepeatPeriod.
const DefaultIdleRepeatPeriod = 3 * time.Second

// ZeroHertzOption configures a ZeroHertz mode at construction.
type ZeroHertzOption func(*ZeroHertz)

// WithIdleRepeatPeriod overrides DefaultIdleRepeatPeriod.
func WithIdleRepeatPeriod(d time.Duration) ZeroHertzOption {
	return func(z *ZeroHertz) { z.idleRepeatPeriod = d }
}

// ZeroHertz queues frames and emits each on a cadence-aligned
// deadline; when the queue runs dry it enters a repeat loop whose
// period depends on per-layer convergence state. This is the core
// scheduler: a single-threaded cooperative state machine layered over
// taskqueue.Queue.
type ZeroHertz struct {
	queue taskqueue.Queue
	clock clock.Clock
	sink  Sink

	maxFPS           float64
	frameDelay       time.Duration
	idleRepeatPeriod time.Duration

	trackers []spatialLayerTracker

	// queued frame buffer: empty only before the first arrival, 1
	// while repeating, >=1 while delayed emissions are pending.
	frames deque.Deque[Frame]

	// generationID is incremented on every arrival. A scheduled
	// repeat task captures it at schedule time and aborts if it no
	// longer matches the live value when it fires — a cancellation
	// primitive used in place of task handles.
	generationID uint64
	isRepeating  bool

	token *lifetimeToken

	active bool // reentrancy guard; all methods are worker-only.
}

// NewZeroHertz constructs a ZeroHertz mode. maxFPS must be positive;
// layerCount is the fixed simulcast layer count.
func NewZeroHertz(queue taskqueue.Queue, clk clock.Clock, sink Sink, maxFPS float64, layerCount int, opts ...ZeroHertzOption) *ZeroHertz {
	if maxFPS <= 0 {
		panic(fmt.Errorf("cadence: zero-hertz max_fps must be positive, got %v", maxFPS))
	}
	z := &ZeroHertz{
		queue:            queue,
		clock:            clk,
		sink:             sink,
		maxFPS:           maxFPS,
		frameDelay:       time.Duration(float64(time.Second) / maxFPS),
		idleRepeatPeriod: DefaultIdleRepeatPeriod,
		trackers:         make([]spatialLayerTracker, layerCount),
		token:            newLifetimeToken(),
	}
	for _, opt := range opts {
		opt(z)
	}
	return z
}

// Close invalidates this mode's lifetime token. Any deferred task
// already posted becomes a silent no-op when it fires.
func (z *ZeroHertz) Close() {
	z.token.invalidate()
}

func (z *ZeroHertz) enter() func() {
	if z.active {
		panic(fmt.Errorf("%w: reentrant zero-hertz call", ErrWrongGoroutine))
	}
	z.active = true
	return func() { z.active = false }
}

// UpdateLayerEnabled updates whether simulcast layer index is
// currently being sent.
func (z *ZeroHertz) UpdateLayerEnabled(index int, enabled bool) {
	defer z.enter()()
	assertRange(index, len(z.trackers))
	z.trackers[index].setEnabled(enabled)
}

// UpdateLayerConverged updates whether simulcast layer index has
// reached its target quality.
func (z *ZeroHertz) UpdateLayerConverged(index int, converged bool) {
	defer z.enter()()
	assertRange(index, len(z.trackers))
	z.trackers[index].setConverged(converged)
}

// OnFrame accepts a newly-arrived frame, queues it, and schedules its
// delayed emission.
func (z *ZeroHertz) OnFrame(postTimeUs int64, ingressDepth int, frame Frame) {
	defer z.enter()()

	// 1. A new frame invalidates prior convergence.
	invalidateConverged(z.trackers)

	// 2. If currently repeating, the queue holds exactly one (the
	// repeating) frame — drop it.
	if z.isRepeating {
		z.frames.Clear()
		z.isRepeating = false
	}

	// 3. Append the new frame, bump the generation id, clear repeating.
	z.frames.PushBack(frame)
	z.generationID++

	// 4. Schedule delayed emission after frame_delay.
	z.queue.PostDelayed(z.token.guard(z.delayedEmission), z.frameDelay)
}

// InputFPS returns max_fps — the mode imposes the cadence, it doesn't
// measure one.
func (z *ZeroHertz) InputFPS() (float64, bool) {
	return z.maxFPS, true
}

// TickFrameRate is a no-op in zero-hertz mode.
func (z *ZeroHertz) TickFrameRate() {}

// delayedEmission fires frame_delay after an arrival. It is not
// generation-gated: only repeats need that check, because a delayed
// emission always has front-of-queue work to do — an arrival only
// ever replaces or appends frames, and each arrival schedules its own
// delayed emission.
func (z *ZeroHertz) delayedEmission() {
	defer z.enter()()

	if z.frames.Len() == 0 {
		// Defensive: no code path empties the queue while a delayed
		// emission is pending.
		return
	}

	z.sendNow(z.frames.Front())

	if z.frames.Len() > 1 {
		// A newer arrival superseded the one just sent; its own
		// delayed emission will handle it.
		z.frames.PopFront()
		return
	}

	z.isRepeating = true
	z.scheduleRepeat(z.generationID)
}

// scheduleRepeat schedules the next repeat of the front-of-queue
// frame, tagged with genID so a later arrival can cancel it.
func (z *ZeroHertz) scheduleRepeat(genID uint64) {
	repeatDelay := z.frameDelay
	if allConverged(z.trackers) {
		repeatDelay = z.idleRepeatPeriod
	}
	log.Debugf("zero-hertz: scheduling repeat in %v (gen=%d, all_converged=%v)", repeatDelay, genID, repeatDelay == z.idleRepeatPeriod)
	z.queue.PostDelayed(z.token.guard(func() { z.processRepeat(genID, repeatDelay) }), repeatDelay)
}

// processRepeat fires when a scheduled repeat's deadline elapses. It
// re-emits the front-of-queue frame with its update rectangle cleared
// and timestamps advanced, then schedules the next repeat.
func (z *ZeroHertz) processRepeat(genID uint64, scheduledDelay time.Duration) {
	defer z.enter()()

	// 1. Stale generation: a newer arrival cancelled this chain.
	if genID != z.generationID {
		return
	}

	// 2. queue.front() is guaranteed present by the queue invariant.
	frame := z.frames.Front()

	// 3. A repeated frame changes no pixels.
	frame.UpdateRect = EmptyUpdateRect

	// 4. Advance timestamps to compensate for the wait. Unset (zero)
	// timestamps are left unchanged.
	if frame.CaptureTimestampUs > 0 {
		frame.CaptureTimestampUs += scheduledDelay.Microseconds()
	}
	if frame.NtpTimeMs != 0 {
		frame.NtpTimeMs += scheduledDelay.Milliseconds()
	}
	z.frames.PopFront()
	z.frames.PushBack(frame)

	// 5. Emit.
	z.sendNow(frame)

	// 6. Perpetual repeat until cancelled.
	z.scheduleRepeat(genID)
}

// sendNow hands frame to the sink. ingress_depth is intentionally
// fixed at 1 — the true backlog depth isn't meaningful once the
// cadence is imposed by the mode itself.
func (z *ZeroHertz) sendNow(frame Frame) {
	z.sink.OnFrame(z.clock.Now(), 1, frame)
}

// Snapshot reports the mode's current scheduling state, for tests and
// host-process health checks. Read-only and never mutates state.
type ZeroHertzSnapshot struct {
	QueueLen     int
	IsRepeating  bool
	GenerationID uint64
	LayerStates  []int // see layerState; exposed as int to avoid leaking the unexported type
}

func (z *ZeroHertz) Snapshot() ZeroHertzSnapshot {
	states := make([]int, len(z.trackers))
	for i, t := range z.trackers {
		states[i] = int(t.state)
	}
	return ZeroHertzSnapshot{
		QueueLen:     z.frames.Len(),
		IsRepeating:  z.isRepeating,
		GenerationID: z.generationID,
		LayerStates:  states,
	}
}
