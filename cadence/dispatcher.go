package cadence

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lucsky/cuid"

	"framecadence/internal/clock"
	"framecadence/internal/log"
	"framecadence/internal/taskqueue"
	"framecadence/internal/telemetry"
)

// SourceConstraints carries optional min_fps/max_fps, both
// non-negative when present.
type SourceConstraints struct {
	MinFPS *float64
	MaxFPS *float64
}

// ZeroHertzParams carries the zero-hertz configuration the dispatcher
// hands to a ZeroHertz mode on instantiation.
type ZeroHertzParams struct {
	NumSimulcastLayers int
}

// DispatcherOptions configures a Dispatcher at construction.
type DispatcherOptions struct {
	// ZeroHertzScreenshareEnabled is the feature toggle read once at
	// construction time; immutable thereafter.
	ZeroHertzScreenshareEnabled bool
	// Reporter receives the one-shot zero-hertz enable telemetry.
	// Defaults to telemetry.Noop.
	Reporter telemetry.Reporter
	// IdleRepeatPeriod overrides DefaultIdleRepeatPeriod for any
	// ZeroHertz mode this dispatcher instantiates. Zero means "use
	// the default".
	IdleRepeatPeriod time.Duration
}

// Dispatcher owns both modes, accepts ingress frames on an arbitrary
// goroutine, marshals them onto the worker, and selects the active
// mode based on source constraints and the feature toggle.
type Dispatcher struct {
	id string

	queue taskqueue.Queue
	clock clock.Clock

	zeroHertzScreenshareEnabled bool
	reporter                    telemetry.Reporter
	idleRepeatPeriod            time.Duration

	sink Sink

	passthrough *Passthrough
	zeroHertz   *ZeroHertz

	// activeMode is a non-owning selector into one of the two mode
	// fields above, updated only from the worker.
	activeMode AdapterMode

	initialized atomicBool

	constraints     SourceConstraints
	haveConstraints bool
	zhParams        ZeroHertzParams
	haveZHParams    bool
	zeroHertzActive bool

	// worker pins every worker-only method below to the goroutine that
	// first calls one of them.
	worker workerGuard

	umaReported atomicBool

	// scheduledFramesInFlight counts frames posted to the worker but
	// not yet dispatched to the active mode: incremented on ingress
	// before enqueueing the worker task, decremented by the worker
	// task before invoking the mode. Relaxed ordering suffices — it's
	// advisory, and the frame itself travels through the task queue's
	// own happens-before edge.
	scheduledFramesInFlight atomic.Int64
}

// NewDispatcher constructs an empty Dispatcher. Call Initialize before
// posting any frames.
func NewDispatcher(queue taskqueue.Queue, clk clock.Clock, opts DispatcherOptions) *Dispatcher {
	reporter := opts.Reporter
	if reporter == nil {
		reporter = telemetry.Noop{}
	}
	return &Dispatcher{
		id:                          cuid.New(),
		queue:                       queue,
		clock:                       clk,
		zeroHertzScreenshareEnabled: opts.ZeroHertzScreenshareEnabled,
		reporter:                    reporter,
		idleRepeatPeriod:            opts.IdleRepeatPeriod,
	}
}

// ID returns the dispatcher's diagnostic instance id, stamped into log
// lines so multiple dispatcher instances in one process are
// distinguishable.
func (d *Dispatcher) ID() string { return d.id }

// Initialize is one-shot: it stores the sink reference, instantiates
// the passthrough mode, and sets the active-mode selector to
// passthrough.
func (d *Dispatcher) Initialize(sink Sink) {
	if d.initialized.get() {
		panic(fmt.Errorf("%w (instance %s)", ErrAlreadyInitialized, d.id))
	}
	d.initialized.set(true)
	d.sink = sink
	d.passthrough = NewPassthrough(d.clock, sink)
	d.activeMode = d.passthrough
	log.Debugf("cadence[%s]: initialized, active mode = passthrough", d.id)
}

// SetZeroHertzMode records params (or clears it, if nil) and
// reconfigures. Worker only.
func (d *Dispatcher) SetZeroHertzMode(params *ZeroHertzParams) {
	d.worker.assertWorker()
	wasEnabled := d.haveZHParams
	if params != nil {
		d.zhParams = *params
		d.haveZHParams = true
	} else {
		d.haveZHParams = false
	}
	if !wasEnabled && d.haveZHParams {
		// Transitioning into "zero-hertz params present": constraint
		// statistics get re-reported on the next ingress.
		d.umaReported.set(false)
	}
	d.reconfigure()
}

// OnConstraintsChanged stores the latest constraints and reconfigures.
// Safe to call from any goroutine; the work is marshalled onto the
// worker.
func (d *Dispatcher) OnConstraintsChanged(constraints SourceConstraints) {
	d.queue.Post(func() {
		d.constraints = constraints
		d.haveConstraints = true
		d.reconfigure()
	})
}

// reconfigure applies the mode-selection policy: zero-hertz is wanted
// only when the feature toggle is on, constraints are known, max_fps
// is positive, min_fps is exactly zero, and zero-hertz params have
// been set. Worker only.
func (d *Dispatcher) reconfigure() {
	d.worker.assertWorker()
	wantZeroHertz := d.zeroHertzScreenshareEnabled &&
		d.haveConstraints &&
		d.constraints.MaxFPS != nil && *d.constraints.MaxFPS > 0 &&
		d.constraints.MinFPS != nil && *d.constraints.MinFPS == 0 &&
		d.haveZHParams

	switch {
	case wantZeroHertz && !d.zeroHertzActive:
		opts := d.zeroHertzOpts()
		d.zeroHertz = NewZeroHertz(d.queue, d.clock, d.sink, *d.constraints.MaxFPS, d.zhParams.NumSimulcastLayers, opts...)
		d.activeMode = d.zeroHertz
		d.zeroHertzActive = true
		log.Debugf("cadence[%s]: zero-hertz enabled, max_fps=%v layers=%d", d.id, *d.constraints.MaxFPS, d.zhParams.NumSimulcastLayers)
	case !wantZeroHertz && d.zeroHertzActive:
		d.zeroHertz.Close()
		d.zeroHertz = nil
		d.activeMode = d.passthrough
		d.zeroHertzActive = false
		log.Debugf("cadence[%s]: zero-hertz disabled, active mode = passthrough", d.id)
	default:
		// unchanged: only (re)affirm the active selector.
		if d.zeroHertzActive {
			d.activeMode = d.zeroHertz
		} else {
			d.activeMode = d.passthrough
		}
	}
}

func (d *Dispatcher) zeroHertzOpts() []ZeroHertzOption {
	if d.idleRepeatPeriod <= 0 {
		return nil
	}
	return []ZeroHertzOption{WithIdleRepeatPeriod(d.idleRepeatPeriod)}
}

// UpdateLayerEnabled forwards to the zero-hertz mode iff active.
// Worker only.
func (d *Dispatcher) UpdateLayerEnabled(index int, enabled bool) {
	d.worker.assertWorker()
	if d.zeroHertzActive {
		d.zeroHertz.UpdateLayerEnabled(index, enabled)
	}
}

// UpdateLayerConverged forwards to the zero-hertz mode iff active.
// Worker only.
func (d *Dispatcher) UpdateLayerConverged(index int, converged bool) {
	d.worker.assertWorker()
	if d.zeroHertzActive {
		d.zeroHertz.UpdateLayerConverged(index, converged)
	}
}

// InputFPS delegates to the current active mode. Worker only.
func (d *Dispatcher) InputFPS() (float64, bool) {
	d.worker.assertWorker()
	return d.activeMode.InputFPS()
}

// TickFrameRate is unconditionally forwarded to the passthrough mode
// regardless of active mode — this keeps the estimator primed so a
// subsequent mode switch back to passthrough returns a meaningful
// value immediately rather than needing to warm back up.
func (d *Dispatcher) TickFrameRate() {
	d.passthrough.TickFrameRate()
}

// OnFrame is the ingress entrypoint, callable from any goroutine. It
// reads the clock for post_time, atomically increments the in-flight
// counter, and posts a worker task that decrements the counter
// (capturing the pre-decrement value as ingress_depth), invokes the
// active mode, and triggers one-shot UMA reporting.
func (d *Dispatcher) OnFrame(frame Frame) {
	postTimeUs := d.clock.Now()
	d.scheduledFramesInFlight.Add(1)
	d.queue.Post(func() {
		// Add(-1) returns the post-decrement value; +1 recovers the
		// pre-decrement value: the frames still in flight, this one
		// included, at the moment the worker consumes it.
		ingressDepth := int(d.scheduledFramesInFlight.Add(-1) + 1)
		d.activeMode.OnFrame(postTimeUs, ingressDepth, frame)
		d.maybeReportUMA()
	})
}

// OnDiscardedFrame passes through to the sink.
func (d *Dispatcher) OnDiscardedFrame() {
	d.sink.OnDiscardedFrame()
}

func (d *Dispatcher) maybeReportUMA() {
	if !d.haveZHParams || d.umaReported.get() {
		return
	}
	d.umaReported.set(true)
	minFPS, maxFPS := d.constraints.MinFPS, d.constraints.MaxFPS
	mi, ma := 0, 0
	if minFPS != nil {
		mi = int(*minFPS)
	}
	if maxFPS != nil {
		ma = int(*maxFPS)
	}
	d.reporter.ReportZeroHertzEnabled(minFPS, maxFPS, telemetry.Bucket(mi, ma))
}
