package cadence

import "framecadence/internal/clock"

// Passthrough forwards every frame unchanged to the sink and
// maintains a sliding-window input-framerate estimator. It has no
// suspension, no concurrency, no failure paths.
type Passthrough struct {
	clock clock.Clock
	sink  Sink
	rate  *rateCounter
}

// NewPassthrough constructs a Passthrough mode bound to clk and sink.
func NewPassthrough(clk clock.Clock, sink Sink) *Passthrough {
	return &Passthrough{
		clock: clk,
		sink:  sink,
		rate:  newRateCounter(averagingWindowMs),
	}
}

// OnFrame forwards post_time, ingress_depth, and frame to the sink
// without modification. No queueing, no timestamp rewrite.
func (p *Passthrough) OnFrame(postTimeUs int64, ingressDepth int, frame Frame) {
	p.sink.OnFrame(postTimeUs, ingressDepth, frame)
}

// InputFPS returns the current estimate from the rolling rate
// counter; absent when insufficient samples exist.
func (p *Passthrough) InputFPS() (float64, bool) {
	return p.rate.rate(p.clock.NowMs())
}

// TickFrameRate records one sample at the current clock time.
func (p *Passthrough) TickFrameRate() {
	p.rate.addSample(p.clock.NowMs())
}
