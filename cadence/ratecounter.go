package cadence

import "github.com/gammazero/deque"

// averagingWindowMs is the sliding window width used by the input
// framerate estimator.
const averagingWindowMs = 1000

// rateCounter is a rolling rate estimator over a fixed time window,
// reporting a rate in Hz (samples per second). Accumulates timestamped
// samples in a deque and evicts from the front once they age out of
// the window.
type rateCounter struct {
	samples   deque.Deque[int64] // millisecond timestamps, oldest first
	windowMs  int64
}

func newRateCounter(windowMs int64) *rateCounter {
	return &rateCounter{windowMs: windowMs}
}

// addSample records one event at nowMs and evicts samples older than
// the window.
func (c *rateCounter) addSample(nowMs int64) {
	c.samples.PushBack(nowMs)
	c.evict(nowMs)
}

func (c *rateCounter) evict(nowMs int64) {
	for c.samples.Len() > 0 && nowMs-c.samples.Front() > c.windowMs {
		c.samples.PopFront()
	}
}

// rate returns the current estimate in Hz and whether enough samples
// exist to report one. A single sample can't establish a rate since
// there is no elapsed interval yet.
func (c *rateCounter) rate(nowMs int64) (float64, bool) {
	c.evict(nowMs)
	if c.samples.Len() < 2 {
		return 0, false
	}
	elapsedMs := nowMs - c.samples.Front()
	if elapsedMs <= 0 {
		return 0, false
	}
	// c.samples.Len() events span elapsedMs; scale to Hz.
	return float64(c.samples.Len()) * 1000.0 / float64(elapsedMs), true
}
