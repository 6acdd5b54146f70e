package cadence

// layerState is spatialLayerTracker's tri-state field: disabled,
// enabled-but-not-converged, or enabled-and-converged.
type layerState int

const (
	layerDisabled layerState = iota
	layerEnabledUnconverged
	layerEnabledConverged
)

// spatialLayerTracker is one simulcast layer's convergence state. A
// ZeroHertz mode owns a fixed-length ordered sequence of these, one
// per simulcast layer, sized at construction.
type spatialLayerTracker struct {
	state layerState
}

// setEnabled updates the layer's enabled state. Enabling an
// already-enabled layer is a no-op that preserves the converged bit;
// enabling a disabled layer always starts it unconverged. Disabling
// always clears the converged bit.
func (t *spatialLayerTracker) setEnabled(enabled bool) {
	if enabled {
		if t.state == layerDisabled {
			t.state = layerEnabledUnconverged
		}
		return
	}
	t.state = layerDisabled
}

// setConverged updates the layer's converged bit. A no-op if the
// tracker is disabled — convergence has no meaning for a layer that
// isn't being sent.
func (t *spatialLayerTracker) setConverged(converged bool) {
	if t.state == layerDisabled {
		return
	}
	if converged {
		t.state = layerEnabledConverged
	} else {
		t.state = layerEnabledUnconverged
	}
}

// invalidateConverged clears the converged bit on every enabled
// tracker, leaving disabled trackers untouched. Called on every
// arriving frame, since a new frame means the encoder has new pixels
// to converge on again.
func invalidateConverged(trackers []spatialLayerTracker) {
	for i := range trackers {
		if trackers[i].state == layerEnabledConverged {
			trackers[i].state = layerEnabledUnconverged
		}
	}
}

// allConverged reports whether every enabled tracker has its
// converged bit set. Disabled trackers don't participate, so an empty
// set of enabled trackers yields true.
func allConverged(trackers []spatialLayerTracker) bool {
	for i := range trackers {
		if trackers[i].state == layerEnabledUnconverged {
			return false
		}
	}
	return true
}
