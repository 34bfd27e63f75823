package controller

import "github.com/photoreactor/prcontrol/internal/units"

// nextTwoThreshold computes the next state of a warn/abort threshold
// machine (ambient and per-lane IR temperature both use this shape).
// ABORT is sticky: once reached it holds regardless of subsequent
// readings, matching "any state -> ABORT ... or state was ABORT".
// OK_AGAIN re-enters EXCEEDED when the reading climbs back above warn —
// deliberate, so a recovered signal warns again instead of staying
// silent until abort (see DESIGN.md).
func nextTwoThreshold(current units.ThresholdStatus, v, warn, abort units.Temperature) units.ThresholdStatus {
	if current == units.ThresholdAbort || v > abort {
		return units.ThresholdAbort
	}
	switch current {
	case units.ThresholdExceeded:
		if v <= warn {
			return units.ThresholdOKAgain
		}
		return units.ThresholdExceeded
	default: // ThresholdOK, ThresholdOKAgain
		if v > warn {
			return units.ThresholdExceeded
		}
		return current
	}
}

// nextSingleThreshold computes the next state of the thermocouple's
// single-threshold machine: no ABORT state, only OK/EXCEEDED/OK_AGAIN.
func nextSingleThreshold(current units.ThresholdStatus, v, threshold units.Temperature) units.ThresholdStatus {
	switch current {
	case units.ThresholdExceeded:
		if v <= threshold {
			return units.ThresholdOKAgain
		}
		return units.ThresholdExceeded
	default:
		if v > threshold {
			return units.ThresholdExceeded
		}
		return current
	}
}
