// Package experiment implements the per-lane experiment state machine and
// the three-lane supervisor that coordinates pause/resume on an open
// enclosure lid.
package experiment

import (
	"time"

	"github.com/photoreactor/prcontrol/internal/units"
)

// LedDescriptor is one side (front or back) of a lane's LED configuration
// within an experiment template.
type LedDescriptor struct {
	MaxCurrent      units.Current
	Intensity       float64 // target PWM intensity fraction, [0,1]
	DistanceMm      float64
	ExposureSeconds float64
	MinWavelengthNm float64
}

// IsUV reports whether this LED counts as a UV source.
func (l LedDescriptor) IsUV() bool { return l.MinWavelengthNm <= 400 }

// Template is the user-supplied blueprint for one experiment run.
type Template struct {
	Name                 string
	UID                  uint64
	HardwareConfigRef    string
	Lane                 units.LedLane
	Front                *LedDescriptor // nil if unused
	Back                 *LedDescriptor // nil if unused
	SampleTimepoints     []float64      // seconds from start, strictly increasing
	MeasurementInterval  time.Duration
	ThermocouplePosition string
}

// UsesUV reports whether either configured LED is a UV source.
func (t Template) UsesUV() bool {
	return (t.Front != nil && t.Front.IsUV()) || (t.Back != nil && t.Back.IsUV())
}

// EventLogEntry is one ordered entry in an experiment's event log.
type EventLogEntry struct {
	TimepointSeconds float64
	Event            string
}

// MeasuredDataPoint is one periodic measurement sample.
type MeasuredDataPoint struct {
	TimepointSeconds   float64
	ThermocoupleC      float64
	PowerBoxAmbientC   float64
	ReactorBoxAmbientC float64
	LaneVoltageMv      float64
	LaneCurrentMa      float64
	LaneIrTempC        float64
	UvIndex            float64
	AmbientLux         float64
}

// Record is the finalized output of a terminated runner.
type Record struct {
	Template               Template
	LabNotebookEntry       string
	ParallelExperimentUIDs []uint64
	EventLog               []EventLogEntry
	MeasuredData           []MeasuredDataPoint
	ErrorOccurred          bool
	ExperimentCancelled    bool
	CompletionDate         time.Time
}

// SensorSnapshot is the combined, lane-scoped reading a runner needs to
// build one MeasuredDataPoint. The controller computes it by averaging
// the lane's front and back voltage/current readings.
type SensorSnapshot struct {
	ThermocoupleC      float64
	PowerBoxAmbientC   float64
	ReactorBoxAmbientC float64
	LaneVoltageMv      float64
	LaneCurrentMa      float64
	LaneIrTempC        float64
	UvIndex            float64
	AmbientLux         float64
}
