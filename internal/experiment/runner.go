package experiment

import (
	"sync"
	"time"

	"github.com/photoreactor/prcontrol/internal/timerwheel"
	"github.com/photoreactor/prcontrol/internal/units"
)

// LedDriver is the subset of PowerBox a Runner needs to drive its lane's
// two LED positions.
type LedDriver interface {
	SetLedMaxCurrent(pos units.LedPosition, current units.Current)
	ActivateLed(pos units.LedPosition, targetIntensity float64) error
	DeactivateLed(pos units.LedPosition) error
}

// Sink is the non-owning handle a Runner holds back to its owner (the
// controller), avoiding a runner->controller->supervisor->runner import
// cycle: the controller satisfies this interface structurally without
// the experiment package importing it.
type Sink interface {
	AlertTakeSample(lane units.LedLane)
	EndExperiment(lane units.LedLane, record Record)
	SetUvInstalled(installed bool)
}

// SensorSource produces the combined sensor reading for one measurement
// tick.
type SensorSource interface {
	Snapshot(lane units.LedLane) SensorSnapshot
}

type runState int

const (
	stateIdle runState = iota
	stateRunning
)

// Runner is the per-lane experiment state machine: Idle or
// Running{paused, needsSample}, owning three one-shot timers (sample,
// led-front, led-back) and one periodic measurement scheduler.
type Runner struct {
	lane    units.LedLane
	leds    LedDriver
	sink    Sink
	sensors SensorSource
	wheel   *timerwheel.Wheel

	mu          sync.Mutex
	state       runState
	paused      bool
	needsSample bool
	cancelled   bool

	template         Template
	labNotebookEntry string
	parallelUIDs     []uint64
	startedAt        time.Time
	eventLog         []EventLogEntry
	measuredData     []MeasuredDataPoint
	errorOccurred    bool

	frontUsed, backUsed bool
	frontDone, backDone bool
	sampleIdx           int

	sampleTimerID, frontTimerID, backTimerID, measureTimerID int
	sampleRemaining, frontRemaining, backRemaining           time.Duration
}

// NewRunner creates an idle runner for lane.
func NewRunner(lane units.LedLane, leds LedDriver, sink Sink, sensors SensorSource, wheel *timerwheel.Wheel) *Runner {
	return &Runner{lane: lane, leds: leds, sink: sink, sensors: sensors, wheel: wheel}
}

// IsRunning reports whether the runner currently owns an experiment.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRunning
}

// IsPaused reports whether a running experiment is currently paused.
func (r *Runner) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRunning && r.paused
}

func (r *Runner) position(front bool) units.LedPosition {
	side := units.Back
	if front {
		side = units.Front
	}
	return units.LedPosition{Lane: r.lane, Side: side}
}

// StartExperiment begins a fresh run from template. Requires the runner
// to be Idle; callers (the Supervisor) are responsible for replacing a
// running runner's instance rather than calling this directly on one.
func (r *Runner) StartExperiment(template Template, labNotebookEntry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateIdle {
		panic("StartExperiment called on a non-idle runner")
	}

	r.template = template
	r.labNotebookEntry = labNotebookEntry
	r.parallelUIDs = nil
	r.startedAt = time.Now()
	r.eventLog = nil
	r.measuredData = nil
	r.errorOccurred = false
	r.cancelled = false
	r.frontDone, r.backDone = false, false
	r.sampleIdx = 0
	r.frontUsed = template.Front != nil
	r.backUsed = template.Back != nil

	if r.frontUsed {
		r.leds.SetLedMaxCurrent(r.position(true), template.Front.MaxCurrent)
	}
	if r.backUsed {
		r.leds.SetLedMaxCurrent(r.position(false), template.Back.MaxCurrent)
	}

	if len(template.SampleTimepoints) > 0 {
		delay := secondsToDuration(template.SampleTimepoints[0])
		r.sampleTimerID = r.wheel.Schedule(delay, r.onSampleTimerFired)
	}
	if r.frontUsed {
		r.frontTimerID = r.wheel.Schedule(secondsToDuration(template.Front.ExposureSeconds), r.onFrontTimerFired)
	}
	if r.backUsed {
		r.backTimerID = r.wheel.Schedule(secondsToDuration(template.Back.ExposureSeconds), r.onBackTimerFired)
	}
	r.armMeasurementLocked()

	if r.frontUsed {
		_ = r.leds.ActivateLed(r.position(true), template.Front.Intensity)
	}
	if r.backUsed {
		_ = r.leds.ActivateLed(r.position(false), template.Back.Intensity)
	}

	r.appendEventLocked(0, "experiment was started")
	r.state = stateRunning
	r.paused = false
	r.needsSample = false
}

func (r *Runner) armMeasurementLocked() {
	r.measureTimerID = r.wheel.Schedule(r.template.MeasurementInterval, r.onMeasurementTick)
}

func (r *Runner) appendEventLocked(timepointSeconds float64, event string) {
	r.eventLog = append(r.eventLog, EventLogEntry{TimepointSeconds: timepointSeconds, Event: event})
}

func (r *Runner) elapsedLocked() float64 {
	return time.Since(r.startedAt).Seconds()
}

// PauseExperiment records remaining timer deltas and deactivates active
// LEDs. No-op unless Running and not already paused.
func (r *Runner) PauseExperiment() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseLocked()
}

func (r *Runner) pauseLocked() {
	if r.state != stateRunning || r.paused {
		return
	}

	if r.sampleTimerID != 0 {
		r.sampleRemaining, _ = r.wheel.Remaining(r.sampleTimerID)
		r.wheel.Cancel(r.sampleTimerID)
		r.sampleTimerID = 0
	}
	if r.frontUsed && !r.frontDone {
		r.frontRemaining, _ = r.wheel.Remaining(r.frontTimerID)
		r.wheel.Cancel(r.frontTimerID)
		r.frontTimerID = 0
		_ = r.leds.DeactivateLed(r.position(true))
	}
	if r.backUsed && !r.backDone {
		r.backRemaining, _ = r.wheel.Remaining(r.backTimerID)
		r.wheel.Cancel(r.backTimerID)
		r.backTimerID = 0
		_ = r.leds.DeactivateLed(r.position(false))
	}

	r.paused = true
	r.appendEventLocked(r.elapsedLocked(), "experiment was paused")
}

// ResumeExperiment re-arms one-shot timers with their remaining deltas
// and reactivates active LEDs. No-op unless Running, paused, and the
// runner isn't waiting on an operator sample.
func (r *Runner) ResumeExperiment() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumeLocked()
}

func (r *Runner) resumeLocked() {
	if r.state != stateRunning || !r.paused || r.needsSample {
		return
	}
	r.resumeInternalLocked()
}

// resumeInternalLocked performs the resume mechanics without the
// needsSample guard, for the SampleWasTaken path which clears
// needsSample immediately before resuming.
func (r *Runner) resumeInternalLocked() {
	if r.sampleRemaining > 0 {
		r.sampleTimerID = r.wheel.Schedule(r.sampleRemaining, r.onSampleTimerFired)
		r.sampleRemaining = 0
	}
	if r.frontUsed && !r.frontDone {
		r.frontTimerID = r.wheel.Schedule(r.frontRemaining, r.onFrontTimerFired)
		_ = r.leds.ActivateLed(r.position(true), r.template.Front.Intensity)
	}
	if r.backUsed && !r.backDone {
		r.backTimerID = r.wheel.Schedule(r.backRemaining, r.onBackTimerFired)
		_ = r.leds.ActivateLed(r.position(false), r.template.Back.Intensity)
	}
	r.paused = false
	r.appendEventLocked(r.elapsedLocked(), "experiment was resumed")
}

// SampleWasTaken records that the operator took the requested sample.
// No-op unless the runner is waiting on one.
func (r *Runner) SampleWasTaken() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.needsSample {
		return
	}
	r.appendEventLocked(r.elapsedLocked(), "sample was taken")
	r.needsSample = false

	allLedsDone := (!r.frontUsed || r.frontDone) && (!r.backUsed || r.backDone)
	switch {
	case r.sampleIdx == len(r.template.SampleTimepoints) && allLedsDone:
		r.finalizeLocked()
	case r.sampleIdx < len(r.template.SampleTimepoints):
		delta := r.template.SampleTimepoints[r.sampleIdx] - r.elapsedLocked()
		// A timepoint that came due while the run sat paused still gets
		// its prompt: floor at one tick instead of dropping the timer
		// (a zero remaining means "no sample timer" on the resume path).
		if delta < 0.001 {
			delta = 0.001
		}
		r.sampleRemaining = secondsToDuration(delta)
		r.resumeInternalLocked()
	default:
		r.resumeInternalLocked()
	}
}

func (r *Runner) onSampleTimerFired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateRunning {
		return
	}
	r.sampleTimerID = 0
	r.needsSample = true
	r.sampleIdx++
	r.pauseLocked()
	r.sink.AlertTakeSample(r.lane)
}

func (r *Runner) onFrontTimerFired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateRunning {
		return
	}
	r.frontTimerID = 0
	_ = r.leds.DeactivateLed(r.position(true))
	r.frontDone = true
	r.maybeFinalizeOnLedDoneLocked()
}

func (r *Runner) onBackTimerFired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateRunning {
		return
	}
	r.backTimerID = 0
	_ = r.leds.DeactivateLed(r.position(false))
	r.backDone = true
	r.maybeFinalizeOnLedDoneLocked()
}

func (r *Runner) maybeFinalizeOnLedDoneLocked() {
	otherDone := (!r.frontUsed || r.frontDone) && (!r.backUsed || r.backDone)
	allSamplesConsumed := r.sampleIdx == len(r.template.SampleTimepoints)
	if otherDone && allSamplesConsumed {
		r.finalizeLocked()
	}
}

func (r *Runner) onMeasurementTick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateRunning {
		return
	}
	snap := r.sensors.Snapshot(r.lane)
	r.measuredData = append(r.measuredData, MeasuredDataPoint{
		TimepointSeconds:   r.elapsedLocked(),
		ThermocoupleC:      snap.ThermocoupleC,
		PowerBoxAmbientC:   snap.PowerBoxAmbientC,
		ReactorBoxAmbientC: snap.ReactorBoxAmbientC,
		LaneVoltageMv:      snap.LaneVoltageMv,
		LaneCurrentMa:      snap.LaneCurrentMa,
		LaneIrTempC:        snap.LaneIrTempC,
		UvIndex:            snap.UvIndex,
		AmbientLux:         snap.AmbientLux,
	})
	r.measureTimerID = r.wheel.Schedule(r.template.MeasurementInterval, r.onMeasurementTick)
}

// Cancel terminates the run unconditionally: deactivates both LEDs and
// finalizes with the cancelled flag set. A no-op if the runner is
// already Idle, guaranteeing at most one EndExperiment call.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateRunning {
		return
	}
	r.cancelled = true
	if r.frontUsed && !r.frontDone {
		_ = r.leds.DeactivateLed(r.position(true))
	}
	if r.backUsed && !r.backDone {
		_ = r.leds.DeactivateLed(r.position(false))
	}
	r.finalizeLocked()
}

// RegisterError flags that a safety observer detected a fault affecting
// this lane's running experiment.
func (r *Runner) RegisterError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateRunning {
		r.errorOccurred = true
	}
}

func (r *Runner) finalizeLocked() {
	r.wheel.Cancel(r.sampleTimerID)
	r.wheel.Cancel(r.frontTimerID)
	r.wheel.Cancel(r.backTimerID)
	r.wheel.Cancel(r.measureTimerID)

	record := Record{
		Template:               r.template,
		LabNotebookEntry:       r.labNotebookEntry,
		ParallelExperimentUIDs: append([]uint64(nil), r.parallelUIDs...),
		EventLog:               append([]EventLogEntry(nil), r.eventLog...),
		MeasuredData:           append([]MeasuredDataPoint(nil), r.measuredData...),
		ErrorOccurred:          r.errorOccurred,
		ExperimentCancelled:    r.cancelled,
		CompletionDate:         time.Now(),
	}

	r.state = stateIdle
	r.paused = false
	r.needsSample = false

	r.sink.EndExperiment(r.lane, record)
}

// AddParallelExperimentUID records another lane's UID as a parallel
// reference, announced by the supervisor when a new run starts.
func (r *Runner) AddParallelExperimentUID(uid uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateRunning {
		r.parallelUIDs = append(r.parallelUIDs, uid)
	}
}

// UsesUV reports whether the runner is currently running a template that
// drives a UV LED, for the supervisor's uv_installed recomputation.
func (r *Runner) UsesUV() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRunning && r.template.UsesUV()
}

// AppendEvent adds an externally-sourced event (a safety observer's
// warning, typically) to the running experiment's event log. No-op if
// the runner isn't Running.
func (r *Runner) AppendEvent(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateRunning {
		return
	}
	r.appendEventLocked(r.elapsedLocked(), event)
}

func secondsToDuration(s float64) time.Duration {
	if s < 0 {
		s = 0
	}
	return time.Duration(s * float64(time.Second))
}
