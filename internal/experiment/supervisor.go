package experiment

import (
	"sync"

	"github.com/photoreactor/prcontrol/internal/timerwheel"
	"github.com/photoreactor/prcontrol/internal/units"
)

// Supervisor owns the three lane runners and coordinates pause/resume
// when the enclosure lid opens mid-experiment. It is the only component
// that creates Runners, so it is also the only component that sees the
// lid-open/closed transitions the Controller reports.
type Supervisor struct {
	leds    LedDriver
	sink    Sink
	sensors SensorSource
	wheel   *timerwheel.Wheel

	mu              sync.Mutex
	runners         [3]*Runner
	lidOpen         bool
	autoPaused      map[units.LedLane]bool
	bufferedSamples map[units.LedLane]bool
}

// NewSupervisor builds a Supervisor with one idle runner per lane.
func NewSupervisor(leds LedDriver, sink Sink, sensors SensorSource, wheel *timerwheel.Wheel) *Supervisor {
	s := &Supervisor{leds: leds, sink: sink, sensors: sensors, wheel: wheel}
	for i, lane := range units.Lanes {
		s.runners[i] = NewRunner(lane, leds, sink, sensors, wheel)
	}
	return s
}

// StartExperimentOn replaces lane's runner with a fresh instance and
// starts it, announces the new UID to every other currently-running lane
// as a parallel-experiment reference, and recomputes uv_installed.
func (s *Supervisor) StartExperimentOn(lane units.LedLane, template Template, labNotebookEntry string) {
	s.mu.Lock()
	idx := lane.Index()
	fresh := NewRunner(lane, s.leds, s.sink, s.sensors, s.wheel)
	s.runners[idx] = fresh
	others := make([]*Runner, 0, 2)
	for i, r := range s.runners {
		if i != idx {
			others = append(others, r)
		}
	}
	s.mu.Unlock()

	fresh.StartExperiment(template, labNotebookEntry)
	for _, r := range others {
		r.AddParallelExperimentUID(template.UID)
	}
	s.recomputeUvInstalled()
}

func (s *Supervisor) recomputeUvInstalled() {
	s.mu.Lock()
	runners := s.runners
	s.mu.Unlock()

	installed := false
	for _, r := range runners {
		if r.UsesUV() {
			installed = true
			break
		}
	}
	s.sink.SetUvInstalled(installed)
}

// IsRunningOn reports whether the lane currently has a running
// experiment, for the command surface's start-on-busy-lane rejection.
func (s *Supervisor) IsRunningOn(lane units.LedLane) bool {
	return s.runnerFor(lane).IsRunning()
}

func (s *Supervisor) runnerFor(lane units.LedLane) *Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runners[lane.Index()]
}

// PauseExperimentOn pauses the lane's runner directly, unless the lid is
// currently open: then it only removes the lane from the auto-resume set
// recorded when the lid opened, so the lane stays paused after the lid
// closes.
func (s *Supervisor) PauseExperimentOn(lane units.LedLane) {
	s.mu.Lock()
	if s.lidOpen {
		delete(s.autoPaused, lane)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.runnerFor(lane).PauseExperiment()
}

// ResumeExperimentOn resumes the lane's runner directly, unless the lid
// is currently open: then it only adds the lane to the auto-resume set,
// deferring the actual resume to the next lid-closed transition.
func (s *Supervisor) ResumeExperimentOn(lane units.LedLane) {
	s.mu.Lock()
	if s.lidOpen {
		if s.autoPaused == nil {
			s.autoPaused = make(map[units.LedLane]bool)
		}
		s.autoPaused[lane] = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.runnerFor(lane).ResumeExperiment()
}

// CancelExperimentOn cancels the lane's runner unconditionally, lid
// state notwithstanding: an abort must never wait on a closed lid.
func (s *Supervisor) CancelExperimentOn(lane units.LedLane) {
	s.runnerFor(lane).Cancel()
}

// SampleTakenOn forwards a sample-taken edge to the lane's runner. While
// the lid is open the event is buffered and replayed once both lids
// close, so a runner is never resumed while the enclosure is open.
func (s *Supervisor) SampleTakenOn(lane units.LedLane) {
	s.mu.Lock()
	if s.lidOpen {
		if s.bufferedSamples == nil {
			s.bufferedSamples = make(map[units.LedLane]bool)
		}
		s.bufferedSamples[lane] = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.runnerFor(lane).SampleWasTaken()
}

// AppendEventOn adds an externally-sourced event to one lane's running
// experiment log.
func (s *Supervisor) AppendEventOn(lane units.LedLane, event string) {
	s.runnerFor(lane).AppendEvent(event)
}

// AppendEventAll adds the same externally-sourced event to every lane's
// running experiment log, for box-wide safety conditions.
func (s *Supervisor) AppendEventAll(event string) {
	s.mu.Lock()
	runners := s.runners
	s.mu.Unlock()
	for _, r := range runners {
		r.AppendEvent(event)
	}
}

// RegisterErrorOn flags a safety fault against the lane's runner without
// cancelling it; the caller (Controller) issues Cancel separately where
// the threshold machine calls for it.
func (s *Supervisor) RegisterErrorOn(lane units.LedLane) {
	s.runnerFor(lane).RegisterError()
}

// OnLidOpened pauses every currently-running, not-already-paused runner
// and remembers which ones it auto-paused, so OnLidClosed resumes only
// those and not lanes the operator had manually paused beforehand.
func (s *Supervisor) OnLidOpened() {
	s.mu.Lock()
	if s.lidOpen {
		s.mu.Unlock()
		return
	}
	s.lidOpen = true
	s.autoPaused = make(map[units.LedLane]bool)
	runners := s.runners
	s.mu.Unlock()

	for _, r := range runners {
		if r.IsRunning() && !r.IsPaused() {
			r.PauseExperiment()
			s.mu.Lock()
			s.autoPaused[r.lane] = true
			s.mu.Unlock()
		}
	}
}

// OnLidClosed resumes exactly the lanes auto-paused when the lid opened
// (plus any added since via ResumeExperimentOn, minus any removed via
// PauseExperimentOn), then delivers sample-taken events buffered while
// the lid was open.
func (s *Supervisor) OnLidClosed() {
	s.mu.Lock()
	if !s.lidOpen {
		s.mu.Unlock()
		return
	}
	s.lidOpen = false
	toResume := s.autoPaused
	toSample := s.bufferedSamples
	s.autoPaused = nil
	s.bufferedSamples = nil
	s.mu.Unlock()

	for lane := range toResume {
		s.runnerFor(lane).ResumeExperiment()
	}
	for lane := range toSample {
		s.runnerFor(lane).SampleWasTaken()
	}
}
