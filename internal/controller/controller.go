// Package controller implements the safety/threshold state machine that
// fuses both boxes' observable sensor state into panel indicators and
// lane-scoped experiment actions, and owns the three-lane experiment
// supervisor. This package is never imported by internal/experiment:
// Controller instead satisfies the Sink/SensorSource interfaces that
// package declares (the PowerBox itself is the LedDriver), keeping the
// back-reference non-owning.
package controller

import (
	"sync"

	"github.com/photoreactor/prcontrol/internal/box"
	"github.com/photoreactor/prcontrol/internal/bricklet"
	"github.com/photoreactor/prcontrol/internal/experiment"
	"github.com/photoreactor/prcontrol/internal/panel"
	"github.com/photoreactor/prcontrol/internal/sensorstate"
	"github.com/photoreactor/prcontrol/internal/timerwheel"
	"github.com/photoreactor/prcontrol/internal/units"
)

// RecordSink receives a finalized experiment record, handing it off to
// the external persistence collaborator (configstore/archive), which is
// out of this package's scope.
type RecordSink func(lane units.LedLane, record experiment.Record)

// Controller is the safety/threshold engine. It exclusively owns both
// boxes and the experiment supervisor.
type Controller struct {
	powerBox   *box.PowerBox
	reactorBox *box.ReactorBox
	supervisor *experiment.Supervisor
	wheel      *timerwheel.Wheel
	config     Config

	mu sync.Mutex

	powerConnected, reactorConnected bool

	voltageFaults map[units.LedPosition]bool

	ambientState      units.ThresholdStatus
	irState           units.LaneValues[units.ThresholdStatus]
	thermocoupleState units.ThresholdStatus

	recordSink RecordSink
}

// New builds a Controller over already-constructed boxes. Call Initialize
// once transports are connected.
func New(powerBox *box.PowerBox, reactorBox *box.ReactorBox, config Config) *Controller {
	c := &Controller{
		powerBox:      powerBox,
		reactorBox:    reactorBox,
		wheel:         timerwheel.New(),
		config:        config,
		voltageFaults: make(map[units.LedPosition]bool),
	}
	c.supervisor = experiment.NewSupervisor(powerBox, c, c, c.wheel)
	return c
}

// SetRecordSink installs the collaborator that receives finalized
// experiment records. Must be set before any experiment can finalize
// usefully; EndExperiment silently drops the record if unset.
func (c *Controller) SetRecordSink(sink RecordSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordSink = sink
}

// Supervisor exposes the experiment supervisor to the external command
// surface (httpapi).
func (c *Controller) Supervisor() *experiment.Supervisor { return c.supervisor }

// UpdateConfig swaps the safety thresholds live, for config hot-reload.
// Threshold machines keep their current state; the new limits apply from
// the next sensor reading onward.
func (c *Controller) UpdateConfig(config Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = config
}

// Initialize arms both boxes, wires the per-field observer tables
// (exhaustive over every observable field — an unhandled field panics,
// per the "programmer errors are structural" policy), and wires the
// transports' connection-state callbacks into the connected-LED.
func (c *Controller) Initialize(powerTransport, reactorTransport bricklet.Transport) error {
	if err := c.powerBox.Initialize(); err != nil {
		return err
	}
	if err := c.reactorBox.Initialize(); err != nil {
		return err
	}

	c.powerBox.Sensors.Subscribe(c.handlePowerUpdate)
	c.reactorBox.Sensors.Subscribe(c.handleReactorUpdate)

	powerTransport.OnConnectionStateChange(func(connected bool) {
		c.mu.Lock()
		c.powerConnected = connected
		c.mu.Unlock()
		c.updateConnectedLed()
	})
	reactorTransport.OnConnectionStateChange(func(connected bool) {
		c.mu.Lock()
		c.reactorConnected = connected
		c.mu.Unlock()
		c.updateConnectedLed()
	})

	// The derived indicators start from the controller's own state, not
	// the boxes' all-HIGH defaults: no voltage fault is recorded yet, and
	// the connected LED reflects whichever transports are already up.
	c.updateConnectedLed()
	_ = c.powerBox.Panel().Set(box.PowerChanLedWarningVoltage, panel.Low)

	return nil
}

func (c *Controller) updateConnectedLed() {
	c.mu.Lock()
	bothUp := c.powerConnected && c.reactorConnected
	anyDown := !c.powerConnected || !c.reactorConnected
	c.mu.Unlock()

	// Blink-fast while both boxes are up, not solid-on: the operator
	// asked for a visibly alive indicator, since a solid LED can't be
	// told apart from a stuck one.
	switch {
	case anyDown:
		_ = c.powerBox.Panel().Set(box.PowerChanLedConnected, panel.Low)
	case bothUp:
		_ = c.powerBox.Panel().Set(box.PowerChanLedConnected, panel.BlinkFast)
	}
}

func (c *Controller) handlePowerUpdate(old, new sensorstate.PowerBoxState, update sensorstate.PowerFieldUpdate) {
	switch u := update.(type) {
	case sensorstate.PowerAmbientTempChanged:
		c.handleAmbientTemp(u.Value)
	case sensorstate.TotalVoltageChanged:
		// Total bus voltage/current are recorded for telemetry only; no
		// threshold is defined on them.
	case sensorstate.TotalCurrentChanged:
	case sensorstate.PositionVoltageChanged:
		c.handlePositionVoltage(u.Position, u.Value)
	case sensorstate.PositionCurrentChanged:
		// Per-position current only feeds the PID loop inside PowerBox;
		// the Controller has no threshold on it.
	case sensorstate.PowerBoxLidChanged:
		c.handleLidChanged()
	case sensorstate.ReactorBoxLidChanged:
		c.handleLidChanged()
	case sensorstate.LedInstalledChanged:
		// Drives the LED-installed detectors only; no Controller action
		// is specified beyond the raw sensor-state field itself.
	case sensorstate.WaterDetectedChanged:
		c.handleWaterDetected(u.Value)
	case sensorstate.PowerCableControlChanged:
		// No Controller-level behavior specified for cable-control.
	default:
		panic("controller: unhandled power-box sensor field")
	}
	_ = old
}

func (c *Controller) handleReactorUpdate(old, new sensorstate.ReactorBoxState, update sensorstate.ReactorFieldUpdate) {
	switch u := update.(type) {
	case sensorstate.ThermocoupleTempChanged:
		c.handleThermocouple(u.Value)
	case sensorstate.AmbientIlluminanceChanged:
		// Ambient illuminance feeds MeasuredDataAtTimePoint only.
	case sensorstate.ReactorAmbientTempChanged:
		// The reactor box's own ambient reading is recorded for
		// telemetry only; the single ambient-temperature safety machine
		// reads the power box's ambient sensor.
	case sensorstate.IrTempChanged:
		c.handleIrTemp(u.Lane, u.Value)
	case sensorstate.UvIndexChanged:
		c.handleUvIndex(u.Value)
	case sensorstate.SampleTakenChanged:
		if u.Value {
			c.handleSampleTaken(u.Lane)
		}
	case sensorstate.MaintenanceModeChanged:
		// The maintenance-mode indicator lives on the power box's panel
		// (its own panel has no slot for it); this mirrors the
		// reactor-box input onto that output.
		_ = c.powerBox.Panel().Set(box.PowerChanLedMaintenanceActive, ledBool(u.Value))
	case sensorstate.ReactorCableControlChanged:
		// No Controller-level behavior specified for cable-control.
	default:
		panic("controller: unhandled reactor-box sensor field")
	}
	_ = old
}

func ledBool(v bool) panel.LedState {
	if v {
		return panel.High
	}
	return panel.Low
}

func (c *Controller) handleLidChanged() {
	power := c.powerBox.Sensors.Snapshot()
	bothClosed := power.PowerBoxLid == units.LidClosed && power.ReactorBoxLid == units.LidClosed
	_ = c.powerBox.Panel().Set(box.PowerChanLedBoxesClosed, ledBool(bothClosed))

	if bothClosed {
		c.supervisor.OnLidClosed()
	} else {
		c.supervisor.OnLidOpened()
	}
}

func (c *Controller) handleWaterDetected(detected bool) {
	if detected {
		_ = c.powerBox.Panel().Set(box.PowerChanLedWarningWater, panel.BlinkFast)
		c.supervisor.AppendEventAll("Water leakage detected")
		for _, lane := range units.Lanes {
			c.supervisor.RegisterErrorOn(lane)
			c.supervisor.CancelExperimentOn(lane)
		}
		return
	}
	_ = c.powerBox.Panel().Set(box.PowerChanLedWarningWater, panel.Low)
}

func (c *Controller) handlePositionVoltage(pos units.LedPosition, v units.Voltage) {
	if !c.powerBox.IsLedActive(pos) {
		return
	}

	c.mu.Lock()
	wasFault := c.voltageFaults[pos]
	if v == 0 {
		c.voltageFaults[pos] = true
	} else {
		delete(c.voltageFaults, pos)
	}
	faultCount := len(c.voltageFaults)
	c.mu.Unlock()

	if v == 0 && !wasFault {
		c.supervisor.AppendEventOn(pos.Lane, "Voltage Error")
		c.supervisor.RegisterErrorOn(pos.Lane)
		c.supervisor.CancelExperimentOn(pos.Lane)
	}

	switch {
	case faultCount == 0:
		_ = c.powerBox.Panel().Set(box.PowerChanLedWarningVoltage, panel.Low)
	case faultCount == 1:
		_ = c.powerBox.Panel().Set(box.PowerChanLedWarningVoltage, panel.BlinkSlow)
	default:
		_ = c.powerBox.Panel().Set(box.PowerChanLedWarningVoltage, panel.BlinkFast)
	}
}

func (c *Controller) handleAmbientTemp(v units.Temperature) {
	c.mu.Lock()
	prev := c.ambientState
	next := nextTwoThreshold(prev, v, c.config.AmbientWarn, c.config.AmbientAbort)
	c.ambientState = next
	c.mu.Unlock()

	var ledState panel.LedState
	switch next {
	case units.ThresholdOK:
		ledState = panel.High
	case units.ThresholdOKAgain:
		ledState = panel.BlinkSlow
	default: // EXCEEDED, ABORT
		ledState = panel.Low
	}
	_ = c.powerBox.Panel().Set(box.PowerChanLedWarningTempAmbient, ledState)
	_ = c.reactorBox.Panel().Set(box.ReactorChanLedWarningTempAmbient, ledState)

	if next == prev {
		return
	}
	switch next {
	case units.ThresholdExceeded:
		c.supervisor.AppendEventAll("Ambient temperature warning threshold exceeded")
	case units.ThresholdAbort:
		c.supervisor.AppendEventAll("Ambient Temperature exceeded critical threshold")
		for _, lane := range units.Lanes {
			c.supervisor.CancelExperimentOn(lane)
		}
	case units.ThresholdOKAgain:
		c.supervisor.AppendEventAll("Ambient Temperature back to normal")
	}
}

func (c *Controller) handleIrTemp(lane units.LedLane, v units.Temperature) {
	c.mu.Lock()
	prev := c.irState.Get(lane)
	next := nextTwoThreshold(prev, v, c.config.IrWarn.Get(lane), c.config.IrAbort.Get(lane))
	c.irState.Set(lane, next)
	c.mu.Unlock()

	var ledState panel.LedState
	switch next {
	case units.ThresholdOK:
		ledState = panel.High
	case units.ThresholdExceeded:
		ledState = panel.BlinkFast
	case units.ThresholdOKAgain:
		ledState = panel.BlinkSlow
	default: // ABORT
		ledState = panel.Low
	}
	_ = c.reactorBox.Panel().Set(reactorTempWarningChannel(lane), ledState)

	if next == prev {
		return
	}
	switch next {
	case units.ThresholdAbort:
		c.supervisor.AppendEventOn(lane, "Lane IR temperature exceeded critical threshold")
		c.supervisor.CancelExperimentOn(lane)
	case units.ThresholdExceeded:
		c.supervisor.AppendEventOn(lane, "Lane IR temperature warning threshold exceeded")
	case units.ThresholdOKAgain:
		c.supervisor.AppendEventOn(lane, "Lane IR temperature back to normal")
	}
}

func reactorTempWarningChannel(lane units.LedLane) int {
	switch lane {
	case units.Lane1:
		return box.ReactorChanLedWarningTempLane1
	case units.Lane2:
		return box.ReactorChanLedWarningTempLane2
	default:
		return box.ReactorChanLedWarningTempLane3
	}
}

func reactorStateChannel(lane units.LedLane) int {
	switch lane {
	case units.Lane1:
		return box.ReactorChanLedStateLane1
	case units.Lane2:
		return box.ReactorChanLedStateLane2
	default:
		return box.ReactorChanLedStateLane3
	}
}

// handleThermocouple implements the single-threshold machine. OK and
// EXCEEDED both map to HIGH and only OK_AGAIN differs — suspected wrong
// (EXCEEDED should probably read LOW) but kept until the hardware owner
// confirms which mapping the deployed rig expects.
func (c *Controller) handleThermocouple(v units.Temperature) {
	c.mu.Lock()
	prev := c.thermocoupleState
	next := nextSingleThreshold(prev, v, c.config.ThermocoupleThreshold)
	c.thermocoupleState = next
	c.mu.Unlock()

	ledState := panel.High
	if next == units.ThresholdOKAgain {
		ledState = panel.BlinkSlow
	}
	_ = c.reactorBox.Panel().Set(box.ReactorChanLedWarningThermocouple, ledState)

	if next == prev {
		return
	}
	switch next {
	case units.ThresholdExceeded:
		c.supervisor.AppendEventAll("Thermocouple temperature exceeded threshold")
		for lane := range c.config.AffectedLanes {
			c.supervisor.CancelExperimentOn(lane)
		}
	case units.ThresholdOKAgain:
		c.supervisor.AppendEventAll("Thermocouple temperature back to normal")
	}
}

func (c *Controller) handleUvIndex(v units.UvIndex) {
	if v > c.config.UvThreshold {
		_ = c.reactorBox.Panel().Set(box.ReactorChanLedUvWarning, panel.Low)
		return
	}
	_ = c.reactorBox.Panel().Set(box.ReactorChanLedUvWarning, panel.High)
}

func (c *Controller) handleSampleTaken(lane units.LedLane) {
	_ = c.reactorBox.Panel().Set(reactorStateChannel(lane), panel.Low)
	c.supervisor.SampleTakenOn(lane)
}

// AlertTakeSample implements experiment.Sink: the operator-facing
// "please take sample now" indicator.
func (c *Controller) AlertTakeSample(lane units.LedLane) {
	_ = c.reactorBox.Panel().Set(reactorStateChannel(lane), panel.High)
}

// EndExperiment implements experiment.Sink, handing the finalized record
// off to whatever external persistence collaborator was registered.
func (c *Controller) EndExperiment(lane units.LedLane, record experiment.Record) {
	c.mu.Lock()
	sink := c.recordSink
	c.mu.Unlock()
	if sink != nil {
		sink(lane, record)
	}
}

// SetUvInstalled implements experiment.Sink: the supervisor recomputes
// this flag whenever a lane starts or finishes a UV-LED experiment.
func (c *Controller) SetUvInstalled(installed bool) {
	_ = c.reactorBox.Panel().Set(box.ReactorChanLedUvInstalled, ledBool(installed))
}

// Snapshot implements experiment.SensorSource: the combined, lane-scoped
// reading a runner needs for one MeasuredDataAtTimePoint, averaging
// front/back voltage and current per lane.
func (c *Controller) Snapshot(lane units.LedLane) experiment.SensorSnapshot {
	reactor := c.reactorBox.Sensors.Snapshot()
	power := c.powerBox.Sensors.Snapshot()

	front := units.LedPosition{Lane: lane, Side: units.Front}
	back := units.LedPosition{Lane: lane, Side: units.Back}
	voltageMv := (float64(power.PositionVoltage(front).Millivolts()) + float64(power.PositionVoltage(back).Millivolts())) / 2
	currentMa := (float64(power.PositionCurrent(front).Milliamps()) + float64(power.PositionCurrent(back).Milliamps())) / 2

	return experiment.SensorSnapshot{
		ThermocoupleC:      reactor.ThermocoupleTemp.Celsius(),
		PowerBoxAmbientC:   power.AmbientTemp.Celsius(),
		ReactorBoxAmbientC: reactor.AmbientTemp.Celsius(),
		LaneVoltageMv:      voltageMv,
		LaneCurrentMa:      currentMa,
		LaneIrTempC:        reactor.IrTemp.Get(lane).Celsius(),
		UvIndex:            reactor.UvIndex.UVI(),
		AmbientLux:         reactor.AmbientIlluminance.Lux(),
	}
}
