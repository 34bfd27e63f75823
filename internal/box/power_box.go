// Package box binds the bricklet peripheral interfaces to the sensor
// observables and LED panels for the two physical enclosures. Each box
// exclusively owns its peripherals and its sensor state.
package box

import (
	"sync"
	"time"

	"github.com/photoreactor/prcontrol/internal/bricklet"
	"github.com/photoreactor/prcontrol/internal/panel"
	"github.com/photoreactor/prcontrol/internal/pid"
	"github.com/photoreactor/prcontrol/internal/sensorstate"
	"github.com/photoreactor/prcontrol/internal/units"
)

const (
	powerChanInputPowerboxClosed   = 0
	powerChanInputReactorboxClosed = 1
	powerChanInputLedInstalled1F   = 2
	powerChanInputLedInstalled1B   = 3
	powerChanInputLedInstalled2F   = 4
	powerChanInputLedInstalled2B   = 5
	powerChanInputLedInstalled3F   = 6
	powerChanInputLedInstalled3B   = 7
	powerChanInputWaterDetected    = 9
	powerChanInputCableControl     = 15

	PowerChanLedWarningTempAmbient = 8
	PowerChanLedMaintenanceActive  = 10
	PowerChanLedConnected          = 11
	PowerChanLedWarningVoltage     = 12
	PowerChanLedWarningWater       = 13
	PowerChanLedBoxesClosed        = 14
)

func powerIsOutputChannel(channel int) bool {
	switch channel {
	case PowerChanLedWarningTempAmbient, PowerChanLedMaintenanceActive,
		PowerChanLedConnected, PowerChanLedWarningVoltage,
		PowerChanLedWarningWater, PowerChanLedBoxesClosed:
		return true
	default:
		return false
	}
}

// ServoChannelForPosition is the hard-coded, non-configurable mapping
// from an LED position to its channel on the shared servo bricklet:
// lane 1 front/back on 0/7, lane 2 on 1/8, lane 3 on 2/9. Manifold
// assembly uses it to hand each position its ServoChannel.
func ServoChannelForPosition(pos units.LedPosition) int16 {
	switch pos {
	case units.LedPosition{Lane: units.Lane1, Side: units.Front}:
		return 0
	case units.LedPosition{Lane: units.Lane1, Side: units.Back}:
		return 7
	case units.LedPosition{Lane: units.Lane2, Side: units.Front}:
		return 1
	case units.LedPosition{Lane: units.Lane2, Side: units.Back}:
		return 8
	case units.LedPosition{Lane: units.Lane3, Side: units.Front}:
		return 2
	case units.LedPosition{Lane: units.Lane3, Side: units.Back}:
		return 9
	default:
		panic("impossible LED position")
	}
}

// ledPidState is either a *pid.Bootstrapper (no measurement yet) or a
// *pid.Regulator (initialized); exactly one of the two is non-nil.
type ledPidState struct {
	bootstrapper *pid.Bootstrapper
	regulator    *pid.Regulator
}

// PowerBoxBricklets collects the peripherals a PowerBox binds, one
// transport-bound concrete value per physical bricklet.
type PowerBoxBricklets struct {
	IO              bricklet.DigitalIO16
	AmbientTemp     bricklet.AnalogSensor
	TotalVoltage    bricklet.AnalogSensor
	TotalCurrent    bricklet.AnalogSensor
	PositionVoltage units.LaneValues[[2]bricklet.AnalogSensor] // [front, back] per lane
	PositionCurrent units.LaneValues[[2]bricklet.AnalogSensor]
	Relays          units.LaneValues[[2]bricklet.DualRelay]
	Servos          units.LaneValues[[2]bricklet.ServoChannel]
}

func relayFor(b PowerBoxBricklets, pos units.LedPosition) bricklet.DualRelay {
	pair := b.Relays.Get(pos.Lane)
	return pair[pos.Side]
}

func servoFor(b PowerBoxBricklets, pos units.LedPosition) bricklet.ServoChannel {
	pair := b.Servos.Get(pos.Lane)
	return pair[pos.Side]
}

func voltageSensorFor(b PowerBoxBricklets, pos units.LedPosition) bricklet.AnalogSensor {
	pair := b.PositionVoltage.Get(pos.Lane)
	return pair[pos.Side]
}

func currentSensorFor(b PowerBoxBricklets, pos units.LedPosition) bricklet.AnalogSensor {
	pair := b.PositionCurrent.Get(pos.Lane)
	return pair[pos.Side]
}

// PidSensorPeriod is the callback period for position-current sensors,
// pinned at 100ms regardless of the configured general sensor period:
// this is the PID control loop rate.
const PidSensorPeriod = 100 * time.Millisecond

// PowerBox owns the power enclosure: LED drive electronics (servo + dual
// relay per position), its own status LEDs, and the ambient/voltage/
// current sensors.
type PowerBox struct {
	bricklets    PowerBoxBricklets
	sensorPeriod time.Duration
	Sensors      *sensorstate.PowerBoxObservable
	panel        *panel.Panel

	mu            sync.Mutex
	ledMaxCurrent map[units.LedPosition]units.Current
	ledPid        map[units.LedPosition]*ledPidState
}

// NewPowerBox creates a PowerBox over its bricklets. sensorPeriod governs
// temperature/voltage/general sensor callbacks; current sensors always
// use PidSensorPeriod regardless.
func NewPowerBox(b PowerBoxBricklets, sensorPeriod time.Duration) *PowerBox {
	return &PowerBox{
		bricklets:     b,
		sensorPeriod:  sensorPeriod,
		Sensors:       sensorstate.NewPowerBoxObservable(),
		panel:         panel.New(b.IO),
		ledMaxCurrent: make(map[units.LedPosition]units.Current),
		ledPid:        make(map[units.LedPosition]*ledPidState),
	}
}

// Initialize registers every sensor callback, arms the status panel, and
// defaults every status LED to HIGH. Safe to call again after a
// reconnect: the panel's Configure/OnValueChanged wiring is idempotent
// and LED state is unconditionally re-applied.
func (p *PowerBox) Initialize() error {
	if err := p.panel.Initialize(powerIsOutputChannel, 16, p.handleInputChanged); err != nil {
		return err
	}

	p.bricklets.AmbientTemp.OnValue(func(raw int32) {
		p.Sensors.SetAmbientTemp(units.Temperature(raw))
	})
	if err := p.bricklets.AmbientTemp.SetCallbackPeriod(bricklet.Duration(p.sensorPeriod.Milliseconds())); err != nil {
		return err
	}

	p.bricklets.TotalVoltage.OnValue(func(raw int32) {
		p.Sensors.SetTotalVoltage(units.VoltageFromMillivolts(uint32(raw)))
	})
	if err := p.bricklets.TotalVoltage.SetCallbackPeriod(bricklet.Duration(p.sensorPeriod.Milliseconds())); err != nil {
		return err
	}

	p.bricklets.TotalCurrent.OnValue(func(raw int32) {
		p.Sensors.SetTotalCurrent(units.CurrentFromMilliamps(uint32(raw)))
	})
	if err := p.bricklets.TotalCurrent.SetCallbackPeriod(bricklet.Duration(p.sensorPeriod.Milliseconds())); err != nil {
		return err
	}

	for _, pos := range units.AllPositions {
		pos := pos
		vSensor := voltageSensorFor(p.bricklets, pos)
		vSensor.OnValue(func(raw int32) {
			p.Sensors.SetPositionVoltage(pos, units.VoltageFromMillivolts(uint32(raw)))
		})
		if err := vSensor.SetCallbackPeriod(bricklet.Duration(p.sensorPeriod.Milliseconds())); err != nil {
			return err
		}

		iSensor := currentSensorFor(p.bricklets, pos)
		iSensor.OnValue(func(raw int32) {
			p.handleCurrentMeasurement(pos, units.CurrentFromMilliamps(uint32(raw)))
		})
		if err := iSensor.SetCallbackPeriod(bricklet.Duration(PidSensorPeriod.Milliseconds())); err != nil {
			return err
		}
	}

	_ = p.panel.Set(PowerChanLedWarningTempAmbient, panel.High)
	_ = p.panel.Set(PowerChanLedMaintenanceActive, panel.High)
	_ = p.panel.Set(PowerChanLedConnected, panel.High)
	_ = p.panel.Set(PowerChanLedWarningVoltage, panel.High)
	_ = p.panel.Set(PowerChanLedWarningWater, panel.High)
	return p.panel.Set(PowerChanLedBoxesClosed, panel.High)
}

// Panel exposes the power box's status-LED panel to the controller.
func (p *PowerBox) Panel() *panel.Panel { return p.panel }

func (p *PowerBox) handleInputChanged(channel int, value bool) {
	s := p.Sensors
	switch channel {
	case powerChanInputPowerboxClosed:
		s.SetPowerBoxLid(lidFromClosedSignal(value))
	case powerChanInputReactorboxClosed:
		s.SetReactorBoxLid(lidFromClosedSignal(value))
	case powerChanInputLedInstalled1F:
		s.SetLedInstalled(units.LedPosition{Lane: units.Lane1, Side: units.Front}, value)
	case powerChanInputLedInstalled1B:
		s.SetLedInstalled(units.LedPosition{Lane: units.Lane1, Side: units.Back}, value)
	case powerChanInputLedInstalled2F:
		s.SetLedInstalled(units.LedPosition{Lane: units.Lane2, Side: units.Front}, value)
	case powerChanInputLedInstalled2B:
		s.SetLedInstalled(units.LedPosition{Lane: units.Lane2, Side: units.Back}, value)
	case powerChanInputLedInstalled3F:
		s.SetLedInstalled(units.LedPosition{Lane: units.Lane3, Side: units.Front}, value)
	case powerChanInputLedInstalled3B:
		s.SetLedInstalled(units.LedPosition{Lane: units.Lane3, Side: units.Back}, value)
	case powerChanInputWaterDetected:
		// active low: the wire signal reads false when water is present.
		s.SetWaterDetected(!value)
	case powerChanInputCableControl:
		s.SetCableControl(value)
	}
}

func lidFromClosedSignal(value bool) units.CaseLidState {
	if value {
		return units.LidOpen
	}
	return units.LidClosed
}

func (p *PowerBox) handleCurrentMeasurement(pos units.LedPosition, measured units.Current) {
	p.Sensors.SetPositionCurrent(pos, measured)

	p.mu.Lock()
	state, ok := p.ledPid[pos]
	if !ok {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	now := time.Now()
	var intensity float64
	if state.bootstrapper != nil {
		regulator := state.bootstrapper.Bootstrap(now)
		intensity = regulator.Intensity()
		p.mu.Lock()
		p.ledPid[pos] = &ledPidState{regulator: regulator}
		p.mu.Unlock()
	} else {
		intensity = state.regulator.Update(float64(measured.Milliamps()), now)
	}
	p.setLedPwmIntensity(pos, intensity)
}

func (p *PowerBox) setLedPwmIntensity(pos units.LedPosition, intensity float64) {
	servoFor(p.bricklets, pos).SetPosition(pid.ServoPosition(intensity))
}

// SetLedMaxCurrent records the maximum drive current for a position. Must
// be called before ActivateLed.
func (p *PowerBox) SetLedMaxCurrent(pos units.LedPosition, current units.Current) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ledMaxCurrent[pos] = current
}

// ActivateLed enables the PWM channel, energises the dual relay, and
// installs a fresh PID bootstrapper targeting targetIntensity of the
// configured max current. SetLedMaxCurrent must have been called for pos
// first.
func (p *PowerBox) ActivateLed(pos units.LedPosition, targetIntensity float64) error {
	p.mu.Lock()
	maxCurrent, ok := p.ledMaxCurrent[pos]
	p.mu.Unlock()
	if !ok {
		panic("ActivateLed called before SetLedMaxCurrent for " + pos.String())
	}
	if targetIntensity < 0 || targetIntensity > 1 {
		panic("target intensity out of [0,1]")
	}

	servo := servoFor(p.bricklets, pos)
	if err := servo.SetPosition(pid.ServoPosition(0)); err != nil {
		return err
	}
	if err := servo.Enable(); err != nil {
		return err
	}

	relay := relayFor(p.bricklets, pos)
	relay.SetState(false, true)
	time.Sleep(10 * time.Millisecond)
	relay.SetState(true, true)

	targetCurrent := maxCurrent.Scale(targetIntensity)
	bootstrapper := pid.NewBootstrapper(float64(targetCurrent.Milliamps()), pid.DefaultGains())
	p.mu.Lock()
	p.ledPid[pos] = &ledPidState{bootstrapper: bootstrapper}
	p.mu.Unlock()
	return nil
}

// DeactivateLed opens the dual relay and disables the PWM channel. Safe
// to call on a position that was never activated.
func (p *PowerBox) DeactivateLed(pos units.LedPosition) error {
	relay := relayFor(p.bricklets, pos)
	relay.SetState(false, true)
	time.Sleep(10 * time.Millisecond)
	relay.SetState(false, false)

	p.mu.Lock()
	delete(p.ledPid, pos)
	p.mu.Unlock()

	return servoFor(p.bricklets, pos).Disable()
}

// IsLedActive reports whether pos currently has an installed PID loop.
func (p *PowerBox) IsLedActive(pos units.LedPosition) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.ledPid[pos]
	return ok
}

// ResetLeds deactivates every position and fully resets the servo
// bricklet's configuration. Runs at startup and shutdown so no LED can
// stay energised across a controller restart.
func (p *PowerBox) ResetLeds() error {
	for _, pos := range units.AllPositions {
		if err := p.DeactivateLed(pos); err != nil {
			return err
		}
	}
	time.Sleep(10 * time.Millisecond)
	for _, pos := range units.AllPositions {
		servo := servoFor(p.bricklets, pos)
		if err := servo.SetDegree(0, pid.PWMMaxDegree); err != nil {
			return err
		}
		if err := servo.SetPeriod(pid.PWMPeriodUs); err != nil {
			return err
		}
		if err := servo.SetPulseWidth(0, pid.PWMPeriodUs); err != nil {
			return err
		}
		if err := servo.SetPosition(pid.PWMMaxDegree); err != nil {
			return err
		}
		if err := servo.Disable(); err != nil {
			return err
		}
	}
	return nil
}
