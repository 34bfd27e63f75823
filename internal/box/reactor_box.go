package box

import (
	"time"

	"github.com/photoreactor/prcontrol/internal/bricklet"
	"github.com/photoreactor/prcontrol/internal/panel"
	"github.com/photoreactor/prcontrol/internal/sensorstate"
	"github.com/photoreactor/prcontrol/internal/units"
)

const (
	reactorChanInputSampleLane1          = 0
	reactorChanInputSampleLane2          = 1
	reactorChanInputSampleLane3          = 2
	reactorChanInputMaintenanceMode      = 14
	reactorChanInputPhotoboxCableControl = 15

	ReactorChanLedStateLane1          = 3
	ReactorChanLedStateLane2          = 4
	ReactorChanLedStateLane3          = 5
	ReactorChanLedUvInstalled         = 6
	ReactorChanLedUvWarning           = 7
	ReactorChanLedExperimentRunning   = 8
	ReactorChanLedWarningTempLane1    = 9
	ReactorChanLedWarningTempLane2    = 10
	ReactorChanLedWarningTempLane3    = 11
	ReactorChanLedWarningTempAmbient  = 12
	ReactorChanLedWarningThermocouple = 13
)

func reactorIsOutputChannel(channel int) bool {
	switch channel {
	case ReactorChanLedStateLane1, ReactorChanLedStateLane2, ReactorChanLedStateLane3,
		ReactorChanLedUvInstalled, ReactorChanLedUvWarning, ReactorChanLedExperimentRunning,
		ReactorChanLedWarningTempLane1, ReactorChanLedWarningTempLane2, ReactorChanLedWarningTempLane3,
		ReactorChanLedWarningTempAmbient, ReactorChanLedWarningThermocouple:
		return true
	default:
		return false
	}
}

// ReactorBoxBricklets collects the peripherals a ReactorBox binds.
type ReactorBoxBricklets struct {
	IO           bricklet.DigitalIO16
	Thermocouple bricklet.AnalogSensor
	AmbientLight bricklet.AnalogSensor
	AmbientTemp  bricklet.AnalogSensor
	LaneIrTemp   units.LaneValues[bricklet.AnalogSensor]
	UvLight      bricklet.AnalogSensor
}

// ReactorBox owns the reactor enclosure: the thermocouple, ambient
// light/temperature, per-lane IR temperature, UV index sensors, and the
// sample-taken/maintenance/cable-control inputs, plus its status panel.
type ReactorBox struct {
	bricklets    ReactorBoxBricklets
	sensorPeriod time.Duration
	Sensors      *sensorstate.ReactorBoxObservable
	panel        *panel.Panel
}

// NewReactorBox creates a ReactorBox over its bricklets.
func NewReactorBox(b ReactorBoxBricklets, sensorPeriod time.Duration) *ReactorBox {
	return &ReactorBox{
		bricklets:    b,
		sensorPeriod: sensorPeriod,
		Sensors:      sensorstate.NewReactorBoxObservable(),
		panel:        panel.New(b.IO),
	}
}

// Panel exposes the reactor box's status-LED panel to the controller.
func (r *ReactorBox) Panel() *panel.Panel { return r.panel }

// Initialize registers every sensor callback, arms the status panel, and
// defaults every status LED to HIGH.
func (r *ReactorBox) Initialize() error {
	period := bricklet.Duration(r.sensorPeriod.Milliseconds())

	if err := r.panel.Initialize(reactorIsOutputChannel, 16, r.handleInputChanged); err != nil {
		return err
	}

	r.bricklets.Thermocouple.OnValue(func(raw int32) {
		r.Sensors.SetThermocoupleTemp(units.Temperature(raw))
	})
	if err := r.bricklets.Thermocouple.SetCallbackPeriod(period); err != nil {
		return err
	}

	r.bricklets.AmbientLight.OnValue(func(raw int32) {
		r.Sensors.SetAmbientIlluminance(units.Illuminance(raw))
	})
	if err := r.bricklets.AmbientLight.SetCallbackPeriod(period); err != nil {
		return err
	}

	r.bricklets.AmbientTemp.OnValue(func(raw int32) {
		r.Sensors.SetAmbientTemp(units.Temperature(raw))
	})
	if err := r.bricklets.AmbientTemp.SetCallbackPeriod(period); err != nil {
		return err
	}

	for _, lane := range units.Lanes {
		lane := lane
		sensor := r.bricklets.LaneIrTemp.Get(lane)
		sensor.OnValue(func(raw int32) {
			r.Sensors.SetIrTemp(lane, units.Temperature(raw))
		})
		if err := sensor.SetCallbackPeriod(period); err != nil {
			return err
		}
	}

	r.bricklets.UvLight.OnValue(func(raw int32) {
		r.Sensors.SetUvIndex(units.UvIndex(raw))
	})
	if err := r.bricklets.UvLight.SetCallbackPeriod(period); err != nil {
		return err
	}

	_ = r.panel.Set(ReactorChanLedStateLane1, panel.High)
	_ = r.panel.Set(ReactorChanLedStateLane2, panel.High)
	_ = r.panel.Set(ReactorChanLedStateLane3, panel.High)
	_ = r.panel.Set(ReactorChanLedUvInstalled, panel.High)
	_ = r.panel.Set(ReactorChanLedUvWarning, panel.High)
	_ = r.panel.Set(ReactorChanLedExperimentRunning, panel.High)
	_ = r.panel.Set(ReactorChanLedWarningTempLane1, panel.High)
	_ = r.panel.Set(ReactorChanLedWarningTempLane2, panel.High)
	_ = r.panel.Set(ReactorChanLedWarningTempLane3, panel.High)
	_ = r.panel.Set(ReactorChanLedWarningTempAmbient, panel.High)
	return r.panel.Set(ReactorChanLedWarningThermocouple, panel.High)
}

func (r *ReactorBox) handleInputChanged(channel int, value bool) {
	s := r.Sensors
	switch channel {
	case reactorChanInputSampleLane1:
		// active-low: the wire reads false when the sample has been taken.
		s.SetSampleTaken(units.Lane1, !value)
	case reactorChanInputSampleLane2:
		s.SetSampleTaken(units.Lane2, !value)
	case reactorChanInputSampleLane3:
		s.SetSampleTaken(units.Lane3, !value)
	case reactorChanInputMaintenanceMode:
		s.SetMaintenanceMode(value)
	case reactorChanInputPhotoboxCableControl:
		s.SetCableControl(value)
	}
}
