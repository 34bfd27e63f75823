package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photoreactor/prcontrol/internal/box"
	"github.com/photoreactor/prcontrol/internal/bricklet"
	"github.com/photoreactor/prcontrol/internal/bricklet/mock"
	"github.com/photoreactor/prcontrol/internal/experiment"
	"github.com/photoreactor/prcontrol/internal/panel"
	"github.com/photoreactor/prcontrol/internal/units"
)

// twoSidedTemplate builds a template driving both of lane's LEDs for
// exposureSeconds, long enough that the run is still live when the test
// feeds its fault. The measurement interval is pushed out to an hour so
// ticks never interleave with assertions.
func twoSidedTemplate(lane units.LedLane, exposureSeconds float64, samples []float64) experiment.Template {
	led := func() *experiment.LedDescriptor {
		return &experiment.LedDescriptor{
			MaxCurrent:      units.CurrentFromMilliamps(1000),
			Intensity:       0.5,
			ExposureSeconds: exposureSeconds,
			MinWavelengthNm: 450,
		}
	}
	return experiment.Template{
		Name:                "threshold-fixture",
		UID:                 uint64(lane),
		Lane:                lane,
		Front:               led(),
		Back:                led(),
		SampleTimepoints:    samples,
		MeasurementInterval: time.Hour,
	}
}

// buildPowerBoxBricklets mirrors internal/box's own unexported test
// helper: that one isn't visible from this package, so the wiring is
// re-built locally over the same mock peripherals.
func buildPowerBoxBricklets() (box.PowerBoxBricklets, map[units.LedPosition]*mock.AnalogSensor, map[units.LedPosition]*mock.AnalogSensor) {
	var b box.PowerBoxBricklets
	b.IO = mock.NewDigitalIO16()
	b.AmbientTemp = mock.NewAnalogSensor()
	b.TotalVoltage = mock.NewAnalogSensor()
	b.TotalCurrent = mock.NewAnalogSensor()

	voltageSensors := make(map[units.LedPosition]*mock.AnalogSensor)
	currentSensors := make(map[units.LedPosition]*mock.AnalogSensor)

	for _, lane := range units.Lanes {
		var vPair, iPair [2]bricklet.AnalogSensor
		var rPair [2]bricklet.DualRelay
		var sPair [2]bricklet.ServoChannel
		for _, side := range []units.LedSide{units.Front, units.Back} {
			pos := units.LedPosition{Lane: lane, Side: side}
			v := mock.NewAnalogSensor()
			vPair[side] = v
			voltageSensors[pos] = v
			i := mock.NewAnalogSensor()
			iPair[side] = i
			currentSensors[pos] = i
			rPair[side] = mock.NewDualRelay()
			sPair[side] = mock.NewServoChannel()
		}
		b.PositionVoltage.Set(lane, vPair)
		b.PositionCurrent.Set(lane, iPair)
		b.Relays.Set(lane, rPair)
		b.Servos.Set(lane, sPair)
	}
	return b, voltageSensors, currentSensors
}

func buildReactorBoxBricklets() (box.ReactorBoxBricklets, map[units.LedLane]*mock.AnalogSensor) {
	var b box.ReactorBoxBricklets
	b.IO = mock.NewDigitalIO16()
	b.Thermocouple = mock.NewAnalogSensor()
	b.AmbientLight = mock.NewAnalogSensor()
	b.AmbientTemp = mock.NewAnalogSensor()
	b.UvLight = mock.NewAnalogSensor()

	irSensors := make(map[units.LedLane]*mock.AnalogSensor)
	for _, lane := range units.Lanes {
		sensor := mock.NewAnalogSensor()
		irSensors[lane] = sensor
		b.LaneIrTemp.Set(lane, bricklet.AnalogSensor(sensor))
	}
	return b, irSensors
}

type fixture struct {
	c                *Controller
	powerIO          *mock.DigitalIO16
	reactorIO        *mock.DigitalIO16
	powerAmbient     *mock.AnalogSensor
	reactorAmbient   *mock.AnalogSensor
	thermocouple     *mock.AnalogSensor
	uvLight          *mock.AnalogSensor
	irSensors        map[units.LedLane]*mock.AnalogSensor
	voltageSensors   map[units.LedPosition]*mock.AnalogSensor
	powerTransport   *mock.Transport
	reactorTransport *mock.Transport
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	powerBricklets, voltageSensors, _ := buildPowerBoxBricklets()
	reactorBricklets, irSensors := buildReactorBoxBricklets()

	pb := box.NewPowerBox(powerBricklets, 200*time.Millisecond)
	rb := box.NewReactorBox(reactorBricklets, 200*time.Millisecond)

	c := New(pb, rb, cfg)

	powerTransport := mock.NewTransport()
	reactorTransport := mock.NewTransport()
	require.NoError(t, c.Initialize(powerTransport, reactorTransport))

	return &fixture{
		c:                c,
		powerIO:          powerBricklets.IO.(*mock.DigitalIO16),
		reactorIO:        reactorBricklets.IO.(*mock.DigitalIO16),
		powerAmbient:     powerBricklets.AmbientTemp.(*mock.AnalogSensor),
		reactorAmbient:   reactorBricklets.AmbientTemp.(*mock.AnalogSensor),
		thermocouple:     reactorBricklets.Thermocouple.(*mock.AnalogSensor),
		uvLight:          reactorBricklets.UvLight.(*mock.AnalogSensor),
		irSensors:        irSensors,
		voltageSensors:   voltageSensors,
		powerTransport:   powerTransport,
		reactorTransport: reactorTransport,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AmbientWarn = units.TemperatureFromCelsius(50)
	cfg.AmbientAbort = units.TemperatureFromCelsius(70)
	return cfg
}

func TestControllerConnectedLed(t *testing.T) {
	t.Run("goes LOW when either transport is down, BLINK_FAST once both are up", func(t *testing.T) {
		f := newFixture(t, testConfig())

		assert.Equal(t, panel.Low, f.powerIO_panelState(t))

		f.powerTransport.SetConnected(true)
		assert.Equal(t, panel.Low, f.powerIO_panelState(t))

		f.reactorTransport.SetConnected(true)
		assert.Equal(t, panel.BlinkFast, f.powerIO_panelState(t))

		f.reactorTransport.SetConnected(false)
		assert.Equal(t, panel.Low, f.powerIO_panelState(t))
	})
}

func (f *fixture) powerIO_panelState(t *testing.T) panel.LedState {
	t.Helper()
	return f.c.powerBox.Panel().Get(box.PowerChanLedConnected)
}

func TestControllerAmbientThreshold(t *testing.T) {
	t.Run("warns then aborts and cancels every lane", func(t *testing.T) {
		f := newFixture(t, testConfig())

		tpl := twoSidedTemplate(units.Lane1, 600, nil)
		f.c.Supervisor().StartExperimentOn(units.Lane1, tpl, "")
		require.True(t, f.c.Supervisor().IsRunningOn(units.Lane1))

		f.powerAmbient.Feed(int32(units.TemperatureFromCelsius(60)))
		assert.Equal(t, units.ThresholdExceeded, f.c.ambientStateSnapshot())
		assert.Equal(t, panel.Low, f.c.powerBox.Panel().Get(box.PowerChanLedWarningTempAmbient))
		assert.Equal(t, panel.Low, f.c.reactorBox.Panel().Get(box.ReactorChanLedWarningTempAmbient))
		assert.True(t, f.c.Supervisor().IsRunningOn(units.Lane1))

		f.powerAmbient.Feed(int32(units.TemperatureFromCelsius(75)))
		assert.Equal(t, units.ThresholdAbort, f.c.ambientStateSnapshot())
		assert.False(t, f.c.Supervisor().IsRunningOn(units.Lane1))
	})

	t.Run("reactor box's own ambient reading never drives the threshold machine", func(t *testing.T) {
		f := newFixture(t, testConfig())
		f.reactorAmbient.Feed(int32(units.TemperatureFromCelsius(200)))
		assert.Equal(t, units.ThresholdOK, f.c.ambientStateSnapshot())
	})
}

func TestControllerVoltageFault(t *testing.T) {
	t.Run("single fault blinks slow and cancels only the faulted lane", func(t *testing.T) {
		f := newFixture(t, testConfig())

		front1 := units.LedPosition{Lane: units.Lane1, Side: units.Front}
		tpl1 := twoSidedTemplate(units.Lane1, 600, nil)
		f.c.Supervisor().StartExperimentOn(units.Lane1, tpl1, "")

		f.voltageSensors[front1].Feed(0)
		assert.Equal(t, panel.BlinkSlow, f.c.powerBox.Panel().Get(box.PowerChanLedWarningVoltage))
		assert.False(t, f.c.Supervisor().IsRunningOn(units.Lane1))
	})

	t.Run("second simultaneous fault blinks fast", func(t *testing.T) {
		f := newFixture(t, testConfig())

		front1 := units.LedPosition{Lane: units.Lane1, Side: units.Front}
		back2 := units.LedPosition{Lane: units.Lane2, Side: units.Back}
		f.c.Supervisor().StartExperimentOn(units.Lane1, twoSidedTemplate(units.Lane1, 600, nil), "")
		f.c.Supervisor().StartExperimentOn(units.Lane2, twoSidedTemplate(units.Lane2, 600, nil), "")

		f.voltageSensors[front1].Feed(0)
		f.voltageSensors[back2].Feed(0)
		assert.Equal(t, panel.BlinkFast, f.c.powerBox.Panel().Get(box.PowerChanLedWarningVoltage))
	})

	t.Run("voltage reading on a never-activated LED is ignored", func(t *testing.T) {
		f := newFixture(t, testConfig())
		front3 := units.LedPosition{Lane: units.Lane3, Side: units.Front}
		f.voltageSensors[front3].Feed(0)
		assert.Equal(t, panel.Low, f.c.powerBox.Panel().Get(box.PowerChanLedWarningVoltage))
	})
}

func TestControllerWaterDetected(t *testing.T) {
	t.Run("active-low: a false reading means water IS present and cancels every lane", func(t *testing.T) {
		f := newFixture(t, testConfig())
		for _, lane := range units.Lanes {
			f.c.Supervisor().StartExperimentOn(lane, twoSidedTemplate(lane, 600, nil), "")
		}

		f.powerIO.Push(9, false) // powerChanInputWaterDetected, active-low

		assert.Equal(t, panel.BlinkFast, f.c.powerBox.Panel().Get(box.PowerChanLedWarningWater))
		for _, lane := range units.Lanes {
			assert.False(t, f.c.Supervisor().IsRunningOn(lane))
		}
	})
}

func TestControllerBoxesClosedLed(t *testing.T) {
	t.Run("tracks the AND of both lid sensors", func(t *testing.T) {
		f := newFixture(t, testConfig())

		f.powerIO.Push(0, false) // power box lid closed (active-low closed signal)
		assert.Equal(t, panel.Low, f.c.powerBox.Panel().Get(box.PowerChanLedBoxesClosed))

		f.powerIO.Push(1, false) // reactor box lid closed
		assert.Equal(t, panel.High, f.c.powerBox.Panel().Get(box.PowerChanLedBoxesClosed))
	})
}

func TestControllerMaintenanceModeLed(t *testing.T) {
	t.Run("mirrors the reactor box's input onto the power box's panel", func(t *testing.T) {
		f := newFixture(t, testConfig())
		f.reactorIO.Push(14, true) // reactorChanInputMaintenanceMode
		assert.Equal(t, panel.High, f.c.powerBox.Panel().Get(box.PowerChanLedMaintenanceActive))
	})
}

func TestControllerThermocoupleBugPreserved(t *testing.T) {
	t.Run("OK and EXCEEDED both read HIGH, only OK_AGAIN differs", func(t *testing.T) {
		f := newFixture(t, testConfig())

		assert.Equal(t, panel.High, f.c.reactorBox.Panel().Get(box.ReactorChanLedWarningThermocouple))

		f.thermocouple.Feed(int32(units.TemperatureFromCelsius(5)))
		assert.Equal(t, units.ThresholdExceeded, f.c.thermocoupleStateSnapshot())
		assert.Equal(t, panel.High, f.c.reactorBox.Panel().Get(box.ReactorChanLedWarningThermocouple))

		f.thermocouple.Feed(int32(units.TemperatureFromCelsius(0)))
		assert.Equal(t, units.ThresholdOKAgain, f.c.thermocoupleStateSnapshot())
		assert.Equal(t, panel.BlinkSlow, f.c.reactorBox.Panel().Get(box.ReactorChanLedWarningThermocouple))
	})
}

func TestControllerUvWarningLed(t *testing.T) {
	t.Run("goes LOW once the UV index exceeds the configured threshold", func(t *testing.T) {
		f := newFixture(t, testConfig())
		f.uvLight.Feed(int32(units.UvIndexFromUVI(12)))
		assert.Equal(t, panel.Low, f.c.reactorBox.Panel().Get(box.ReactorChanLedUvWarning))

		f.uvLight.Feed(int32(units.UvIndexFromUVI(3)))
		assert.Equal(t, panel.High, f.c.reactorBox.Panel().Get(box.ReactorChanLedUvWarning))
	})
}

func TestControllerIrTempAbortsOnlyItsLane(t *testing.T) {
	t.Run("lane 2 aborting leaves lane 1 running", func(t *testing.T) {
		f := newFixture(t, testConfig())
		f.c.Supervisor().StartExperimentOn(units.Lane1, twoSidedTemplate(units.Lane1, 600, nil), "")
		f.c.Supervisor().StartExperimentOn(units.Lane2, twoSidedTemplate(units.Lane2, 600, nil), "")

		f.irSensors[units.Lane2].Feed(int32(units.TemperatureFromCelsius(150)))

		assert.True(t, f.c.Supervisor().IsRunningOn(units.Lane1))
		assert.False(t, f.c.Supervisor().IsRunningOn(units.Lane2))
	})
}

// ambientStateSnapshot/thermocoupleStateSnapshot expose the controller's
// unexported threshold state for assertions without adding test-only
// exported API surface to controller.go.
func (c *Controller) ambientStateSnapshot() units.ThresholdStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ambientState
}

func (c *Controller) thermocoupleStateSnapshot() units.ThresholdStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thermocoupleState
}
