package box

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photoreactor/prcontrol/internal/bricklet"
	"github.com/photoreactor/prcontrol/internal/bricklet/mock"
	"github.com/photoreactor/prcontrol/internal/units"
)

func buildReactorBoxBricklets() (ReactorBoxBricklets, map[units.LedLane]*mock.AnalogSensor) {
	var b ReactorBoxBricklets
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

func TestReactorBoxPanelDefaults(t *testing.T) {
	t.Run("every status LED defaults to HIGH", func(t *testing.T) {
		bricklets, _ := buildReactorBoxBricklets()
		io := bricklets.IO.(*mock.DigitalIO16)
		rb := NewReactorBox(bricklets, 200*time.Millisecond)
		require.NoError(t, rb.Initialize())

		for _, ch := range []int{
			ReactorChanLedStateLane1, ReactorChanLedStateLane2, ReactorChanLedStateLane3,
			ReactorChanLedUvInstalled, ReactorChanLedUvWarning, ReactorChanLedExperimentRunning,
			ReactorChanLedWarningTempLane1, ReactorChanLedWarningTempLane2, ReactorChanLedWarningTempLane3,
			ReactorChanLedWarningTempAmbient, ReactorChanLedWarningThermocouple,
		} {
			assert.True(t, io.Value(ch))
		}
	})
}

func TestReactorBoxSensorWiring(t *testing.T) {
	t.Run("per-lane IR temperature sensors feed the matching lane field", func(t *testing.T) {
		bricklets, irSensors := buildReactorBoxBricklets()
		rb := NewReactorBox(bricklets, 200*time.Millisecond)
		require.NoError(t, rb.Initialize())

		irSensors[units.Lane2].Feed(5500)

		snap := rb.Sensors.Snapshot()
		assert.Equal(t, units.Temperature(5500), snap.IrTemp.Get(units.Lane2))
		assert.Equal(t, units.Temperature(0), snap.IrTemp.Get(units.Lane1))
	})

	t.Run("sample-taken input is forwarded per lane, active-low", func(t *testing.T) {
		bricklets, _ := buildReactorBoxBricklets()
		io := bricklets.IO.(*mock.DigitalIO16)
		rb := NewReactorBox(bricklets, 200*time.Millisecond)
		require.NoError(t, rb.Initialize())

		io.Push(reactorChanInputSampleLane3, false)

		snap := rb.Sensors.Snapshot()
		assert.True(t, snap.SampleTaken.Get(units.Lane3))
		assert.False(t, snap.SampleTaken.Get(units.Lane1))
	})

	t.Run("maintenance mode and cable control are forwarded", func(t *testing.T) {
		bricklets, _ := buildReactorBoxBricklets()
		io := bricklets.IO.(*mock.DigitalIO16)
		rb := NewReactorBox(bricklets, 200*time.Millisecond)
		require.NoError(t, rb.Initialize())

		io.Push(reactorChanInputMaintenanceMode, true)
		io.Push(reactorChanInputPhotoboxCableControl, true)

		snap := rb.Sensors.Snapshot()
		assert.True(t, snap.MaintenanceMode)
		assert.True(t, snap.CableControl)
	})
}
