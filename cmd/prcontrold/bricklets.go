package main

import (
	"github.com/photoreactor/prcontrol/internal/box"
	"github.com/photoreactor/prcontrol/internal/bricklet"
	"github.com/photoreactor/prcontrol/internal/bricklet/mock"
	"github.com/photoreactor/prcontrol/internal/panel"
	"github.com/photoreactor/prcontrol/internal/units"
)

// The box manifolds are assembled here, one function per enclosure. The
// concrete peripherals come from the vendor's bricklet bindings in a
// real deployment; until that binding is linked in, the loopback fakes
// below let the whole stack (HTTP surface, controller, experiment
// supervisor, PID loop) run against an in-memory rig. Swapping in real
// hardware only touches this file.

func newPowerBoxBricklets() box.PowerBoxBricklets {
	var b box.PowerBoxBricklets
	b.IO = mock.NewDigitalIO16()
	b.AmbientTemp = mock.NewAnalogSensor()
	b.TotalVoltage = mock.NewAnalogSensor()
	b.TotalCurrent = mock.NewAnalogSensor()

	// One shared 10-channel servo bricklet drives all six positions;
	// box.ServoChannelForPosition fixes which channel each position owns.
	var servoChannels [10]bricklet.ServoChannel
	for i := range servoChannels {
		servoChannels[i] = mock.NewServoChannel()
	}

	for _, lane := range units.Lanes {
		var vPair, iPair [2]bricklet.AnalogSensor
		var rPair [2]bricklet.DualRelay
		var sPair [2]bricklet.ServoChannel
		for _, side := range []units.LedSide{units.Front, units.Back} {
			pos := units.LedPosition{Lane: lane, Side: side}
			vPair[side] = mock.NewAnalogSensor()
			iPair[side] = mock.NewAnalogSensor()
			rPair[side] = mock.NewDualRelay()
			sPair[side] = servoChannels[box.ServoChannelForPosition(pos)]
		}
		b.PositionVoltage.Set(lane, vPair)
		b.PositionCurrent.Set(lane, iPair)
		b.Relays.Set(lane, rPair)
		b.Servos.Set(lane, sPair)
	}
	return b
}

func newReactorBoxBricklets() box.ReactorBoxBricklets {
	var b box.ReactorBoxBricklets
	b.IO = mock.NewDigitalIO16()
	b.Thermocouple = mock.NewAnalogSensor()
	b.AmbientLight = mock.NewAnalogSensor()
	b.AmbientTemp = mock.NewAnalogSensor()
	b.UvLight = mock.NewAnalogSensor()
	for _, lane := range units.Lanes {
		b.LaneIrTemp.Set(lane, bricklet.AnalogSensor(mock.NewAnalogSensor()))
	}
	return b
}

// wirePanelTelemetry invokes publish whenever any status LED on either
// panel changes state, debounce-free: the panel already suppresses
// idempotent re-assignments, so every callback is a real transition.
func wirePanelTelemetry(powerBox *box.PowerBox, reactorBox *box.ReactorBox, publish func()) {
	powerBox.Panel().OnStateChange(func(int, panel.LedState) { publish() })
	reactorBox.Panel().OnStateChange(func(int, panel.LedState) { publish() })
}
