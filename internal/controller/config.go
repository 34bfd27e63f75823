package controller

import "github.com/photoreactor/prcontrol/internal/units"

// Config holds the safety-threshold configuration the Controller enforces.
type Config struct {
	AmbientWarn  units.Temperature
	AmbientAbort units.Temperature

	IrWarn  units.LaneValues[units.Temperature]
	IrAbort units.LaneValues[units.Temperature]

	ThermocoupleThreshold units.Temperature
	AffectedLanes         map[units.LedLane]bool

	UvThreshold units.UvIndex
}

// DefaultConfig returns the thresholds tuned for the lab's single
// deployed rig.
func DefaultConfig() Config {
	affected := map[units.LedLane]bool{units.Lane1: true, units.Lane2: true, units.Lane3: true}
	warn100 := units.TemperatureFromCelsius(100)
	var irWarn, irAbort units.LaneValues[units.Temperature]
	warn25 := units.TemperatureFromCelsius(25)
	for _, lane := range units.Lanes {
		irWarn.Set(lane, warn25)
		irAbort.Set(lane, warn100)
	}
	return Config{
		AmbientWarn:           warn100,
		AmbientAbort:          warn100,
		IrWarn:                irWarn,
		IrAbort:               irAbort,
		ThermocoupleThreshold: units.TemperatureFromCelsius(1),
		AffectedLanes:         affected,
		UvThreshold:           units.UvIndexFromUVI(11),
	}
}
