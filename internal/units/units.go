// Package units defines the fixed-point typed quantities shared across the
// reactor and power box sensor models, plus the lane/position identifiers
// used to address a specific LED on the stage.
package units

import "fmt"

// Temperature is a signed quantity in hundredths of a degree Celsius.
type Temperature int32

// TemperatureFromCelsius builds a Temperature from a floating point
// Celsius value, rounding to the nearest hundredth.
func TemperatureFromCelsius(celsius float64) Temperature {
	return Temperature(roundHalfAwayFromZero(celsius * 100))
}

// Celsius returns the temperature as a floating point Celsius value.
func (t Temperature) Celsius() float64 { return float64(t) / 100 }

func (t Temperature) String() string { return fmt.Sprintf("%.2f°C", t.Celsius()) }

// Illuminance is an unsigned quantity in hundredths of a lux.
type Illuminance uint32

// IlluminanceFromLux builds an Illuminance from a floating point lux value.
func IlluminanceFromLux(lux float64) Illuminance {
	return Illuminance(roundHalfAwayFromZero(lux * 100))
}

// Lux returns the illuminance as a floating point lux value.
func (i Illuminance) Lux() float64 { return float64(i) / 100 }

func (i Illuminance) String() string { return fmt.Sprintf("%.2flx", i.Lux()) }

// UvIndex is an unsigned quantity in tenths of a UV index unit.
type UvIndex uint32

// UvIndexFromUVI builds a UvIndex from a floating point UVI value.
func UvIndexFromUVI(uvi float64) UvIndex {
	return UvIndex(roundHalfAwayFromZero(uvi * 10))
}

// UVI returns the UV index as a floating point value.
func (u UvIndex) UVI() float64 { return float64(u) / 10 }

func (u UvIndex) String() string { return fmt.Sprintf("%.1fUVI", u.UVI()) }

// Voltage is an unsigned quantity in millivolts.
type Voltage uint32

// VoltageFromMillivolts builds a Voltage from a millivolt reading.
func VoltageFromMillivolts(mv uint32) Voltage { return Voltage(mv) }

// Millivolts returns the raw millivolt value.
func (v Voltage) Millivolts() uint32 { return uint32(v) }

func (v Voltage) String() string { return fmt.Sprintf("%dmV", v) }

// Current is an unsigned quantity in milliamps.
type Current uint32

// CurrentFromMilliamps builds a Current from a milliamp reading.
func CurrentFromMilliamps(ma uint32) Current { return Current(ma) }

// Milliamps returns the raw milliamp value.
func (c Current) Milliamps() uint32 { return uint32(c) }

// Scale multiplies a Current by a scalar, rounding to the nearest
// milliamp. Used by PowerBox.ActivateLed to derive the PID target current
// from a max-current and an intensity fraction.
func (c Current) Scale(scalar float64) Current {
	return Current(roundHalfAwayFromZero(float64(c) * scalar))
}

func (c Current) String() string { return fmt.Sprintf("%dmA", c) }

func roundHalfAwayFromZero(v float64) int64 {
	if v >= 0 {
		return int64(v + 0.5)
	}
	return int64(v - 0.5)
}
