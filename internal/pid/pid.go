// Package pid implements the per-LED closed-loop current regulator: a
// bootstrapper that holds only the target current until the first
// measurement arrives, then an initialized regulator driving PWM
// intensity from measured current.
package pid

import "time"

// Default gains. Kp is negative on purpose: the hardware inverts duty
// cycle, so measured > target must push intensity down. Verify the sign
// on the bench before enabling any outer safety loop.
const (
	DefaultKp = -0.2
	DefaultTi = 100000.0
	DefaultTd = 0.5
)

const (
	// PWMPeriodUs is the servo PWM period in microseconds.
	PWMPeriodUs = 10000
	// PWMMaxDegree is the maximum servo position value.
	PWMMaxDegree = 10000
)

// Gains bundles the three PID coefficients so callers can override them
// (e.g. from configuration) without touching the regulator's zero value.
type Gains struct {
	Kp, Ti, Td float64
}

// DefaultGains returns the stock gain set.
func DefaultGains() Gains { return Gains{Kp: DefaultKp, Ti: DefaultTi, Td: DefaultTd} }

// Regulator is an initialized per-LED PID current regulator.
type Regulator struct {
	gains Gains

	targetMa  float64
	intensity float64
	integral  float64
	lastError float64
	lastTime  time.Time
}

// Bootstrapper holds only the target current until the first measurement
// arrives; it has no intensity, integral, or error state yet.
type Bootstrapper struct {
	gains    Gains
	targetMa float64
}

// NewBootstrapper creates a bootstrapper for a target current.
func NewBootstrapper(targetMa float64, gains Gains) *Bootstrapper {
	return &Bootstrapper{gains: gains, targetMa: targetMa}
}

// Bootstrap produces an initialized Regulator without waiting for the
// measurement it's handed: intensity starts at half the target current
// expressed as an amp fraction (target current and PWM intensity share
// the same [0,1] scale because max current is capped at 1A), integral
// and last_error start at zero.
func (b *Bootstrapper) Bootstrap(now time.Time) *Regulator {
	return &Regulator{
		gains:     b.gains,
		targetMa:  b.targetMa,
		intensity: (b.targetMa / 1000.0) * 0.5,
		integral:  0,
		lastError: 0,
		lastTime:  now,
	}
}

// TargetMa returns the bootstrapper's configured target current.
func (b *Bootstrapper) TargetMa() float64 { return b.targetMa }

// Update feeds a new measured current (mA) at time now into the
// regulator and returns the clamped absolute PWM intensity in [0,1].
//
//	e = measured - target               (error; positive => too hot)
//	dt = now - t_last                   (seconds, > 0)
//	integral += e * dt
//	intensity += Kp*(e + integral/Ti + Td*(e-last_error)/dt)
//	intensity = clamp(intensity, 0, 1)
func (r *Regulator) Update(measuredMa float64, now time.Time) float64 {
	dt := now.Sub(r.lastTime).Seconds()
	if dt <= 0 {
		dt = 1e-3
	}

	e := measuredMa - r.targetMa
	r.integral += e * dt
	r.intensity += r.gains.Kp * (e + r.integral/r.gains.Ti + r.gains.Td*(e-r.lastError)/dt)
	r.intensity = clamp(r.intensity, 0, 1)

	r.lastError = e
	r.lastTime = now
	return r.intensity
}

// Intensity returns the regulator's current output without feeding a new
// measurement.
func (r *Regulator) Intensity() float64 { return r.intensity }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ServoPosition converts an absolute PWM intensity into the servo
// position, inverted because the hardware drives current via
// duty-cycle inversion: position = round(PWM_MAX * (1 - intensity)).
func ServoPosition(intensity float64) int16 {
	pos := PWMMaxDegree * (1 - intensity)
	return int16(pos + 0.5)
}
