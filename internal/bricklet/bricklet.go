// Package bricklet declares the peripheral interfaces a box manifold binds
// over one transport channel. The wire protocol itself belongs to the
// vendor's bricklet bindings and is not implemented here; these interfaces
// are the seam a concrete transport (internal/bricklet/tcp) or a test
// double (internal/bricklet/mock) satisfies.
package bricklet

import "context"

// DigitalIO16 is a 16-channel digital I/O peripheral that supports a
// monoflop on each channel: hold a value for a duration, then fire a
// done(channel, finalValue) callback.
type DigitalIO16 interface {
	// Configure sets a channel as input or output.
	Configure(channel int, output bool) error
	// SetValue drives an output channel, cancelling any active monoflop.
	SetValue(channel int, value bool) error
	// GetValue reads the current value of a channel.
	GetValue(channel int) (bool, error)
	// Monoflop arms a monoflop: drive the channel to value for duration,
	// then flip it and fire the monoflop-done callback.
	Monoflop(channel int, value bool, duration Duration) error
	// OnMonoflopDone registers the callback fired when a monoflop expires.
	OnMonoflopDone(fn func(channel int, finalValue bool))
	// OnValueChanged registers a callback fired when an input channel's
	// value changes (value_has_to_change=true semantics).
	OnValueChanged(channel int, fn func(value bool))
}

// Duration is a millisecond duration for monoflop arming, kept as its own
// type so callers cannot accidentally pass a raw channel number where a
// duration is expected.
type Duration int

// AnalogSensor is a single analog input channel delivered periodically by
// callback, in the sensor's native raw unit (hundredths of a degree,
// millivolts, milliamps, ...). The period is configured once; period 0
// disables the callback.
type AnalogSensor interface {
	SetCallbackPeriod(period Duration) error
	OnValue(fn func(raw int32))
}

// DualRelay is a two-relay peripheral used to energise one LED position.
// Commands are fire-and-forget: response_expected is always false because
// acknowledgement latency would stall the relay bus.
type DualRelay interface {
	SetState(relay0, relay1 bool)
}

// ServoChannel is one channel of a multi-channel servo/PWM peripheral.
type ServoChannel interface {
	SetPeriod(periodUs uint32) error
	SetPulseWidth(minUs, maxUs uint32) error
	SetDegree(min, max int16) error
	SetPosition(degree int16) error
	Enable() error
	Disable() error
}

// Transport is the connection envelope a box manifold sits on: one TCP
// endpoint, auto-reconnecting, with idempotent (re)initialization.
type Transport interface {
	// Connect makes one dial attempt and returns its error if it fails.
	// Once the first connection succeeds, auto-reconnect continues in
	// the background.
	Connect(ctx context.Context) error
	// Connected reports whether the transport currently holds a live
	// connection.
	Connected() bool
	// OnConnectionStateChange registers a callback fired whenever the
	// connection transitions up or down. It also fires once immediately
	// after every (re)connect so callers can re-arm peripheral callbacks
	// idempotently.
	OnConnectionStateChange(fn func(connected bool))
	// Close tears down the transport and stops reconnect attempts.
	Close() error
}
