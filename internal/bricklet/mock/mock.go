// Package mock provides deterministic fakes for bricklet.DigitalIO16,
// bricklet.AnalogSensor, bricklet.DualRelay and bricklet.ServoChannel.
// Tests drive peripherals by calling Feed/Push helpers instead of waiting
// on real hardware callbacks.
package mock

import (
	"context"
	"sync"

	"github.com/photoreactor/prcontrol/internal/bricklet"
)

// DigitalIO16 is an in-memory 16-channel digital I/O fake.
type DigitalIO16 struct {
	mu        sync.Mutex
	outputs   map[int]bool
	values    map[int]bool
	monoflops map[int]bool
	doneCb    func(channel int, finalValue bool)
	changeCbs map[int]func(value bool)
	Commands  []string // recorded commands, for assertions
}

// NewDigitalIO16 creates an empty fake with no configured channels.
func NewDigitalIO16() *DigitalIO16 {
	return &DigitalIO16{
		outputs:   make(map[int]bool),
		values:    make(map[int]bool),
		monoflops: make(map[int]bool),
		changeCbs: make(map[int]func(value bool)),
	}
}

func (m *DigitalIO16) Configure(channel int, output bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[channel] = output
	return nil
}

func (m *DigitalIO16) SetValue(channel int, value bool) error {
	m.mu.Lock()
	delete(m.monoflops, channel)
	m.values[channel] = value
	m.mu.Unlock()
	m.record(channel, value)
	return nil
}

func (m *DigitalIO16) GetValue(channel int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[channel], nil
}

func (m *DigitalIO16) Monoflop(channel int, value bool, duration bricklet.Duration) error {
	m.mu.Lock()
	m.monoflops[channel] = true
	m.values[channel] = value
	m.mu.Unlock()
	m.record(channel, value)
	return nil
}

func (m *DigitalIO16) OnMonoflopDone(fn func(channel int, finalValue bool)) {
	m.mu.Lock()
	m.doneCb = fn
	m.mu.Unlock()
}

func (m *DigitalIO16) OnValueChanged(channel int, fn func(value bool)) {
	m.mu.Lock()
	m.changeCbs[channel] = fn
	m.mu.Unlock()
}

func (m *DigitalIO16) record(channel int, value bool) {
	m.mu.Lock()
	m.Commands = append(m.Commands, channelCommand(channel, value))
	m.mu.Unlock()
}

func channelCommand(channel int, value bool) string {
	if value {
		return "ch" + itoa(channel) + "=1"
	}
	return "ch" + itoa(channel) + "=0"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// FireMonoflopDone simulates the monoflop timer firing for a channel, as
// the real peripheral would over its own callback thread.
func (m *DigitalIO16) FireMonoflopDone(channel int, finalValue bool) {
	m.mu.Lock()
	delete(m.monoflops, channel)
	m.values[channel] = finalValue
	cb := m.doneCb
	m.mu.Unlock()
	if cb != nil {
		cb(channel, finalValue)
	}
}

// MonoflopActive reports whether a channel currently has an armed monoflop.
func (m *DigitalIO16) MonoflopActive(channel int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monoflops[channel]
}

// Value returns the channel's last driven value, for assertions.
func (m *DigitalIO16) Value(channel int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[channel]
}

// Push simulates an external edge on an input channel, invoking the
// registered value-changed callback.
func (m *DigitalIO16) Push(channel int, value bool) {
	m.mu.Lock()
	m.values[channel] = value
	cb := m.changeCbs[channel]
	m.mu.Unlock()
	if cb != nil {
		cb(value)
	}
}

// AnalogSensor is an in-memory analog-input fake.
type AnalogSensor struct {
	mu     sync.Mutex
	period bricklet.Duration
	cb     func(raw int32)
}

func NewAnalogSensor() *AnalogSensor { return &AnalogSensor{} }

func (a *AnalogSensor) SetCallbackPeriod(period bricklet.Duration) error {
	a.mu.Lock()
	a.period = period
	a.mu.Unlock()
	return nil
}

func (a *AnalogSensor) OnValue(fn func(raw int32)) {
	a.mu.Lock()
	a.cb = fn
	a.mu.Unlock()
}

// Feed simulates a measurement arriving on the callback thread.
func (a *AnalogSensor) Feed(raw int32) {
	a.mu.Lock()
	cb := a.cb
	a.mu.Unlock()
	if cb != nil {
		cb(raw)
	}
}

// DualRelay is an in-memory two-relay fake recording the order of calls.
type DualRelay struct {
	mu    sync.Mutex
	r0    bool
	r1    bool
	Calls []string
}

func NewDualRelay() *DualRelay { return &DualRelay{} }

func (d *DualRelay) SetState(relay0, relay1 bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.r0, d.r1 = relay0, relay1
	d.Calls = append(d.Calls, relayCommand(relay0, relay1))
}

func relayCommand(r0, r1 bool) string {
	s := "r0="
	if r0 {
		s += "1"
	} else {
		s += "0"
	}
	s += ",r1="
	if r1 {
		s += "1"
	} else {
		s += "0"
	}
	return s
}

// State returns the last commanded relay state, for assertions.
func (d *DualRelay) State() (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.r0, d.r1
}

// Transport is an in-memory fake of bricklet.Transport, letting tests
// drive connection-state transitions without a real TCP endpoint.
type Transport struct {
	mu        sync.Mutex
	connected bool
	cb        func(connected bool)
}

// NewTransport creates a Transport that starts disconnected.
func NewTransport() *Transport { return &Transport{} }

func (t *Transport) Connect(ctx context.Context) error {
	t.SetConnected(true)
	return nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) OnConnectionStateChange(fn func(connected bool)) {
	t.mu.Lock()
	t.cb = fn
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	t.SetConnected(false)
	return nil
}

// SetConnected simulates a connection-state transition, invoking the
// registered callback as the real transport would on its own goroutine.
func (t *Transport) SetConnected(connected bool) {
	t.mu.Lock()
	t.connected = connected
	cb := t.cb
	t.mu.Unlock()
	if cb != nil {
		cb(connected)
	}
}

// ServoChannel is an in-memory servo/PWM channel fake.
type ServoChannel struct {
	mu       sync.Mutex
	enabled  bool
	position int16
}

func NewServoChannel() *ServoChannel { return &ServoChannel{} }

func (s *ServoChannel) SetPeriod(periodUs uint32) error     { return nil }
func (s *ServoChannel) SetPulseWidth(min, max uint32) error { return nil }
func (s *ServoChannel) SetDegree(min, max int16) error      { return nil }

func (s *ServoChannel) SetPosition(degree int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = degree
	return nil
}

func (s *ServoChannel) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
	return nil
}

func (s *ServoChannel) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	return nil
}

// Enabled reports whether the channel is currently enabled, for assertions.
func (s *ServoChannel) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Position returns the last commanded degree position, for assertions.
func (s *ServoChannel) Position() int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}
