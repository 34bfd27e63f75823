// Package panel implements the channel-addressed status-LED surface that
// sits over a 16-channel digital I/O bricklet with monoflop support.
// Blinking is implemented by re-arming the channel's monoflop from its
// own done callback, so no goroutine per LED is needed.
package panel

import (
	"sync"
	"time"

	"github.com/photoreactor/prcontrol/internal/bricklet"
)

// LedState is the commanded state of one panel LED.
type LedState int

const (
	Undefined LedState = iota
	Low
	High
	BlinkSlow
	BlinkFast
)

const (
	blinkSlowPeriod = 500 * time.Millisecond
	blinkFastPeriod = 200 * time.Millisecond
)

func (s LedState) period() (time.Duration, bool) {
	switch s {
	case BlinkSlow:
		return blinkSlowPeriod, true
	case BlinkFast:
		return blinkFastPeriod, true
	default:
		return 0, false
	}
}

// Panel drives a set of channels on a DigitalIO16 peripheral as status
// LEDs, supporting LOW/HIGH/BLINK_SLOW/BLINK_FAST.
type Panel struct {
	io DigitalIO16

	mu       sync.Mutex
	state    map[int]LedState
	blinking map[int]time.Duration
	onChange func(channel int, state LedState)
}

// DigitalIO16 is the subset of bricklet.DigitalIO16 the panel needs,
// expressed locally so the panel can be unit tested against the
// bricklet/mock fake without importing the full bricklet package twice.
type DigitalIO16 interface {
	Configure(channel int, output bool) error
	SetValue(channel int, value bool) error
	Monoflop(channel int, value bool, duration bricklet.Duration) error
	OnMonoflopDone(fn func(channel int, finalValue bool))
	OnValueChanged(channel int, fn func(value bool))
}

// New creates a Panel over io. Call Initialize once per (re)connect.
func New(io DigitalIO16) *Panel {
	return &Panel{
		io:       io,
		state:    make(map[int]LedState),
		blinking: make(map[int]time.Duration),
	}
}

// Initialize configures every channel named by isOutput as input or
// output and registers the monoflop-done callback. It is idempotent and
// safe to call again after a reconnect: input channels re-register their
// value-changed callback and output channel state is left as-is (the
// caller is expected to re-apply LED states explicitly on reconnect, the
// same way ReactorBox/PowerBox default every LED to HIGH at initialize).
func (p *Panel) Initialize(isOutputChannel func(channel int) bool, channels int, onInputChanged func(channel int, value bool)) error {
	for ch := 0; ch < channels; ch++ {
		output := isOutputChannel(ch)
		if err := p.io.Configure(ch, output); err != nil {
			return err
		}
		if !output {
			ch := ch
			p.io.OnValueChanged(ch, func(value bool) {
				onInputChanged(ch, value)
			})
		}
	}
	p.io.OnMonoflopDone(p.handleMonoflopDone)
	return nil
}

// OnStateChange registers a callback invoked after a channel's commanded
// state actually changes (idempotent re-assignments don't fire it).
// Telemetry bridges hang off this to republish a fresh snapshot whenever
// any status LED moves.
func (p *Panel) OnStateChange(fn func(channel int, state LedState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// Set assigns ledState to a channel. Assigning the same state twice is a
// no-op: it produces no peripheral traffic on the second call.
func (p *Panel) Set(channel int, ledState LedState) error {
	p.mu.Lock()
	if p.state[channel] == ledState {
		p.mu.Unlock()
		return nil
	}
	p.state[channel] = ledState
	onChange := p.onChange
	p.mu.Unlock()

	if onChange != nil {
		onChange(channel, ledState)
	}

	if period, blinks := ledState.period(); blinks {
		p.mu.Lock()
		p.blinking[channel] = period
		p.mu.Unlock()
		return p.io.Monoflop(channel, true, bricklet.Duration(period.Milliseconds()))
	}

	p.mu.Lock()
	delete(p.blinking, channel)
	p.mu.Unlock()

	value := ledState == High
	return p.io.SetValue(channel, value)
}

// handleMonoflopDone is the peripheral callback fired when a monoflop
// expires. The peripheral has already flipped the channel to finalValue
// on its own; re-arming with that same finalValue holds it for one more
// period before the next autonomous flip, so the channel alternates
// every period. Removing the channel from the blinking registry (via
// Set) before the callback fires stops the oscillation on this edge.
func (p *Panel) handleMonoflopDone(channel int, finalValue bool) {
	p.mu.Lock()
	period, blinking := p.blinking[channel]
	p.mu.Unlock()
	if !blinking {
		return
	}
	p.io.Monoflop(channel, finalValue, bricklet.Duration(period.Milliseconds()))
}

// Get returns the last assigned state for a channel.
func (p *Panel) Get(channel int) LedState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state[channel]
}
