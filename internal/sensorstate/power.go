package sensorstate

import (
	"sync"

	"github.com/photoreactor/prcontrol/internal/units"
)

// PowerBoxState is a snapshot of everything the power box observes.
type PowerBoxState struct {
	AmbientTemp   units.Temperature
	TotalVoltage  units.Voltage
	TotalCurrent  units.Current
	PositionVolts [6]units.Voltage
	PositionAmps  [6]units.Current
	PowerBoxLid   units.CaseLidState
	ReactorBoxLid units.CaseLidState
	LedInstalled  [6]bool
	WaterDetected bool
	CableControl  bool
}

func positionIndex(p units.LedPosition) int {
	idx := p.Lane.Index() * 2
	if p.Side == units.Back {
		idx++
	}
	return idx
}

// PowerFieldUpdate is the tagged union of power-box field mutations.
type PowerFieldUpdate interface{ isPowerFieldUpdate() }

type PowerAmbientTempChanged struct{ Value units.Temperature }
type TotalVoltageChanged struct{ Value units.Voltage }
type TotalCurrentChanged struct{ Value units.Current }
type PositionVoltageChanged struct {
	Position units.LedPosition
	Value    units.Voltage
}
type PositionCurrentChanged struct {
	Position units.LedPosition
	Value    units.Current
}
type PowerBoxLidChanged struct{ Value units.CaseLidState }
type ReactorBoxLidChanged struct{ Value units.CaseLidState }
type LedInstalledChanged struct {
	Position units.LedPosition
	Value    bool
}
type WaterDetectedChanged struct{ Value bool }
type PowerCableControlChanged struct{ Value bool }

func (PowerAmbientTempChanged) isPowerFieldUpdate()  {}
func (TotalVoltageChanged) isPowerFieldUpdate()      {}
func (TotalCurrentChanged) isPowerFieldUpdate()      {}
func (PositionVoltageChanged) isPowerFieldUpdate()   {}
func (PositionCurrentChanged) isPowerFieldUpdate()   {}
func (PowerBoxLidChanged) isPowerFieldUpdate()       {}
func (ReactorBoxLidChanged) isPowerFieldUpdate()     {}
func (LedInstalledChanged) isPowerFieldUpdate()      {}
func (WaterDetectedChanged) isPowerFieldUpdate()     {}
func (PowerCableControlChanged) isPowerFieldUpdate() {}

// PowerObserver is notified once per field mutation.
type PowerObserver func(old, new PowerBoxState, update PowerFieldUpdate)

// PowerBoxObservable is the single writer for a PowerBoxState.
type PowerBoxObservable struct {
	mu        sync.Mutex
	state     PowerBoxState
	observers []PowerObserver
}

func NewPowerBoxObservable() *PowerBoxObservable { return &PowerBoxObservable{} }

func (o *PowerBoxObservable) Subscribe(fn PowerObserver) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

func (o *PowerBoxObservable) Snapshot() PowerBoxState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *PowerBoxObservable) publish(old PowerBoxState, update PowerFieldUpdate) {
	new := o.Snapshot()
	o.mu.Lock()
	observers := append([]PowerObserver(nil), o.observers...)
	o.mu.Unlock()
	for _, fn := range observers {
		fn(old, new, update)
	}
}

func (o *PowerBoxObservable) SetAmbientTemp(v units.Temperature) {
	o.mu.Lock()
	old := o.state
	o.state.AmbientTemp = v
	o.mu.Unlock()
	o.publish(old, PowerAmbientTempChanged{v})
}

func (o *PowerBoxObservable) SetTotalVoltage(v units.Voltage) {
	o.mu.Lock()
	old := o.state
	o.state.TotalVoltage = v
	o.mu.Unlock()
	o.publish(old, TotalVoltageChanged{v})
}

func (o *PowerBoxObservable) SetTotalCurrent(v units.Current) {
	o.mu.Lock()
	old := o.state
	o.state.TotalCurrent = v
	o.mu.Unlock()
	o.publish(old, TotalCurrentChanged{v})
}

func (o *PowerBoxObservable) SetPositionVoltage(pos units.LedPosition, v units.Voltage) {
	o.mu.Lock()
	old := o.state
	o.state.PositionVolts[positionIndex(pos)] = v
	o.mu.Unlock()
	o.publish(old, PositionVoltageChanged{pos, v})
}

func (o *PowerBoxObservable) SetPositionCurrent(pos units.LedPosition, v units.Current) {
	o.mu.Lock()
	old := o.state
	o.state.PositionAmps[positionIndex(pos)] = v
	o.mu.Unlock()
	o.publish(old, PositionCurrentChanged{pos, v})
}

func (o *PowerBoxObservable) SetPowerBoxLid(v units.CaseLidState) {
	o.mu.Lock()
	old := o.state
	o.state.PowerBoxLid = v
	o.mu.Unlock()
	o.publish(old, PowerBoxLidChanged{v})
}

func (o *PowerBoxObservable) SetReactorBoxLid(v units.CaseLidState) {
	o.mu.Lock()
	old := o.state
	o.state.ReactorBoxLid = v
	o.mu.Unlock()
	o.publish(old, ReactorBoxLidChanged{v})
}

func (o *PowerBoxObservable) SetLedInstalled(pos units.LedPosition, v bool) {
	o.mu.Lock()
	old := o.state
	o.state.LedInstalled[positionIndex(pos)] = v
	o.mu.Unlock()
	o.publish(old, LedInstalledChanged{pos, v})
}

func (o *PowerBoxObservable) SetWaterDetected(v bool) {
	o.mu.Lock()
	old := o.state
	o.state.WaterDetected = v
	o.mu.Unlock()
	o.publish(old, WaterDetectedChanged{v})
}

func (o *PowerBoxObservable) SetCableControl(v bool) {
	o.mu.Lock()
	old := o.state
	o.state.CableControl = v
	o.mu.Unlock()
	o.publish(old, PowerCableControlChanged{v})
}

// PositionVoltage returns the last observed voltage for a position.
func (s PowerBoxState) PositionVoltage(pos units.LedPosition) units.Voltage {
	return s.PositionVolts[positionIndex(pos)]
}

// PositionCurrent returns the last observed current for a position.
func (s PowerBoxState) PositionCurrent(pos units.LedPosition) units.Current {
	return s.PositionAmps[positionIndex(pos)]
}

// IsLedInstalled returns the last observed led-installed flag for a position.
func (s PowerBoxState) IsLedInstalled(pos units.LedPosition) bool {
	return s.LedInstalled[positionIndex(pos)]
}
