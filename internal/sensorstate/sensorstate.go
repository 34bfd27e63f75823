// Package sensorstate holds the observable sensor-state records for the
// reactor box and power box. Every write to a declared field publishes a
// (old snapshot, new snapshot, field update, new value) notification to a
// registered set of observers. This is an explicit setter API: one
// setter per field composes the snapshot pair under the mutex and invokes
// observers outside the lock, and the field update is a tagged union (one
// variant per field) so an observer's type switch is exhaustiveness
// checkable at compile time.
package sensorstate

import (
	"sync"

	"github.com/photoreactor/prcontrol/internal/units"
)

// ReactorBoxState is a snapshot of everything the reactor box observes.
// Fields never move to absent once populated; the zero value is each
// type's typed zero, not a null.
type ReactorBoxState struct {
	ThermocoupleTemp   units.Temperature
	AmbientIlluminance units.Illuminance
	AmbientTemp        units.Temperature
	IrTemp             units.LaneValues[units.Temperature]
	UvIndex            units.UvIndex
	SampleTaken        units.LaneValues[bool]
	MaintenanceMode    bool
	CableControl       bool
}

// ReactorFieldUpdate is the tagged union of reactor-box field mutations.
type ReactorFieldUpdate interface{ isReactorFieldUpdate() }

type ThermocoupleTempChanged struct{ Value units.Temperature }
type AmbientIlluminanceChanged struct{ Value units.Illuminance }
type ReactorAmbientTempChanged struct{ Value units.Temperature }
type IrTempChanged struct {
	Lane  units.LedLane
	Value units.Temperature
}
type UvIndexChanged struct{ Value units.UvIndex }
type SampleTakenChanged struct {
	Lane  units.LedLane
	Value bool
}
type MaintenanceModeChanged struct{ Value bool }
type ReactorCableControlChanged struct{ Value bool }

func (ThermocoupleTempChanged) isReactorFieldUpdate()    {}
func (AmbientIlluminanceChanged) isReactorFieldUpdate()  {}
func (ReactorAmbientTempChanged) isReactorFieldUpdate()  {}
func (IrTempChanged) isReactorFieldUpdate()              {}
func (UvIndexChanged) isReactorFieldUpdate()             {}
func (SampleTakenChanged) isReactorFieldUpdate()         {}
func (MaintenanceModeChanged) isReactorFieldUpdate()     {}
func (ReactorCableControlChanged) isReactorFieldUpdate() {}

// ReactorObserver is notified once per field mutation. old and new are
// immutable snapshots (cheap copies); update is the tagged-union
// descriptor of what changed.
type ReactorObserver func(old, new ReactorBoxState, update ReactorFieldUpdate)

// ReactorBoxObservable is the single writer for a ReactorBoxState: all
// mutation goes through the typed setters below, serialized by mu.
// Observers are invoked outside the lock to avoid re-entrant deadlock if
// an observer calls back into the box.
type ReactorBoxObservable struct {
	mu        sync.Mutex
	state     ReactorBoxState
	observers []ReactorObserver
}

// NewReactorBoxObservable creates an observable with every field at its
// typed zero value.
func NewReactorBoxObservable() *ReactorBoxObservable {
	return &ReactorBoxObservable{}
}

// Subscribe registers an observer. Order of delivery to multiple
// observers for the same write matches registration order.
func (o *ReactorBoxObservable) Subscribe(fn ReactorObserver) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// Snapshot returns a copy of the current state.
func (o *ReactorBoxObservable) Snapshot() ReactorBoxState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *ReactorBoxObservable) publish(old ReactorBoxState, update ReactorFieldUpdate) {
	new := o.Snapshot()
	o.mu.Lock()
	observers := append([]ReactorObserver(nil), o.observers...)
	o.mu.Unlock()
	for _, fn := range observers {
		fn(old, new, update)
	}
}

func (o *ReactorBoxObservable) SetThermocoupleTemp(v units.Temperature) {
	o.mu.Lock()
	old := o.state
	o.state.ThermocoupleTemp = v
	o.mu.Unlock()
	o.publish(old, ThermocoupleTempChanged{v})
}

func (o *ReactorBoxObservable) SetAmbientIlluminance(v units.Illuminance) {
	o.mu.Lock()
	old := o.state
	o.state.AmbientIlluminance = v
	o.mu.Unlock()
	o.publish(old, AmbientIlluminanceChanged{v})
}

func (o *ReactorBoxObservable) SetAmbientTemp(v units.Temperature) {
	o.mu.Lock()
	old := o.state
	o.state.AmbientTemp = v
	o.mu.Unlock()
	o.publish(old, ReactorAmbientTempChanged{v})
}

func (o *ReactorBoxObservable) SetIrTemp(lane units.LedLane, v units.Temperature) {
	o.mu.Lock()
	old := o.state
	o.state.IrTemp.Set(lane, v)
	o.mu.Unlock()
	o.publish(old, IrTempChanged{lane, v})
}

func (o *ReactorBoxObservable) SetUvIndex(v units.UvIndex) {
	o.mu.Lock()
	old := o.state
	o.state.UvIndex = v
	o.mu.Unlock()
	o.publish(old, UvIndexChanged{v})
}

func (o *ReactorBoxObservable) SetSampleTaken(lane units.LedLane, v bool) {
	o.mu.Lock()
	old := o.state
	o.state.SampleTaken.Set(lane, v)
	o.mu.Unlock()
	o.publish(old, SampleTakenChanged{lane, v})
}

func (o *ReactorBoxObservable) SetMaintenanceMode(v bool) {
	o.mu.Lock()
	old := o.state
	o.state.MaintenanceMode = v
	o.mu.Unlock()
	o.publish(old, MaintenanceModeChanged{v})
}

func (o *ReactorBoxObservable) SetCableControl(v bool) {
	o.mu.Lock()
	old := o.state
	o.state.CableControl = v
	o.mu.Unlock()
	o.publish(old, ReactorCableControlChanged{v})
}
