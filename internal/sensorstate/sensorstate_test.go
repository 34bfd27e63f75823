package sensorstate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/photoreactor/prcontrol/internal/units"
)

func TestReactorBoxObservableNotifiesOnce(t *testing.T) {
	t.Run("one write delivers exactly one notification with matching snapshots", func(t *testing.T) {
		o := NewReactorBoxObservable()
		var calls int
		var captured ReactorFieldUpdate
		o.Subscribe(func(old, new ReactorBoxState, update ReactorFieldUpdate) {
			calls++
			captured = update
			assert.Equal(t, units.Temperature(0), old.AmbientTemp)
			assert.Equal(t, units.TemperatureFromCelsius(42), new.AmbientTemp)
		})

		o.SetAmbientTemp(units.TemperatureFromCelsius(42))

		assert.Equal(t, 1, calls)
		assert.Equal(t, ReactorAmbientTempChanged{units.TemperatureFromCelsius(42)}, captured)
	})

	t.Run("fields start at typed zero, never absent", func(t *testing.T) {
		o := NewReactorBoxObservable()
		snap := o.Snapshot()
		assert.Equal(t, units.Temperature(0), snap.ThermocoupleTemp)
		assert.False(t, snap.MaintenanceMode)
	})

	t.Run("lane fields are independently addressable", func(t *testing.T) {
		o := NewReactorBoxObservable()
		o.SetIrTemp(units.Lane2, units.TemperatureFromCelsius(55))

		snap := o.Snapshot()
		assert.Equal(t, units.Temperature(0), snap.IrTemp.Get(units.Lane1))
		assert.Equal(t, units.TemperatureFromCelsius(55), snap.IrTemp.Get(units.Lane2))
	})
}

func TestPowerBoxObservablePositionIndexing(t *testing.T) {
	t.Run("front and back of the same lane are distinct", func(t *testing.T) {
		o := NewPowerBoxObservable()
		front := units.LedPosition{Lane: units.Lane1, Side: units.Front}
		back := units.LedPosition{Lane: units.Lane1, Side: units.Back}

		o.SetPositionVoltage(front, units.VoltageFromMillivolts(1000))
		o.SetPositionVoltage(back, units.VoltageFromMillivolts(2000))

		snap := o.Snapshot()
		assert.Equal(t, units.VoltageFromMillivolts(1000), snap.PositionVoltage(front))
		assert.Equal(t, units.VoltageFromMillivolts(2000), snap.PositionVoltage(back))
	})

	t.Run("each write delivers one notification", func(t *testing.T) {
		o := NewPowerBoxObservable()
		var calls int
		o.Subscribe(func(old, new PowerBoxState, update PowerFieldUpdate) { calls++ })

		o.SetWaterDetected(true)
		assert.Equal(t, 1, calls)
	})
}
