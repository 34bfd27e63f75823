package controller

import "github.com/photoreactor/prcontrol/internal/units"

// ControllerState is the serialized snapshot pushed over the WebSocket
// hub (internal/wsnotify, 1 Hz) and the MQTT bridge
// (internal/mqttbridge, on LED change). It flattens both boxes'
// sensor-state fields plus the Controller's own derived threshold/fault
// state into one JSON-friendly struct.
type ControllerState struct {
	PowerConnected   bool `json:"power_connected"`
	ReactorConnected bool `json:"reactor_connected"`

	ThermocoupleC   float64 `json:"thermocouple_c"`
	ReactorAmbientC float64 `json:"reactor_ambient_c"`
	PowerAmbientC   float64 `json:"power_ambient_c"`
	AmbientLux      float64 `json:"ambient_lux"`
	UvIndex         float64 `json:"uv_index"`
	MaintenanceMode bool    `json:"maintenance_mode"`

	LaneIrTempC [3]float64 `json:"lane_ir_temp_c"`
	SampleTaken [3]bool    `json:"sample_taken"`

	TotalVoltageMv uint32 `json:"total_voltage_mv"`
	TotalCurrentMa uint32 `json:"total_current_ma"`

	PositionVoltageMv map[string]uint32 `json:"position_voltage_mv"`
	PositionCurrentMa map[string]uint32 `json:"position_current_ma"`
	LedInstalled      map[string]bool   `json:"led_installed"`
	LedActive         map[string]bool   `json:"led_active"`

	PowerBoxLidClosed   bool `json:"power_box_lid_closed"`
	ReactorBoxLidClosed bool `json:"reactor_box_lid_closed"`
	WaterDetected       bool `json:"water_detected"`

	AmbientThresholdState      string    `json:"ambient_threshold_state"`
	ThermocoupleThresholdState string    `json:"thermocouple_threshold_state"`
	LaneIrThresholdState       [3]string `json:"lane_ir_threshold_state"`
	VoltageFaultCount          int       `json:"voltage_fault_count"`
}

// State builds a ControllerState snapshot from both boxes' current
// sensor state and the Controller's own threshold machinery. Safe to
// call from any goroutine; it only takes brief read locks.
func (c *Controller) State() ControllerState {
	reactor := c.reactorBox.Sensors.Snapshot()
	power := c.powerBox.Sensors.Snapshot()

	c.mu.Lock()
	powerConnected, reactorConnected := c.powerConnected, c.reactorConnected
	ambientState := c.ambientState
	thermoState := c.thermocoupleState
	irState := c.irState
	faultCount := len(c.voltageFaults)
	c.mu.Unlock()

	s := ControllerState{
		PowerConnected:   powerConnected,
		ReactorConnected: reactorConnected,

		ThermocoupleC:   reactor.ThermocoupleTemp.Celsius(),
		ReactorAmbientC: reactor.AmbientTemp.Celsius(),
		PowerAmbientC:   power.AmbientTemp.Celsius(),
		AmbientLux:      reactor.AmbientIlluminance.Lux(),
		UvIndex:         reactor.UvIndex.UVI(),
		MaintenanceMode: reactor.MaintenanceMode,

		TotalVoltageMv: power.TotalVoltage.Millivolts(),
		TotalCurrentMa: power.TotalCurrent.Milliamps(),

		PositionVoltageMv: make(map[string]uint32, 6),
		PositionCurrentMa: make(map[string]uint32, 6),
		LedInstalled:      make(map[string]bool, 6),
		LedActive:         make(map[string]bool, 6),

		PowerBoxLidClosed:   power.PowerBoxLid == units.LidClosed,
		ReactorBoxLidClosed: power.ReactorBoxLid == units.LidClosed,
		WaterDetected:       power.WaterDetected,

		AmbientThresholdState:      ambientState.String(),
		ThermocoupleThresholdState: thermoState.String(),
		VoltageFaultCount:          faultCount,
	}

	for _, lane := range units.Lanes {
		idx := lane.Index()
		s.LaneIrTempC[idx] = reactor.IrTemp.Get(lane).Celsius()
		s.SampleTaken[idx] = reactor.SampleTaken.Get(lane)
		s.LaneIrThresholdState[idx] = irState.Get(lane).String()
	}

	for _, pos := range units.AllPositions {
		key := pos.String()
		s.PositionVoltageMv[key] = power.PositionVoltage(pos).Millivolts()
		s.PositionCurrentMa[key] = power.PositionCurrent(pos).Milliamps()
		s.LedInstalled[key] = power.IsLedInstalled(pos)
		s.LedActive[key] = c.powerBox.IsLedActive(pos)
	}

	return s
}
