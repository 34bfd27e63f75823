package httpapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/photoreactor/prcontrol/internal/experiment"
	"github.com/photoreactor/prcontrol/internal/units"
)

// LedConfig describes one physical LED module in the lab's inventory.
// Stored under /led; templates reference LEDs by UID.
type LedConfig struct {
	UID             uint64  `json:"uid"`
	Name            string  `json:"name"`
	MinWavelengthNm float64 `json:"min_wavelength"`
	MaxWavelengthNm float64 `json:"max_wavelength"`
	Color           string  `json:"color"`
	MaxCurrentMa    uint32  `json:"max_current"`
}

// IsUV reports whether the LED counts as a UV source.
func (l LedConfig) IsUV() bool { return l.MinWavelengthNm <= 400 }

// BrickletConfig maps one logical peripheral name to its bus UID. Stored
// under /bricklet.
type BrickletConfig struct {
	UID         uint64 `json:"uid"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	BrickletUID string `json:"bricklet_uid"`
}

// HardwareConfig is one named set of rig-level safety thresholds. Stored
// under /config; templates reference it by UID.
type HardwareConfig struct {
	UID           uint64     `json:"uid"`
	Name          string     `json:"name"`
	AmbientWarnC  float64    `json:"ambient_warn_c"`
	AmbientAbortC float64    `json:"ambient_abort_c"`
	IrWarnC       [3]float64 `json:"ir_warn_c"`
	IrAbortC      [3]float64 `json:"ir_abort_c"`
	ThermocoupleC float64    `json:"thermocouple_c"`
	AffectedLanes []int      `json:"affected_lanes"`
}

// TemplateRecord is the persisted form of an experiment template. LED
// references are UIDs into the /led folder; a null led_front/led_back
// means that side is unused.
type TemplateRecord struct {
	UID                  uint64    `json:"uid"`
	Name                 string    `json:"name"`
	ConfigFile           uint64    `json:"config_file"`
	ActiveLane           int       `json:"active_lane"` // 1..3
	LedFront             *uint64   `json:"led_front"`
	LedFrontIntensity    float64   `json:"led_front_intensity"`
	LedFrontDistance     float64   `json:"led_front_distance_to_vial"`
	LedFrontExposureS    float64   `json:"led_front_exposure_time"`
	LedBack              *uint64   `json:"led_back"`
	LedBackIntensity     float64   `json:"led_back_intensity"`
	LedBackDistance      float64   `json:"led_back_distance_to_vial"`
	LedBackExposureS     float64   `json:"led_back_exposure_time"`
	SampleTimepoints     []float64 `json:"time_points_sample_taking"`
	MeasurementIntervalS float64   `json:"measurement_interval"`
	PositionThermocouple string    `json:"position_thermocouple"`
}

// Validate rejects templates the runner cannot execute: intensities
// outside [0,1], non-increasing sample timepoints, or a run with no LED
// at all.
func (t TemplateRecord) Validate() error {
	if t.LedFront == nil && t.LedBack == nil {
		return fmt.Errorf("template %d uses no LED on either side", t.UID)
	}
	if t.LedFront != nil && (t.LedFrontIntensity < 0 || t.LedFrontIntensity > 1) {
		return fmt.Errorf("led_front_intensity %v out of [0,1]", t.LedFrontIntensity)
	}
	if t.LedBack != nil && (t.LedBackIntensity < 0 || t.LedBackIntensity > 1) {
		return fmt.Errorf("led_back_intensity %v out of [0,1]", t.LedBackIntensity)
	}
	for i := 1; i < len(t.SampleTimepoints); i++ {
		if t.SampleTimepoints[i] <= t.SampleTimepoints[i-1] {
			return fmt.Errorf("time_points_sample_taking must be strictly increasing")
		}
	}
	if t.MeasurementIntervalS <= 0 {
		return fmt.Errorf("measurement_interval must be positive")
	}
	return nil
}

// LedLookup resolves an LED config by UID, for template expansion.
type LedLookup func(uid uint64) (LedConfig, error)

// BuildTemplate expands a persisted TemplateRecord into the runner's
// in-memory Template, resolving LED references through lookup.
func BuildTemplate(rec TemplateRecord, lane units.LedLane, lookup LedLookup) (experiment.Template, error) {
	if err := rec.Validate(); err != nil {
		return experiment.Template{}, err
	}

	tmpl := experiment.Template{
		Name:                 rec.Name,
		UID:                  rec.UID,
		HardwareConfigRef:    fmt.Sprintf("%d", rec.ConfigFile),
		Lane:                 lane,
		SampleTimepoints:     rec.SampleTimepoints,
		MeasurementInterval:  time.Duration(rec.MeasurementIntervalS * float64(time.Second)),
		ThermocouplePosition: rec.PositionThermocouple,
	}

	if rec.LedFront != nil {
		led, err := lookup(*rec.LedFront)
		if err != nil {
			return experiment.Template{}, fmt.Errorf("led_front: %w", err)
		}
		tmpl.Front = &experiment.LedDescriptor{
			MaxCurrent:      units.CurrentFromMilliamps(led.MaxCurrentMa),
			Intensity:       rec.LedFrontIntensity,
			DistanceMm:      rec.LedFrontDistance,
			ExposureSeconds: rec.LedFrontExposureS,
			MinWavelengthNm: led.MinWavelengthNm,
		}
	}
	if rec.LedBack != nil {
		led, err := lookup(*rec.LedBack)
		if err != nil {
			return experiment.Template{}, fmt.Errorf("led_back: %w", err)
		}
		tmpl.Back = &experiment.LedDescriptor{
			MaxCurrent:      units.CurrentFromMilliamps(led.MaxCurrentMa),
			Intensity:       rec.LedBackIntensity,
			DistanceMm:      rec.LedBackDistance,
			ExposureSeconds: rec.LedBackExposureS,
			MinWavelengthNm: led.MinWavelengthNm,
		}
	}
	return tmpl, nil
}

// EventEntry is one event-log line in a persisted experiment document.
type EventEntry struct {
	TimepointS float64 `json:"timepoint"`
	Event      string  `json:"event"`
}

// MeasuredEntry is one measured-data sample in a persisted experiment
// document.
type MeasuredEntry struct {
	TimepointS         float64 `json:"timepoint"`
	ThermocoupleC      float64 `json:"temperature_thermocouple"`
	PowerBoxAmbientC   float64 `json:"ambient_temp_power_box"`
	ReactorBoxAmbientC float64 `json:"ambient_temp_reactor_box"`
	LaneVoltageMv      float64 `json:"voltage"`
	LaneCurrentMa      float64 `json:"current"`
	LaneIrTempC        float64 `json:"ir_temp"`
	UvIndex            float64 `json:"uv_index"`
	AmbientLight       float64 `json:"ambient_light"`
}

// ExperimentDocument is the persisted form of a finalized experiment
// record: the template fields copied forward plus logs and final flags.
type ExperimentDocument struct {
	UID                  uint64          `json:"uid"`
	Name                 string          `json:"name"`
	TemplateUID          uint64          `json:"template_uid"`
	LabNotebookEntry     string          `json:"lab_notebook_entry"`
	ActiveLane           int             `json:"active_lane"`
	ConfigFile           string          `json:"config_file"`
	LedFrontMaxCurrentMa *uint32         `json:"led_front_max_current"`
	LedFrontIntensity    float64         `json:"led_front_intensity"`
	LedFrontDistance     float64         `json:"led_front_distance_to_vial"`
	LedFrontExposureS    float64         `json:"led_front_exposure_time"`
	LedBackMaxCurrentMa  *uint32         `json:"led_back_max_current"`
	LedBackIntensity     float64         `json:"led_back_intensity"`
	LedBackDistance      float64         `json:"led_back_distance_to_vial"`
	LedBackExposureS     float64         `json:"led_back_exposure_time"`
	SampleTimepoints     []float64       `json:"time_points_sample_taking"`
	PositionThermocouple string          `json:"position_thermocouple"`
	ParallelExperiments  []uint64        `json:"parallel_experiments"`
	EventLog             []EventEntry    `json:"event_log"`
	MeasuredData         []MeasuredEntry `json:"measured_data"`
	ErrorOccurred        bool            `json:"error_occured"`
	ExperimentCancelled  bool            `json:"experiment_cancelled"`
	CompletionDate       time.Time       `json:"date"`
}

// NewExperimentDocument converts a finalized runner record into its
// persisted document form. uid keys the document in the experiment
// folder; it is allocated by the caller, distinct from the template's
// UID so repeated runs of one template never overwrite each other.
func NewExperimentDocument(uid uint64, lane units.LedLane, record experiment.Record) ExperimentDocument {
	doc := ExperimentDocument{
		UID:                  uid,
		Name:                 record.Template.Name,
		TemplateUID:          record.Template.UID,
		LabNotebookEntry:     record.LabNotebookEntry,
		ActiveLane:           int(lane),
		ConfigFile:           record.Template.HardwareConfigRef,
		SampleTimepoints:     record.Template.SampleTimepoints,
		PositionThermocouple: record.Template.ThermocouplePosition,
		ParallelExperiments:  record.ParallelExperimentUIDs,
		EventLog:             make([]EventEntry, 0, len(record.EventLog)),
		MeasuredData:         make([]MeasuredEntry, 0, len(record.MeasuredData)),
		ErrorOccurred:        record.ErrorOccurred,
		ExperimentCancelled:  record.ExperimentCancelled,
		CompletionDate:       record.CompletionDate,
	}

	if front := record.Template.Front; front != nil {
		ma := front.MaxCurrent.Milliamps()
		doc.LedFrontMaxCurrentMa = &ma
		doc.LedFrontIntensity = front.Intensity
		doc.LedFrontDistance = front.DistanceMm
		doc.LedFrontExposureS = front.ExposureSeconds
	}
	if back := record.Template.Back; back != nil {
		ma := back.MaxCurrent.Milliamps()
		doc.LedBackMaxCurrentMa = &ma
		doc.LedBackIntensity = back.Intensity
		doc.LedBackDistance = back.DistanceMm
		doc.LedBackExposureS = back.ExposureSeconds
	}
	return doc
}

// MarshalDocument renders the document the way every other stored object
// is rendered, for archival consumers that bypass the config folder.
func MarshalDocument(doc ExperimentDocument) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}
