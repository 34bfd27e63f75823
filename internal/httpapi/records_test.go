package httpapi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photoreactor/prcontrol/internal/experiment"
	"github.com/photoreactor/prcontrol/internal/units"
)

func TestTemplateRecordRoundTrip(t *testing.T) {
	rec := TemplateRecord{
		UID:                  12,
		Name:                 "blue light stability",
		ConfigFile:           3,
		ActiveLane:           2,
		LedFront:             uid64(7),
		LedFrontIntensity:    0.8,
		LedFrontDistance:     12.5,
		LedFrontExposureS:    300,
		SampleTimepoints:     []float64{60, 120, 240},
		MeasurementIntervalS: 5,
		PositionThermocouple: "vial 2",
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	var back TemplateRecord
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rec, back)
}

func TestBuildTemplate(t *testing.T) {
	leds := map[uint64]LedConfig{
		7: {UID: 7, Name: "365nm", MinWavelengthNm: 360, MaxWavelengthNm: 370, MaxCurrentMa: 700},
		8: {UID: 8, Name: "450nm", MinWavelengthNm: 445, MaxWavelengthNm: 455, MaxCurrentMa: 1000},
	}
	lookup := func(uid uint64) (LedConfig, error) {
		led, ok := leds[uid]
		if !ok {
			return LedConfig{}, assert.AnError
		}
		return led, nil
	}

	rec := TemplateRecord{
		UID:                  12,
		Name:                 "mixed sides",
		LedFront:             uid64(7),
		LedFrontIntensity:    0.5,
		LedFrontExposureS:    120,
		LedBack:              uid64(8),
		LedBackIntensity:     0.75,
		LedBackExposureS:     240,
		SampleTimepoints:     []float64{30, 60},
		MeasurementIntervalS: 2,
	}

	tmpl, err := BuildTemplate(rec, units.Lane2, lookup)
	require.NoError(t, err)

	assert.Equal(t, units.Lane2, tmpl.Lane)
	require.NotNil(t, tmpl.Front)
	assert.Equal(t, units.CurrentFromMilliamps(700), tmpl.Front.MaxCurrent)
	assert.Equal(t, 0.5, tmpl.Front.Intensity)
	assert.True(t, tmpl.Front.IsUV())
	require.NotNil(t, tmpl.Back)
	assert.False(t, tmpl.Back.IsUV())
	assert.Equal(t, 2*time.Second, tmpl.MeasurementInterval)
	assert.True(t, tmpl.UsesUV())
}

func TestBuildTemplateRejections(t *testing.T) {
	lookup := func(uid uint64) (LedConfig, error) {
		return LedConfig{UID: uid, MaxCurrentMa: 500}, nil
	}

	t.Run("no LED on either side", func(t *testing.T) {
		_, err := BuildTemplate(TemplateRecord{UID: 1, MeasurementIntervalS: 1}, units.Lane1, lookup)
		assert.Error(t, err)
	})

	t.Run("intensity above 1", func(t *testing.T) {
		_, err := BuildTemplate(TemplateRecord{
			UID: 1, LedFront: uid64(7), LedFrontIntensity: 1.2, MeasurementIntervalS: 1,
		}, units.Lane1, lookup)
		assert.Error(t, err)
	})

	t.Run("dangling LED reference", func(t *testing.T) {
		failing := func(uint64) (LedConfig, error) { return LedConfig{}, assert.AnError }
		_, err := BuildTemplate(TemplateRecord{
			UID: 1, LedFront: uid64(7), LedFrontIntensity: 0.5, MeasurementIntervalS: 1,
		}, units.Lane1, failing)
		assert.Error(t, err)
	})
}

func TestNewExperimentDocument(t *testing.T) {
	completed := time.Date(2026, 8, 1, 14, 30, 0, 0, time.UTC)
	record := experiment.Record{
		Template: experiment.Template{
			Name: "degradation run",
			UID:  12,
			Lane: units.Lane1,
			Front: &experiment.LedDescriptor{
				MaxCurrent:      units.CurrentFromMilliamps(700),
				Intensity:       0.5,
				ExposureSeconds: 300,
			},
			SampleTimepoints:     []float64{60},
			ThermocouplePosition: "vial 1",
		},
		LabNotebookEntry:       "run 42",
		ParallelExperimentUIDs: []uint64{13},
		EventLog: []experiment.EventLogEntry{
			{TimepointSeconds: 0, Event: "experiment was started"},
		},
		ErrorOccurred:       false,
		ExperimentCancelled: true,
		CompletionDate:      completed,
	}

	doc := NewExperimentDocument(99, units.Lane1, record)

	assert.Equal(t, uint64(99), doc.UID)
	assert.Equal(t, uint64(12), doc.TemplateUID)
	assert.Equal(t, 1, doc.ActiveLane)
	require.NotNil(t, doc.LedFrontMaxCurrentMa)
	assert.Equal(t, uint32(700), *doc.LedFrontMaxCurrentMa)
	assert.Nil(t, doc.LedBackMaxCurrentMa)
	assert.True(t, doc.ExperimentCancelled)
	assert.False(t, doc.ErrorOccurred)
	assert.Equal(t, completed, doc.CompletionDate)

	// The persisted shape keeps the historical field spellings.
	data, err := MarshalDocument(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"error_occured": false`)
	assert.Contains(t, string(data), `"experiment_cancelled": true`)
	assert.Contains(t, string(data), `"lab_notebook_entry": "run 42"`)
}
