package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/photoreactor/prcontrol/internal/box"
	"github.com/photoreactor/prcontrol/internal/bricklet"
	"github.com/photoreactor/prcontrol/internal/bricklet/mock"
	"github.com/photoreactor/prcontrol/internal/configstore"
	"github.com/photoreactor/prcontrol/internal/controller"
	"github.com/photoreactor/prcontrol/internal/units"
	"github.com/photoreactor/prcontrol/internal/wsnotify"
)

func newTestController(t *testing.T) *controller.Controller {
	t.Helper()

	var pb box.PowerBoxBricklets
	pb.IO = mock.NewDigitalIO16()
	pb.AmbientTemp = mock.NewAnalogSensor()
	pb.TotalVoltage = mock.NewAnalogSensor()
	pb.TotalCurrent = mock.NewAnalogSensor()
	for _, lane := range units.Lanes {
		var vPair, iPair [2]bricklet.AnalogSensor
		var rPair [2]bricklet.DualRelay
		var sPair [2]bricklet.ServoChannel
		for _, side := range []units.LedSide{units.Front, units.Back} {
			vPair[side] = mock.NewAnalogSensor()
			iPair[side] = mock.NewAnalogSensor()
			rPair[side] = mock.NewDualRelay()
			sPair[side] = mock.NewServoChannel()
		}
		pb.PositionVoltage.Set(lane, vPair)
		pb.PositionCurrent.Set(lane, iPair)
		pb.Relays.Set(lane, rPair)
		pb.Servos.Set(lane, sPair)
	}

	var rb box.ReactorBoxBricklets
	rb.IO = mock.NewDigitalIO16()
	rb.Thermocouple = mock.NewAnalogSensor()
	rb.AmbientLight = mock.NewAnalogSensor()
	rb.AmbientTemp = mock.NewAnalogSensor()
	rb.UvLight = mock.NewAnalogSensor()
	for _, lane := range units.Lanes {
		rb.LaneIrTemp.Set(lane, bricklet.AnalogSensor(mock.NewAnalogSensor()))
	}

	c := controller.New(
		box.NewPowerBox(pb, 200*time.Millisecond),
		box.NewReactorBox(rb, 200*time.Millisecond),
		controller.DefaultConfig(),
	)
	require.NoError(t, c.Initialize(mock.NewTransport(), mock.NewTransport()))
	return c
}

func newTestApp(t *testing.T) (*fiber.App, *Handler) {
	t.Helper()
	ctrl := newTestController(t)
	hub := wsnotify.NewHub(zap.NewNop())
	go hub.Run()

	h, err := New(t.TempDir(), ctrl, hub, zap.NewNop())
	require.NoError(t, err)

	app := fiber.New()
	h.SetupRoutes(app)
	return app, h
}

func multipartUpload(t *testing.T, path string, payload []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("json_file", "obj.json")
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func storedLed(uid uint64) []byte {
	return []byte(fmt.Sprintf(`{
  "uid": %d,
  "name": "365nm UV emitter",
  "min_wavelength": 360,
  "max_wavelength": 370,
  "color": "uv",
  "max_current": 700
}`, uid))
}

func TestConfigObjectRoundTrip(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(multipartUpload(t, "/led", storedLed(17)))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/led?uid=17", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var led LedConfig
	decodeBody(t, resp, &led)
	assert.Equal(t, uint64(17), led.UID)
	assert.Equal(t, "365nm UV emitter", led.Name)
	assert.Equal(t, uint32(700), led.MaxCurrentMa)
	assert.True(t, led.IsUV())

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/list_led", nil))
	require.NoError(t, err)
	var listing struct {
		Results []configstore.ListResult `json:"results"`
	}
	decodeBody(t, resp, &listing)
	require.Len(t, listing.Results, 1)
	assert.Equal(t, uint64(17), listing.Results[0].UID)
	assert.Equal(t, "365nm UV emitter", listing.Results[0].Description)

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/led?uid=17", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/led?uid=17", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostObjectRejections(t *testing.T) {
	app, _ := newTestApp(t)

	t.Run("missing json_file part", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/led", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unparseable JSON", func(t *testing.T) {
		resp, err := app.Test(multipartUpload(t, "/led", []byte("{not json")))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing uid", func(t *testing.T) {
		resp, err := app.Test(multipartUpload(t, "/led", []byte(`{"name": "anonymous"}`)))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("non-increasing sample timepoints", func(t *testing.T) {
		tmpl := TemplateRecord{
			UID:                  5,
			Name:                 "bad sampling",
			LedFront:             uid64(1),
			LedFrontIntensity:    0.5,
			SampleTimepoints:     []float64{3, 2},
			MeasurementIntervalS: 1,
		}
		payload, err := json.Marshal(tmpl)
		require.NoError(t, err)
		resp, err := app.Test(multipartUpload(t, "/exp_tmp", payload))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func uid64(v uint64) *uint64 { return &v }

func storedTemplate(uid, ledUID uint64) []byte {
	rec := TemplateRecord{
		UID:                  uid,
		Name:                 "routine degradation run",
		ActiveLane:           1,
		LedFront:             uid64(ledUID),
		LedFrontIntensity:    0.5,
		LedFrontExposureS:    3600,
		LedBack:              uid64(ledUID),
		LedBackIntensity:     0.5,
		LedBackExposureS:     3600,
		MeasurementIntervalS: 3600,
		PositionThermocouple: "vial center",
	}
	payload, _ := json.Marshal(rec)
	return payload
}

func TestStartExperiment(t *testing.T) {
	t.Run("starts a stored template on the requested lane", func(t *testing.T) {
		app, h := newTestApp(t)

		resp, err := app.Test(multipartUpload(t, "/led", storedLed(1)))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp, err = app.Test(multipartUpload(t, "/exp_tmp", storedTemplate(9, 1)))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, err = app.Test(httptest.NewRequest(http.MethodGet,
			"/start_experiment?lane=0&template=9&lab_notebook_entry=run+42", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, h.ctrl.Supervisor().IsRunningOn(units.Lane1))

		resp, err = app.Test(httptest.NewRequest(http.MethodGet,
			"/start_experiment?lane=0&template=9", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/cancel_experiment?lane=0", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, h.ctrl.Supervisor().IsRunningOn(units.Lane1))
	})

	t.Run("unknown template is a 404", func(t *testing.T) {
		app, _ := newTestApp(t)
		resp, err := app.Test(httptest.NewRequest(http.MethodGet,
			"/start_experiment?lane=0&template=404", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid lane code is rejected before the controller sees it", func(t *testing.T) {
		app, _ := newTestApp(t)
		for _, lane := range []string{"3", "-1", "left"} {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet,
				"/start_experiment?lane="+lane+"&template=9", nil))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		}
	})

	t.Run("dangling LED reference is rejected", func(t *testing.T) {
		app, _ := newTestApp(t)
		resp, err := app.Test(multipartUpload(t, "/exp_tmp", storedTemplate(9, 1)))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, err = app.Test(httptest.NewRequest(http.MethodGet,
			"/start_experiment?lane=0&template=9", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestLaneCommandValidation(t *testing.T) {
	app, _ := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/pause_experiment?lane=7", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/resume_experiment?lane=2", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStateEndpoint(t *testing.T) {
	app, _ := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/state", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state controller.ControllerState
	decodeBody(t, resp, &state)
	assert.Len(t, state.PositionVoltageMv, 6)
}
