// Package httpapi is the thin HTTP/WebSocket surface in front of the
// controller: CRUD over the keyed JSON config folders, the experiment
// lifecycle commands, and the live snapshot socket. Configuration errors
// (missing UID, unparseable JSON, invalid lane code) are rejected here
// with a user-visible 4xx and never reach the Controller.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/photoreactor/prcontrol/internal/configstore"
	"github.com/photoreactor/prcontrol/internal/controller"
	"github.com/photoreactor/prcontrol/internal/units"
	"github.com/photoreactor/prcontrol/internal/wsnotify"
)

// Handler holds the service dependencies for the HTTP handlers.
type Handler struct {
	stores map[configstore.Kind]*configstore.Folder
	ctrl   *controller.Controller
	hub    *wsnotify.Hub
	log    *zap.Logger
}

// New opens one config folder per object kind under root and returns a
// Handler wired to the controller and the WebSocket hub.
func New(root string, ctrl *controller.Controller, hub *wsnotify.Hub, log *zap.Logger) (*Handler, error) {
	kinds := []configstore.Kind{
		configstore.KindLed, configstore.KindBricklet, configstore.KindExpTmp,
		configstore.KindConfig, configstore.KindExperiment,
	}
	stores := make(map[configstore.Kind]*configstore.Folder, len(kinds))
	for _, kind := range kinds {
		folder, err := configstore.Open(root, kind)
		if err != nil {
			return nil, err
		}
		stores[kind] = folder
	}
	return &Handler{stores: stores, ctrl: ctrl, hub: hub, log: log}, nil
}

// Store exposes one kind's folder, for the bootstrap entrypoint's record
// sink wiring.
func (h *Handler) Store(kind configstore.Kind) *configstore.Folder { return h.stores[kind] }

// SetupRoutes configures all API routes.
func (h *Handler) SetupRoutes(app *fiber.App) {
	app.Get("/led", h.getObject(configstore.KindLed))
	app.Post("/led", h.postObject(configstore.KindLed))
	app.Delete("/led", h.deleteObject(configstore.KindLed))

	app.Get("/bricklet", h.getObject(configstore.KindBricklet))
	app.Post("/bricklet", h.postObject(configstore.KindBricklet))
	app.Delete("/bricklet", h.deleteObject(configstore.KindBricklet))

	app.Get("/exp_tmp", h.getObject(configstore.KindExpTmp))
	app.Post("/exp_tmp", h.postObject(configstore.KindExpTmp))
	app.Delete("/exp_tmp", h.deleteObject(configstore.KindExpTmp))

	app.Get("/config", h.getObject(configstore.KindConfig))
	app.Post("/config", h.postObject(configstore.KindConfig))
	app.Delete("/config", h.deleteObject(configstore.KindConfig))

	// Experiment records are produced by the rig, never uploaded.
	app.Get("/experiment", h.getObject(configstore.KindExperiment))
	app.Delete("/experiment", h.deleteObject(configstore.KindExperiment))

	app.Get("/list_led", h.listObjects(configstore.KindLed))
	app.Get("/list_bricklet", h.listObjects(configstore.KindBricklet))
	app.Get("/list_exp_tmp", h.listObjects(configstore.KindExpTmp))
	app.Get("/list_config", h.listObjects(configstore.KindConfig))
	app.Get("/list_experiment", h.listObjects(configstore.KindExperiment))

	app.Get("/start_experiment", h.startExperiment)
	app.Get("/pause_experiment", h.laneCommand(func(lane units.LedLane) {
		h.ctrl.Supervisor().PauseExperimentOn(lane)
	}))
	app.Get("/resume_experiment", h.laneCommand(func(lane units.LedLane) {
		h.ctrl.Supervisor().ResumeExperimentOn(lane)
	}))
	app.Get("/cancel_experiment", h.laneCommand(func(lane units.LedLane) {
		h.ctrl.Supervisor().CancelExperimentOn(lane)
	}))

	app.Get("/state", h.getState)
	app.Get("/ws", websocket.New(h.handleWebSocket))
}

func badRequest(c *fiber.Ctx, format string, args ...interface{}) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": fmt.Sprintf(format, args...),
	})
}

func parseUID(c *fiber.Ctx) (uint64, error) {
	raw := c.Query("uid")
	if raw == "" {
		return 0, fmt.Errorf("missing uid parameter")
	}
	uid, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("uid %q is not a valid integer", raw)
	}
	return uid, nil
}

// parseLane decodes the wire lane codes 0|1|2 used by the experiment
// lifecycle endpoints.
func parseLane(c *fiber.Ctx) (units.LedLane, error) {
	raw := c.Query("lane")
	code, err := strconv.Atoi(raw)
	if err != nil || code < 0 || code > 2 {
		return 0, fmt.Errorf("lane %q is not one of 0, 1, 2", raw)
	}
	return units.Lanes[code], nil
}

func (h *Handler) getObject(kind configstore.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, err := parseUID(c)
		if err != nil {
			return badRequest(c, "%v", err)
		}
		var raw json.RawMessage
		if err := h.stores[kind].Load(uid, &raw); err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(raw)
	}
}

// postObject accepts a multipart upload whose json_file part carries the
// object. The payload is validated against its kind's schema, then the
// uploaded bytes are stored verbatim so unknown fields round-trip.
func (h *Handler) postObject(kind configstore.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fileHeader, err := c.FormFile("json_file")
		if err != nil {
			return badRequest(c, "missing json_file upload")
		}
		file, err := fileHeader.Open()
		if err != nil {
			return badRequest(c, "unreadable json_file upload")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return badRequest(c, "unreadable json_file upload")
		}

		uid, err := validateObject(kind, data)
		if err != nil {
			return badRequest(c, "invalid %s object: %v", kind, err)
		}

		if err := h.stores[kind].Save(uid, json.RawMessage(data)); err != nil {
			h.log.Error("save config object failed",
				zap.String("kind", string(kind)), zap.Uint64("uid", uid), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"uid": uid})
	}
}

// validateObject parses data as the kind's record type and returns its
// UID. Every kind at minimum needs a positive integer uid and a name.
func validateObject(kind configstore.Kind, data []byte) (uint64, error) {
	switch kind {
	case configstore.KindLed:
		var v LedConfig
		if err := json.Unmarshal(data, &v); err != nil {
			return 0, err
		}
		return v.UID, requireUIDName(v.UID, v.Name)
	case configstore.KindBricklet:
		var v BrickletConfig
		if err := json.Unmarshal(data, &v); err != nil {
			return 0, err
		}
		return v.UID, requireUIDName(v.UID, v.Name)
	case configstore.KindExpTmp:
		var v TemplateRecord
		if err := json.Unmarshal(data, &v); err != nil {
			return 0, err
		}
		if err := requireUIDName(v.UID, v.Name); err != nil {
			return 0, err
		}
		return v.UID, v.Validate()
	case configstore.KindConfig:
		var v HardwareConfig
		if err := json.Unmarshal(data, &v); err != nil {
			return 0, err
		}
		return v.UID, requireUIDName(v.UID, v.Name)
	default:
		return 0, fmt.Errorf("uploads of kind %s are not accepted", kind)
	}
}

func requireUIDName(uid uint64, name string) error {
	if uid == 0 {
		return fmt.Errorf("missing or zero uid")
	}
	if name == "" {
		return fmt.Errorf("missing name")
	}
	return nil
}

func (h *Handler) deleteObject(kind configstore.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, err := parseUID(c)
		if err != nil {
			return badRequest(c, "%v", err)
		}
		if err := h.stores[kind].Delete(uid); err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"uid": uid})
	}
}

func (h *Handler) listObjects(kind configstore.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		results, err := h.stores[kind].List()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"results": results})
	}
}

func (h *Handler) startExperiment(c *fiber.Ctx) error {
	lane, err := parseLane(c)
	if err != nil {
		return badRequest(c, "%v", err)
	}
	templateUID, err := strconv.ParseUint(c.Query("template"), 10, 64)
	if err != nil {
		return badRequest(c, "template %q is not a valid uid", c.Query("template"))
	}
	labNotebookEntry := c.Query("lab_notebook_entry")

	if h.ctrl.Supervisor().IsRunningOn(lane) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": fmt.Sprintf("%s already has a running experiment", lane),
		})
	}

	var rec TemplateRecord
	if err := h.stores[configstore.KindExpTmp].Load(templateUID, &rec); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}

	tmpl, err := BuildTemplate(rec, lane, func(uid uint64) (LedConfig, error) {
		var led LedConfig
		err := h.stores[configstore.KindLed].Load(uid, &led)
		return led, err
	})
	if err != nil {
		return badRequest(c, "%v", err)
	}

	h.ctrl.Supervisor().StartExperimentOn(lane, tmpl, labNotebookEntry)
	h.log.Info("experiment started",
		zap.Int("lane", int(lane)), zap.Uint64("template", templateUID))
	return c.JSON(fiber.Map{"lane": int(lane) - 1, "template": templateUID})
}

// laneCommand wraps the pause/resume/cancel endpoints, which share the
// lane=0|1|2 query contract and an empty success body.
func (h *Handler) laneCommand(fn func(lane units.LedLane)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lane, err := parseLane(c)
		if err != nil {
			return badRequest(c, "%v", err)
		}
		fn(lane)
		return c.JSON(fiber.Map{"lane": int(lane) - 1})
	}
}

// getState returns one controller-state snapshot, the polling fallback
// for clients that don't hold the WebSocket open.
func (h *Handler) getState(c *fiber.Ctx) error {
	return c.JSON(h.ctrl.State())
}

// handleWebSocket registers the connection with the hub, which pushes a
// pcrdata snapshot every second, then blocks draining client reads until
// the peer goes away.
func (h *Handler) handleWebSocket(conn *websocket.Conn) {
	client := &wsnotify.Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan wsnotify.Message, 64),
	}
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
