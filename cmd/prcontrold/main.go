package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/photoreactor/prcontrol/internal/archive"
	"github.com/photoreactor/prcontrol/internal/box"
	"github.com/photoreactor/prcontrol/internal/bricklet/tcp"
	"github.com/photoreactor/prcontrol/internal/config"
	"github.com/photoreactor/prcontrol/internal/configstore"
	"github.com/photoreactor/prcontrol/internal/controller"
	"github.com/photoreactor/prcontrol/internal/experiment"
	"github.com/photoreactor/prcontrol/internal/httpapi"
	"github.com/photoreactor/prcontrol/internal/logger"
	"github.com/photoreactor/prcontrol/internal/mqttbridge"
	"github.com/photoreactor/prcontrol/internal/units"
	"github.com/photoreactor/prcontrol/internal/wsnotify"
)

var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: search ./configs, ., ~/.prcontrol)")
	writeDefault := flag.String("write-default-config", "", "write the default config to the given path and exit")
	flag.Parse()

	if *writeDefault != "" {
		if err := config.WriteDefault(*writeDefault); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("wrote", *writeDefault)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		LogDir:     cfg.Logger.LogDir,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 7,
		Compress:   true,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Get()
	log.Info("prcontrold starting", zap.String("version", Version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WebSocket hub first: the logger's bridge core and the snapshot
	// pusher both feed it.
	hub := wsnotify.NewHub(log)
	go hub.Run()
	logger.SetBroadcaster(func(level, message, source string, fields map[string]interface{}) {
		hub.Broadcast(wsnotify.MessageTypeLog, map[string]interface{}{
			"level": level, "message": message, "source": source, "fields": fields,
		})
	})

	sensorPeriod := time.Duration(cfg.Safety.SensorPeriodMs) * time.Millisecond
	powerBox := box.NewPowerBox(newPowerBoxBricklets(), sensorPeriod)
	reactorBox := box.NewReactorBox(newReactorBoxBricklets(), sensorPeriod)

	ctrl := controller.New(powerBox, reactorBox, controllerConfig(cfg))

	powerTransport := tcp.New(cfg.PowerBox.Host, cfg.PowerBox.Port)
	reactorTransport := tcp.New(cfg.ReactorBox.Host, cfg.ReactorBox.Port)
	if err := powerTransport.Connect(ctx); err != nil {
		log.Fatal("power box transport", zap.Error(err))
	}
	defer powerTransport.Close()
	if err := reactorTransport.Connect(ctx); err != nil {
		log.Fatal("reactor box transport", zap.Error(err))
	}
	defer reactorTransport.Close()

	if err := ctrl.Initialize(powerTransport, reactorTransport); err != nil {
		log.Fatal("controller initialize", zap.Error(err))
	}
	if err := powerBox.ResetLeds(); err != nil {
		log.Fatal("startup LED reset", zap.Error(err))
	}
	defer func() {
		if err := powerBox.ResetLeds(); err != nil {
			log.Error("shutdown LED reset", zap.Error(err))
		}
	}()

	handler, err := httpapi.New(cfg.Configstore.Dir, ctrl, hub, log)
	if err != nil {
		log.Fatal("config store", zap.Error(err))
	}

	wireRecordSink(ctrl, handler, cfg, log)

	if cfg.MQTT.Enabled {
		bridge, err := mqttbridge.Connect(mqttbridge.Config{
			Broker: cfg.MQTT.Broker,
			Topic:  cfg.MQTT.Topic,
		}, log)
		if err != nil {
			log.Error("mqtt bridge disabled", zap.Error(err))
		} else {
			defer bridge.Close()
			wirePanelTelemetry(powerBox, reactorBox, func() { bridge.PublishSnapshot(ctrl.State()) })
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go hub.RunSnapshotPusher(time.Second, stop, func() interface{} { return ctrl.State() })

	// Live threshold tuning: rewriting config.yaml adjusts the safety
	// machine without a restart.
	if *configPath != "" {
		if err := config.WatchForChanges(*configPath, func(fresh *config.Config) {
			ctrl.UpdateConfig(controllerConfig(fresh))
			log.Info("safety thresholds reloaded")
		}); err != nil {
			log.Warn("config hot-reload unavailable", zap.Error(err))
		}
	}

	app := fiber.New(fiber.Config{AppName: "prcontrold v" + Version})
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"service": "prcontrold", "version": Version})
	})
	handler.SetupRoutes(app)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("server listening", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server", zap.Error(err))
	}
}

// controllerConfig converts the YAML-friendly float thresholds into the
// controller's typed quantities.
func controllerConfig(cfg *config.Config) controller.Config {
	out := controller.Config{
		AmbientWarn:           units.TemperatureFromCelsius(cfg.Safety.AmbientWarnC),
		AmbientAbort:          units.TemperatureFromCelsius(cfg.Safety.AmbientAbortC),
		ThermocoupleThreshold: units.TemperatureFromCelsius(cfg.Safety.ThermocoupleC),
		AffectedLanes: map[units.LedLane]bool{
			units.Lane1: true, units.Lane2: true, units.Lane3: true,
		},
		UvThreshold: units.UvIndexFromUVI(cfg.Safety.UvThreshold),
	}
	for _, lane := range units.Lanes {
		out.IrWarn.Set(lane, units.TemperatureFromCelsius(cfg.Safety.IrWarnC[lane.Index()]))
		out.IrAbort.Set(lane, units.TemperatureFromCelsius(cfg.Safety.IrAbortC[lane.Index()]))
	}
	return out
}

// wireRecordSink persists every finalized experiment record into the
// experiment folder and, when configured, ships a copy to S3. Folder
// UIDs are allocated from the completion timestamp so repeated runs of
// one template never collide.
func wireRecordSink(ctrl *controller.Controller, handler *httpapi.Handler, cfg *config.Config, log *zap.Logger) {
	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		a, err := archive.New(archive.Config{
			Bucket: cfg.Archive.Bucket,
			Region: cfg.Archive.Region,
			Prefix: cfg.Archive.Prefix,
		}, log)
		if err != nil {
			log.Error("experiment archival disabled", zap.Error(err))
		} else {
			archiver = a
		}
	}

	folder := handler.Store(configstore.KindExperiment)
	ctrl.SetRecordSink(func(lane units.LedLane, record experiment.Record) {
		uid := uint64(record.CompletionDate.UnixMilli())
		doc := httpapi.NewExperimentDocument(uid, lane, record)
		if err := folder.Save(uid, doc); err != nil {
			log.Error("persist experiment record",
				zap.Uint64("uid", uid), zap.Int("lane", int(lane)), zap.Error(err))
		}
		if archiver != nil {
			archiver.UploadAsync(int(lane), uid, record.CompletionDate, doc)
		}
		log.Info("experiment finalized",
			zap.Int("lane", int(lane)),
			zap.Uint64("uid", uid),
			zap.Bool("cancelled", record.ExperimentCancelled),
			zap.Bool("error", record.ErrorOccurred))
	})
}
