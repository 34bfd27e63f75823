// Package logger provides the global structured logger. Every entry goes
// to the console and, if configured, to a rotated JSON file and the
// WebSocket-bridge core that republishes records to the operator's live
// log panel (internal/wsnotify). Warn-and-above entries additionally land
// in a second, separately-rotated file: the safety audit trail the
// Controller's threshold machine and fault handling (spec'd in
// internal/controller) depend on surviving independently of whatever
// verbosity the operator has dialed the general log down to.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// BroadcastFunc is called for each log entry to send to WebSocket clients.
type BroadcastFunc func(level, message, source string, fields map[string]interface{})

var (
	globalLogger *zap.Logger
	globalSugar  *zap.SugaredLogger
	broadcastFn  BroadcastFunc
	mu           sync.RWMutex
)

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console (console output only; the file and safety cores are always JSON)
	LogDir     string // directory for log files (empty = no file logging, safety core included)
	MaxSizeMB  int    // max size per log file in MB
	MaxBackups int    // max number of old log files
	MaxAgeDays int    // max days to retain old log files
	Compress   bool   // gzip compress rotated files
}

// DefaultConfig returns sensible defaults for a rig controller running
// unattended in a lab.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		LogDir:     "./logs",
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 7,
		Compress:   true,
	}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// consoleCore writes every entry at or above level to stdout. The
// console is the one place cfg.Format actually changes the encoding:
// "json" gets the same machine-readable encoder as the file cores,
// everything else (including the default, unset value) gets the
// human-readable console encoder a lab operator watching a terminal
// wants.
func consoleCore(cfg Config, encCfg zapcore.EncoderConfig, level zapcore.LevelEnabler) zapcore.Core {
	var enc zapcore.Encoder
	if cfg.Format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level)
}

// rotatedFileCore opens a lumberjack-rotated JSON sink under cfg.LogDir
// and wraps it with a core gated at level, independent of the console's
// level so the safety file can stay at Warn regardless of what the
// console is configured to show.
func rotatedFileCore(cfg Config, encCfg zapcore.EncoderConfig, filename string, level zapcore.LevelEnabler) zapcore.Core {
	fileWriter := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, filename),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	enc := zapcore.NewJSONEncoder(encCfg)
	return zapcore.NewCore(enc, zapcore.AddSync(fileWriter), level)
}

// Init initializes the global logger with the given configuration.
func Init(cfg Config) error {
	logLevel, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		logLevel = zapcore.InfoLevel
	}
	encCfg := encoderConfig()

	cores := []zapcore.Core{consoleCore(cfg, encCfg, logLevel)}

	if cfg.LogDir != "" {
		if mkErr := os.MkdirAll(cfg.LogDir, 0755); mkErr != nil {
			return fmt.Errorf("failed to create log directory: %w", mkErr)
		}
		cores = append(cores,
			rotatedFileCore(cfg, encCfg, "prcontrol.log", logLevel),
			// Safety audit trail: always captures Warn+ regardless of
			// cfg.Level, so dialing down general verbosity never loses a
			// threshold/fault event (internal/controller raises these).
			rotatedFileCore(cfg, encCfg, "prcontrol-safety.log", zapcore.WarnLevel),
		)
	}

	cores = append(cores, &wsBridgeCore{level: logLevel})

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))

	mu.Lock()
	globalLogger = logger
	globalSugar = logger.Sugar()
	mu.Unlock()

	return nil
}

// SetBroadcaster sets the WebSocket broadcast function. Called after the
// WebSocket hub is initialized.
func SetBroadcaster(fn BroadcastFunc) {
	mu.Lock()
	defer mu.Unlock()
	broadcastFn = fn
}

// Get returns the global zap.Logger.
func Get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return globalLogger
}

// Sugar returns the global sugared logger.
func Sugar() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if globalSugar == nil {
		l, _ := zap.NewDevelopment()
		return l.Sugar()
	}
	return globalSugar
}

// Sync flushes buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

// --- Convenience functions ---

func Info(msg string, fields ...zap.Field)  { Get().Info(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Get().Error(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Get().Warn(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { Get().Debug(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { Get().Fatal(msg, fields...) }

// --- Context loggers ---

// WithBox returns a logger tagged with which enclosure ("reactor" or
// "power") a log line concerns.
func WithBox(box string) *zap.Logger {
	return Get().With(zap.String("box", box))
}

// WithLane returns a logger tagged with a lane number (1-3).
func WithLane(lane int) *zap.Logger {
	return Get().With(zap.Int("lane", lane))
}

// WithPosition returns a logger tagged with both lane and LED side
// ("front"/"back"), for PID and relay/servo diagnostics.
func WithPosition(lane int, side string) *zap.Logger {
	return Get().With(zap.Int("lane", lane), zap.String("side", side))
}

// --- io.Writer adapter for stdlib log compatibility ---

// Writer returns an io.Writer that writes to the logger at Info level.
// Use with: log.SetOutput(logger.Writer()).
func Writer() io.Writer {
	return &logWriter{}
}

type logWriter struct{}

func (w *logWriter) Write(p []byte) (n int, err error) {
	msg := string(p)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}
	Get().Info(msg)
	return len(p), nil
}

// --- WebSocket bridge zapcore.Core ---

// wsBridgeCore republishes entries at or above level to the operator's
// live log panel via broadcastFn. It carries no knowledge of lumberjack
// or encoders: its only job is turning a zapcore.Entry plus its fields
// into the (level, message, source, fields) shape wsnotify broadcasts.
type wsBridgeCore struct {
	level  zapcore.Level
	fields []zapcore.Field
}

func (c *wsBridgeCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.level
}

func (c *wsBridgeCore) With(fields []zapcore.Field) zapcore.Core {
	combined := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	combined = append(combined, c.fields...)
	combined = append(combined, fields...)
	return &wsBridgeCore{level: c.level, fields: combined}
}

func (c *wsBridgeCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		ce = ce.AddCore(entry, c)
	}
	return ce
}

func (c *wsBridgeCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	mu.RLock()
	fn := broadcastFn
	mu.RUnlock()
	if fn == nil {
		return nil
	}

	source, extra := fieldsToPanelShape(append(c.fields, fields...))
	fn(panelLevel(entry.Level), entry.Message, source, extra)
	return nil
}

func (c *wsBridgeCore) Sync() error { return nil }

// panelLevel collapses zap's finer-grained levels to the three the log
// panel renders; DPanic/Panic/Fatal are all operator-facing errors.
func panelLevel(lvl zapcore.Level) string {
	switch lvl {
	case zapcore.DebugLevel:
		return "debug"
	case zapcore.WarnLevel:
		return "warn"
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return "error"
	default:
		return "info"
	}
}

// fieldsToPanelShape splits a "source" field out (defaulting to this
// binary's name when absent) and flattens the rest into a plain map the
// log panel can render as JSON.
func fieldsToPanelShape(fields []zapcore.Field) (source string, extra map[string]interface{}) {
	source = "prcontrold"
	extra = make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if f.Key == "source" {
			source = f.String
			continue
		}
		if v, ok := fieldValue(f); ok {
			extra[f.Key] = v
		}
	}
	return source, extra
}

func fieldValue(f zapcore.Field) (interface{}, bool) {
	switch f.Type {
	case zapcore.StringType:
		return f.String, true
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type:
		return f.Integer, true
	case zapcore.Float64Type:
		return float64(f.Integer), true
	case zapcore.BoolType:
		return f.Integer == 1, true
	case zapcore.DurationType:
		return time.Duration(f.Integer).String(), true
	case zapcore.ErrorType:
		if f.Interface != nil {
			return fmt.Sprintf("%v", f.Interface), true
		}
	}
	return nil, false
}
