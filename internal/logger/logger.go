// Package logger provides the leveled, structured logging used throughout
// the mount process: a package-level default logger backed by slog, with an
// optional rotating file sink for long-running mounts.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity names the configured logging threshold; string-valued so it can
// come straight off a CLI flag.
type Severity string

const (
	TRACE   Severity = "TRACE"
	DEBUG   Severity = "DEBUG"
	INFO    Severity = "INFO"
	WARNING Severity = "WARNING"
	ERROR   Severity = "ERROR"
	OFF     Severity = "OFF"
)

const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)
)

// LogRotateConfig mirrors the lumberjack tunables exposed to callers.
type LogRotateConfig struct {
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

func DefaultLogRotateConfig() LogRotateConfig {
	return LogRotateConfig{MaxFileSizeMB: 512, BackupFileCount: 10, Compress: false}
}

// LogConfig is the one fixed interface into process-lifecycle logging setup.
type LogConfig struct {
	FilePath        string
	Severity        Severity
	Format          string // "text" or "json"; "" behaves as "json"
	LogRotateConfig LogRotateConfig
}

type loggerFactory struct {
	mu sync.Mutex

	file      *os.File
	sysWriter io.Writer
	async     *AsyncLogger

	level           Severity
	format          string
	logRotateConfig LogRotateConfig

	programLevel *slog.LevelVar
}

var (
	defaultLoggerFactory = &loggerFactory{
		level:           INFO,
		logRotateConfig: DefaultLogRotateConfig(),
		programLevel:    new(slog.LevelVar),
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, defaultLoggerFactory.programLevel, ""))
)

func init() {
	setLoggingLevel(defaultLoggerFactory.level, defaultLoggerFactory.programLevel)
}

// InitLogFile redirects the default logger to a rotating file on disk,
// draining writes through an AsyncLogger so a slow or rotating sink never
// blocks a caller on the read path.
func InitLogFile(cfg LogConfig) error {
	f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logger: opening %s: %w", cfg.FilePath, err)
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.LogRotateConfig.MaxFileSizeMB,
		MaxBackups: cfg.LogRotateConfig.BackupFileCount,
		Compress:   cfg.LogRotateConfig.Compress,
	}
	async := NewAsyncLogger(lj, 1024)

	defaultLoggerFactory.mu.Lock()
	defaultLoggerFactory.file = f
	defaultLoggerFactory.sysWriter = nil
	defaultLoggerFactory.async = async
	defaultLoggerFactory.format = cfg.Format
	defaultLoggerFactory.level = cfg.Severity
	defaultLoggerFactory.logRotateConfig = cfg.LogRotateConfig
	defaultLoggerFactory.mu.Unlock()

	setLoggingLevel(cfg.Severity, defaultLoggerFactory.programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(async, defaultLoggerFactory.programLevel, ""))
	return nil
}

// SetSeverity adjusts the default logger's minimum severity in place,
// without touching its output sink. Used by the CLI when no --log-file is
// given, so --log-severity still takes effect against stderr.
func SetSeverity(level Severity) {
	defaultLoggerFactory.mu.Lock()
	defaultLoggerFactory.level = level
	defaultLoggerFactory.mu.Unlock()
	setLoggingLevel(level, defaultLoggerFactory.programLevel)
}

// SetLogFormat switches the default logger between "text" and "json" (any
// other value, including "", behaves as "json").
func SetLogFormat(format string) {
	defaultLoggerFactory.mu.Lock()
	defaultLoggerFactory.format = format
	w := io.Writer(os.Stderr)
	if defaultLoggerFactory.async != nil {
		w = defaultLoggerFactory.async
	}
	defaultLoggerFactory.mu.Unlock()

	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, defaultLoggerFactory.programLevel, ""))
}

func setLoggingLevel(level Severity, programLevel *slog.LevelVar) {
	switch level {
	case TRACE:
		programLevel.Set(LevelTrace)
	case DEBUG:
		programLevel.Set(LevelDebug)
	case INFO:
		programLevel.Set(LevelInfo)
	case WARNING:
		programLevel.Set(LevelWarn)
	case ERROR:
		programLevel.Set(LevelError)
	case OFF, "":
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, programLevel *slog.LevelVar, prefix string) slog.Handler {
	return &textOrJSONHandler{w: w, programLevel: programLevel, format: f.format, prefix: prefix}
}

// textOrJSONHandler renders records in one of two fixed shapes; it never
// handles structured attrs or groups, which this program's log call sites
// never attach.
type textOrJSONHandler struct {
	mu sync.Mutex

	w            io.Writer
	programLevel *slog.LevelVar
	format       string
	prefix       string
}

func (h *textOrJSONHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.programLevel.Level()
}

func (h *textOrJSONHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	severity := severityName(r.Level)
	message := h.prefix + r.Message

	if h.format == "text" {
		ts := r.Time.Format("02/01/2006 15:04:05.000000")
		_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q\n", ts, severity, message)
		return err
	}

	enc, err := json.Marshal(jsonRecord{
		Timestamp: jsonTimestamp{Seconds: r.Time.Unix(), Nanos: int64(r.Time.Nanosecond())},
		Severity:  severity,
		Message:   message,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(h.w, string(enc))
	return err
}

func (h *textOrJSONHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *textOrJSONHandler) WithGroup(_ string) slog.Handler      { return h }

type jsonTimestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int64 `json:"nanos"`
}

type jsonRecord struct {
	Timestamp jsonTimestamp `json:"timestamp"`
	Severity  string        `json:"severity"`
	Message   string        `json:"message"`
}

func severityName(level slog.Level) string {
	switch {
	case level < LevelDebug:
		return "TRACE"
	case level < LevelInfo:
		return "DEBUG"
	case level < LevelWarn:
		return "INFO"
	case level < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func logf(level slog.Level, format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Tracef(format string, v ...interface{}) { logf(LevelTrace, format, v...) }
func Debugf(format string, v ...interface{}) { logf(LevelDebug, format, v...) }
func Infof(format string, v ...interface{})  { logf(LevelInfo, format, v...) }
func Warnf(format string, v ...interface{})  { logf(LevelWarn, format, v...) }
func Errorf(format string, v ...interface{}) { logf(LevelError, format, v...) }
