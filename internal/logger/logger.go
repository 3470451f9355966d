// Package logger builds the process wide zerolog logger.
//
// Supported settings:
//   - output: stdout (default), stderr or none
//   - format: empty (colour when the output is a terminal), color, text, json
//   - time:   empty (no timestamp) or a zerolog time format such as UNIXMS
//   - level:  disabled, trace, debug, info, warn, error
//
// Per module levels override the global level for GetLogger(module).
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Config mirrors the log section of the simulator config file.
type Config struct {
	Level   string            `yaml:"level"`
	Format  string            `yaml:"format"`
	Output  string            `yaml:"output"`
	Time    string            `yaml:"time"`
	Modules map[string]string `yaml:"modules"`
}

var (
	mu      sync.RWMutex
	root    = zerolog.Nop()
	modules map[string]string
)

// Init replaces the process logger. Unknown levels fall back to info.
func Init(cfg Config) zerolog.Logger {
	l := New(cfg, nil)

	mu.Lock()
	root = l
	modules = cfg.Modules
	mu.Unlock()
	return l
}

// New builds a logger from cfg without touching the process logger.
// A non-nil w replaces the configured output.
func New(cfg Config, w io.Writer) zerolog.Logger {
	var writer io.Writer
	if w != nil {
		writer = w
	} else {
		switch cfg.Output {
		case "", "stdout":
			writer = os.Stdout
		case "stderr":
			writer = os.Stderr
		case "none":
		}
	}
	if writer == nil {
		return zerolog.Nop()
	}

	if cfg.Format != "json" {
		console := &zerolog.ConsoleWriter{Out: writer}
		switch cfg.Format {
		case "text":
			console.NoColor = true
		case "color":
			console.NoColor = false
		default:
			console.NoColor = true
			if f, ok := writer.(*os.File); ok {
				console.NoColor = !isatty.IsTerminal(f.Fd())
			}
		}
		if cfg.Time != "" {
			console.TimeFormat = "15:04:05.000"
		} else {
			console.PartsOrder = []string{
				zerolog.LevelFieldName,
				zerolog.CallerFieldName,
				zerolog.MessageFieldName,
			}
		}
		writer = console
	}

	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(writer).Level(lvl)
	if cfg.Time != "" {
		zerolog.TimeFieldFormat = cfg.Time
		l = l.With().Timestamp().Logger()
	}
	return l
}

// GetLogger returns the process logger tagged with module, at the module's
// level override when one is configured.
func GetLogger(module string) zerolog.Logger {
	mu.RLock()
	l := root
	s, ok := modules[module]
	mu.RUnlock()

	l = l.With().Str("module", module).Logger()
	if ok {
		lvl, err := zerolog.ParseLevel(s)
		if err == nil {
			return l.Level(lvl)
		}
		l.Warn().Err(err).Str("level", s).Msg("logger: bad module level")
	}
	return l
}

// CronLogger adapts a zerolog.Logger to the cron.Logger interface.
type CronLogger struct {
	Logger zerolog.Logger
}

func (l CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
