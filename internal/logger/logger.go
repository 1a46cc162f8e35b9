package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters, lumberjack semantics.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Level names accepted in configuration.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the structured log encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig controls the supervisor's own structured logging.
type SlogConfig struct {
	Level      Level  `mapstructure:"level" toml:"level" json:"level"`
	Format     Format `mapstructure:"format" toml:"format" json:"format"`
	Color      bool   `mapstructure:"color" toml:"color" json:"color"`
	TimeStamps bool   `mapstructure:"timestamps" toml:"timestamps" json:"timestamps"`
	Source     bool   `mapstructure:"source" toml:"source" json:"source"`
}

// FileConfig describes rotated file destinations. The same settings feed
// both component logs (Dir/<component>.log) and supervised-process output
// (Dir/<name>.stdout.log, Dir/<name>.stderr.log).
type FileConfig struct {
	Dir        string `mapstructure:"dir" toml:"dir" json:"dir"`
	StdoutPath string `mapstructure:"stdout_path" toml:"stdout_path" json:"stdout_path"`
	StderrPath string `mapstructure:"stderr_path" toml:"stderr_path" json:"stderr_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days" json:"max_age_days"`
	Compress   bool   `mapstructure:"compress" toml:"compress" json:"compress"`
}

// Config is the unified logging configuration for one supervisor component.
type Config struct {
	Slog SlogConfig `mapstructure:"slog" toml:"slog" json:"slog"`
	File FileConfig `mapstructure:"file" toml:"file" json:"file"`
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c Config) handlerOptions() *slog.HandlerOptions {
	opts := &slog.HandlerOptions{
		Level:     c.Slog.Level.slogLevel(),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		}
	}
	return opts
}

// NewSlogger builds the console logger described by the Slog section.
func (c Config) NewSlogger() *slog.Logger {
	return slog.New(c.handler(os.Stderr, c.Slog.Color))
}

func (c Config) handler(w io.Writer, color bool) slog.Handler {
	opts := c.handlerOptions()
	if c.Slog.Format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	if color {
		return NewColorTextHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// NewComponentLogger builds a logger writing to Dir/<component>.log with
// rotation, mirrored to stderr. Colors never reach the file. The returned
// closer owns the rotated file; with no Dir configured it is a no-op and
// the logger is console only.
func (c Config) NewComponentLogger(component string) (*slog.Logger, io.Closer) {
	if c.File.Dir == "" {
		return c.NewSlogger(), nopCloser{}
	}
	fw := &lj.Logger{
		Filename:   filepath.Join(c.File.Dir, fmt.Sprintf("%s.log", component)),
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
	h := c.handler(io.MultiWriter(os.Stderr, fw), false)
	return slog.New(h), fw
}

// ProcessWriters returns rotated io.WriteClosers for the stdout and stderr
// of a supervised process. Explicit paths win over Dir-derived ones; with
// neither configured both writers are nil and the launch site falls back
// to /dev/null.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.File.StdoutPath
	stderr := c.File.StderrPath
	if stdout == "" && c.File.Dir != "" {
		stdout = filepath.Join(c.File.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.File.Dir != "" {
		stderr = filepath.Join(c.File.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	var outW io.WriteCloser
	var errW io.WriteCloser
	if stdout != "" {
		outW = c.rotated(stdout)
	}
	if stderr != "" {
		errW = c.rotated(stderr)
	}
	return outW, errW, nil
}

func (c Config) rotated(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
