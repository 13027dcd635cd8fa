package logx

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fslongjin/flutterbox/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultFilePath   = "./logs/flutterbox.log"
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 7
	defaultMaxAgeDays = 7
)

// Options is the resolved form of config.LogConfig.
type Options struct {
	Level       slog.Level
	Format      string
	Output      string
	FilePath    string
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
	Compress    bool
	AddSource   bool
	ServiceName string
}

func ResolveOptions(serviceName string, cfg config.LogConfig) Options {
	opts := Options{
		Level:       parseLevel(cfg.Level),
		Format:      normalizeFormat(cfg.Format),
		Output:      normalizeOutput(cfg.Output),
		FilePath:    cfg.FilePath,
		MaxSizeMB:   cfg.MaxSizeMB,
		MaxBackups:  cfg.MaxBackups,
		MaxAgeDays:  cfg.MaxAgeDays,
		Compress:    cfg.Compress == nil || *cfg.Compress,
		AddSource:   cfg.AddSource,
		ServiceName: serviceName,
	}
	if opts.FilePath == "" {
		opts.FilePath = defaultFilePath
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = defaultMaxSizeMB
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = defaultMaxBackups
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = defaultMaxAgeDays
	}
	return opts
}

// Init installs the process-wide slog default and returns it with a closer for
// the rotating file writer.
func Init(serviceName string, cfg config.LogConfig) (*slog.Logger, func() error, error) {
	opts := ResolveOptions(serviceName, cfg)
	writer, closer, err := buildWriter(opts)
	if err != nil {
		return nil, nil, err
	}
	logger := New(opts, writer)
	slog.SetDefault(logger)

	return logger, closer, nil
}

// New builds a logger writing to w without touching the default logger.
func New(opts Options, w io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}
	var handler slog.Handler
	if opts.Format == "text" {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	return slog.New(handler).With("service", opts.ServiceName)
}

func buildWriter(opts Options) (io.Writer, func() error, error) {
	useStdout := strings.Contains(opts.Output, "stdout")
	useFile := strings.Contains(opts.Output, "file")

	if !useStdout && !useFile {
		useStdout = true
	}

	writers := make([]io.Writer, 0, 2)
	var closers []io.Closer

	if useStdout {
		writers = append(writers, os.Stdout)
	}

	if useFile {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return nil, nil, err
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		writers = append(writers, rotator)
		closers = append(closers, rotator)
	}

	closeFn := func() error {
		var lastErr error
		for _, c := range closers {
			if err := c.Close(); err != nil {
				lastErr = err
			}
		}
		return lastErr
	}

	if len(writers) == 1 {
		return writers[0], closeFn, nil
	}
	return io.MultiWriter(writers...), closeFn, nil
}

func normalizeFormat(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "text":
		return "text"
	default:
		return "json"
	}
}

func normalizeOutput(v string) string {
	out := strings.ToLower(strings.ReplaceAll(v, " ", ""))
	switch out {
	case "stdout", "file", "stdout,file", "file,stdout":
		return out
	default:
		return "stdout"
	}
}

func parseLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
