package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/config"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/version"
)

// logSink owns the optional log file so repeated configuration (tests, config
// reloads) reuses or closes it instead of leaking descriptors.
type logSink struct {
	mu   sync.Mutex
	file *os.File
}

var sink logSink

func (s *logSink) writer(path string) (io.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil && s.file.Name() != path {
		_ = s.file.Close()
		s.file = nil
	}
	if path == "" {
		return os.Stderr, nil
	}
	if s.file != nil {
		return s.file, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	s.file = f
	return f, nil
}

func configureLogger(cfg *config.Config, overrideLevel string) error {
	level, err := parseLogLevel(cfg.Log.Level, overrideLevel)
	if err != nil {
		return err
	}
	w, err := sink.writer(strings.TrimSpace(cfg.Log.File))
	if err != nil {
		return err
	}

	handler := newLogHandler(w, logFormat(cfg.Log.Format), level).WithAttrs([]slog.Attr{
		slog.String("service", cfg.Telemetry.ServiceName),
		slog.String("version", version.Version),
	})
	slog.SetDefault(slog.New(handler))
	return nil
}

// logFormat switches to JSON inside the Lambda runtime unless json or text
// was chosen explicitly, so CloudWatch gets structured lines.
func logFormat(configured string) string {
	format := strings.ToLower(strings.TrimSpace(configured))
	if format == "" && os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		return "json"
	}
	return format
}

func newLogHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

var logLevels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// parseLogLevel resolves the --log-level override first, then log.level.
func parseLogLevel(configLevel, override string) (slog.Level, error) {
	name := strings.TrimSpace(override)
	if name == "" {
		name = strings.TrimSpace(configLevel)
	}
	level, ok := logLevels[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("invalid log level: %s", name)
	}
	return level, nil
}
