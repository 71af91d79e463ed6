package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/cwbudde/gonas/internal/config"
)

// ParseLevel maps a level name to a slog level; unknown names fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// New creates a JSON logger writing to output.
func New(level string, output io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler)
}

// Setup installs a default logger that writes to stdout and to <save>/log.log.
// The returned closer releases the log file.
func Setup(level, save string) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(save, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(save, "log.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger := New(level, io.MultiWriter(os.Stdout, f))
	slog.SetDefault(logger)
	return logger, f, nil
}

// LogArgs logs every configuration field, nested sections flattened with dots.
func LogArgs(logger *slog.Logger, cfg *config.Config) {
	for _, kv := range Flatten(cfg) {
		logger.Info("config", "key", kv[0], "value", kv[1])
	}
}

// Flatten returns yaml-keyed "name", "value" pairs for every field of cfg.
func Flatten(cfg *config.Config) [][2]string {
	var out [][2]string
	flatten("", reflect.ValueOf(*cfg), &out)
	return out
}

func flatten(prefix string, v reflect.Value, out *[][2]string) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if name == "" {
			name = strings.ToLower(t.Field(i).Name)
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		f := v.Field(i)
		if f.Kind() == reflect.Struct {
			flatten(name, f, out)
			continue
		}
		*out = append(*out, [2]string{name, fmt.Sprint(f.Interface())})
	}
}
