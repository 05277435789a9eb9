package internal

import (
	"io"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
)

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds the process logger. The returned level can be changed
// while the logger is in use.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), level
}

// WatchLogLevel re-reads the config file at path whenever it is written and
// applies its log level. Invalid edits are logged and ignored.
func WatchLogLevel(path string, level *slog.LevelVar) error {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			slog.Warn("config: ignoring invalid change", "file", e.Name, "err", err)
			return
		}
		next := ParseLevel(cfg.Log.Level)
		if level.Level() != next {
			slog.Info("config: log level changed", "from", level.Level().String(), "to", next.String())
			level.Set(next)
		}
	})
	v.WatchConfig()
	return nil
}
