package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/kardianos/service"
	slogmulti "github.com/samber/slog-multi"
)

// Options selects the sinks of Setup.
type Options struct {
	Level slog.Level
	// Console mirrors records to this writer (foreground runs).
	Console io.Writer
}

// Setup builds the daemon logger: a text handler on logFile, the service
// logger and an optional console handler, fanned out with slog-multi. The
// result is installed as the slog default.
func Setup(svc service.Logger, logFile io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	handlers := []slog.Handler{
		slog.NewTextHandler(logFile, handlerOpts),
		&ServiceHandler{svc: svc, level: opts.Level},
	}
	if opts.Console != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.Console, handlerOpts))
	}

	logger := slog.New(slogmulti.Fanout(handlers...))
	slog.SetDefault(logger)
	return logger
}

// ServiceHandler adapts slog.Handler to service.Logger.
// Time and level are left to the system logger.
type ServiceHandler struct {
	svc   service.Logger
	level slog.Level
	steps []step
}

// step is one WithAttrs or WithGroup call, replayed in order.
type step struct {
	group string
	attrs []slog.Attr
}

func (h *ServiceHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.svc != nil && level >= h.level
}

// Handle formats the record and writes it to the service logger.
func (h *ServiceHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.svc == nil {
		return nil
	}

	var buf bytes.Buffer
	var handler slog.Handler = slog.NewTextHandler(&buf, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey) {
				return slog.Attr{}
			}
			return a
		},
	})
	for _, st := range h.steps {
		if st.group != "" {
			handler = handler.WithGroup(st.group)
		} else {
			handler = handler.WithAttrs(st.attrs)
		}
	}

	if err := handler.Handle(ctx, r); err != nil {
		return err
	}
	msg := strings.TrimSpace(buf.String())

	switch {
	case r.Level >= slog.LevelError:
		return h.svc.Error(msg)
	case r.Level >= slog.LevelWarn:
		return h.svc.Warning(msg)
	default:
		return h.svc.Info(msg)
	}
}

func (h *ServiceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(step{attrs: attrs})
}

func (h *ServiceHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(step{group: name})
}

func (h *ServiceHandler) with(st step) *ServiceHandler {
	next := *h
	next.steps = append(append([]step{}, h.steps...), st)
	return &next
}
