// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// parseLogLevel maps the LOG_LEVEL environment variable to a slog
// level. Unknown values fall back to info.
func parseLogLevel(value string) slog.Level {
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// textHandler is a slog.Handler emitting one line per record:
//
//	[2026-02-01T12:00:00Z] [INFO] message {"key":"value"}
//
// The attribute object is omitted when a record has no attributes.
type textHandler struct {
	mu    *sync.Mutex
	out   io.Writer
	level slog.Level
	attrs []slog.Attr
	group string
}

func newTextHandler(out io.Writer, level slog.Level) *textHandler {
	return &textHandler{mu: &sync.Mutex{}, out: out, level: level}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *textHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		h.addAttr(attrs, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		h.addAttr(attrs, attr)
		return true
	})

	line := fmt.Sprintf("[%s] [%s] %s",
		record.Time.UTC().Format(time.RFC3339),
		record.Level.String(),
		record.Message,
	)
	if len(attrs) > 0 {
		encoded, err := json.Marshal(attrs)
		if err != nil {
			encoded = []byte(fmt.Sprintf("%q", fmt.Sprint(attrs)))
		}
		line += " " + string(encoded)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.out, line)
	return err
}

func (h *textHandler) addAttr(attrs map[string]any, attr slog.Attr) {
	key := attr.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		attrs[key] = value.String()
	case slog.KindInt64:
		attrs[key] = value.Int64()
	case slog.KindUint64:
		attrs[key] = value.Uint64()
	case slog.KindFloat64:
		attrs[key] = value.Float64()
	case slog.KindBool:
		attrs[key] = value.Bool()
	case slog.KindDuration:
		attrs[key] = value.Duration().String()
	case slog.KindTime:
		attrs[key] = value.Time().UTC().Format(time.RFC3339)
	default:
		attrs[key] = fmt.Sprint(value.Any())
	}
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

// setupLogging installs the text handler on stdout at the level from
// LOG_LEVEL and returns the logger.
func setupLogging() *slog.Logger {
	handler := newTextHandler(os.Stdout, parseLogLevel(os.Getenv("LOG_LEVEL")))
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
