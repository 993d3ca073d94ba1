// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package ctxlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/TylerBrock/colorjson"
	"github.com/matt-FFFFFF/neurobatch/internal/color"
)

var (
	// ErrMarshalAttribute is returned when an attribute cannot be rendered as JSON.
	ErrMarshalAttribute = errors.New("error when marshaling attribute")
	// ErrIoWrite is returned when the log line cannot be written to the destination.
	ErrIoWrite = errors.New("error when writing to output")
)

// TimeFormat is the format used for timestamps in log messages.
const TimeFormat = "[15:04:05.000]"

// PrettyHandler renders slog records as a colored single-header line
// followed by the attributes as indented JSON. It wraps an inner JSON
// handler so attribute flattening and ReplaceAttr behave exactly as the
// standard library's handler would.
type PrettyHandler struct {
	inner            slog.Handler
	replace          func([]string, slog.Attr) slog.Attr
	buf              *bytes.Buffer
	mu               *sync.Mutex
	writer           io.Writer
	formatter        *colorjson.Formatter
	colour           bool
	outputEmptyAttrs bool
}

// Enabled reports whether records at the given level are emitted.
func (h *PrettyHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// WithAttrs returns a handler whose records carry the given attributes.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithAttrs(attrs)

	return &clone
}

// WithGroup returns a handler that nests subsequent attributes under name.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithGroup(name)

	return &clone
}

// headerPart runs the record's synthetic time/level/message attribute
// through the user's ReplaceAttr, honoring suppression of those keys.
func (h *PrettyHandler) headerPart(a slog.Attr) string {
	if h.replace != nil {
		a = h.replace(nil, a)
	}

	if a.Equal(slog.Attr{}) {
		return ""
	}

	return a.Value.String()
}

func (h *PrettyHandler) paint(s string, codes ...color.Code) string {
	if !h.colour || s == "" {
		return s
	}

	return color.Colorize(s, codes...)
}

func levelColor(level slog.Level) color.Code {
	switch {
	case level <= slog.LevelDebug:
		return color.FgWhite
	case level <= slog.LevelInfo:
		return color.FgCyan
	case level < slog.LevelError:
		return color.FgYellow
	default:
		return color.FgRed
	}
}

// flattenAttrs replays the record through the inner JSON handler and
// decodes the result, so groups and ReplaceAttr need no reimplementation.
func (h *PrettyHandler) flattenAttrs(ctx context.Context, r slog.Record) (map[string]any, error) {
	h.mu.Lock()
	defer func() {
		h.buf.Reset()
		h.mu.Unlock()
	}()

	if err := h.inner.Handle(ctx, r); err != nil {
		return nil, fmt.Errorf("inner handler: %w", err)
	}

	var attrs map[string]any
	if err := json.Unmarshal(h.buf.Bytes(), &attrs); err != nil {
		return nil, fmt.Errorf("decoding inner handler output: %w", err)
	}

	return attrs, nil
}

// Handle implements slog.Handler.
func (h *PrettyHandler) Handle(ctx context.Context, r slog.Record) error {
	timestamp := h.headerPart(slog.Attr{
		Key:   slog.TimeKey,
		Value: slog.StringValue(r.Time.Format(TimeFormat)),
	})

	level := h.headerPart(slog.Attr{
		Key:   slog.LevelKey,
		Value: slog.AnyValue(r.Level),
	})
	if level != "" {
		level += ":"
	}

	msg := h.headerPart(slog.Attr{
		Key:   slog.MessageKey,
		Value: slog.StringValue(r.Message),
	})

	attrs, err := h.flattenAttrs(ctx, r)
	if err != nil {
		return err
	}

	var rendered []byte

	if h.outputEmptyAttrs || len(attrs) > 0 {
		rendered, err = h.formatter.Marshal(attrs)
		if err != nil {
			return errors.Join(ErrMarshalAttribute, err)
		}
	}

	var out strings.Builder

	for _, part := range []string{
		h.paint(timestamp, color.FgWhite),
		h.paint(level, levelColor(r.Level)),
		h.paint(msg, color.FgHiWhite),
	} {
		if part != "" {
			out.WriteString(part)
			out.WriteString(" ")
		}
	}

	out.Write(rendered)
	out.WriteString("\n")

	if _, err := io.WriteString(h.writer, out.String()); err != nil {
		return errors.Join(ErrIoWrite, err)
	}

	return nil
}

// suppressDefaults drops time, level and message from the inner JSON
// handler's output; the header renders them instead.
func suppressDefaults(next func([]string, slog.Attr) slog.Attr,
) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.TimeKey, slog.LevelKey, slog.MessageKey:
			return slog.Attr{}
		}

		if next == nil {
			return a
		}

		return next(groups, a)
	}
}

// NewPrettyHandler creates a console handler. The slog.HandlerOptions
// carry level, source and ReplaceAttr as for any handler; rendering is
// controlled by the functional options.
func NewPrettyHandler(handlerOptions *slog.HandlerOptions, options ...Option) *PrettyHandler {
	if handlerOptions == nil {
		handlerOptions = &slog.HandlerOptions{}
	}

	buf := &bytes.Buffer{}
	handler := &PrettyHandler{
		buf: buf,
		inner: slog.NewJSONHandler(buf, &slog.HandlerOptions{
			Level:       handlerOptions.Level,
			AddSource:   handlerOptions.AddSource,
			ReplaceAttr: suppressDefaults(handlerOptions.ReplaceAttr),
		}),
		replace: handlerOptions.ReplaceAttr,
		mu:      &sync.Mutex{},
	}

	for _, opt := range options {
		opt(handler)
	}

	handler.formatter = colorjson.NewFormatter()
	handler.formatter.Indent = 2
	handler.formatter.DisabledColor = !handler.colour

	return handler
}

// Option implements a functional options pattern for PrettyHandler.
type Option func(h *PrettyHandler)

// WithDestinationWriter sets the destination writer for the PrettyHandler.
func WithDestinationWriter(writer io.Writer) Option {
	return func(h *PrettyHandler) {
		h.writer = writer
	}
}

// WithColour forces colored output.
func WithColour() Option {
	return func(h *PrettyHandler) {
		h.colour = true
	}
}

// WithAutoColour enables colored output when the environment supports it.
func WithAutoColour() Option {
	return func(h *PrettyHandler) {
		h.colour = color.Enabled()
	}
}

// WithOutputEmptyAttrs emits the attribute JSON even when it is empty.
func WithOutputEmptyAttrs() Option {
	return func(h *PrettyHandler) {
		h.outputEmptyAttrs = true
	}
}
