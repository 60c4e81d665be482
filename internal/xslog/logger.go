package xslog

import (
	"io"
	"log/slog"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

func NewLogger(w io.Writer, level Level, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level.ToSlog()}
	if format == FormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
