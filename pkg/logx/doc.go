// Package logx is a thin structured-logging layer over zerolog.
//
// It provides a stable Logger API with slog-like field helpers, plus a
// Service that can swap sinks and levels at runtime (console and file)
// without invalidating loggers already handed out.
package logx
