// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package errutil provides helpers for logging and asserting oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level with structured context if it's an oops error.
func LogError(logger *slog.Logger, msg string, err error) {
	log(context.Background(), logger, slog.LevelError, msg, err)
}

// LogWarn logs err at warn level. Creation failures that are abandoned
// rather than returned use this.
func LogWarn(logger *slog.Logger, msg string, err error) {
	log(context.Background(), logger, slog.LevelWarn, msg, err)
}

// LogWarnContext is LogWarn with a context carrying trace information.
func LogWarnContext(ctx context.Context, logger *slog.Logger, msg string, err error) {
	log(ctx, logger, slog.LevelWarn, msg, err)
}

// Code returns the oops code of err, or the empty string.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

func log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := []any{
			"error", oopsErr.Error(),
		}
		if code := oopsErr.Code(); code != nil && code != "" {
			attrs = append(attrs, "code", code)
		}
		if errCtx := oopsErr.Context(); len(errCtx) > 0 {
			attrs = append(attrs, "context", errCtx)
		}
		logger.Log(ctx, level, msg, attrs...)
		return
	}
	logger.Log(ctx, level, msg, "error", err)
}
