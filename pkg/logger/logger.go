// Package logger emits structured JSON log lines keyed by an event name.
// Every entry carries the event plus arbitrary context fields, so log
// pipelines can index on "event" without parsing message strings.
package logger

import (
	"log/slog"
	"os"
	"sync"
)

var (
	log      *slog.Logger
	initOnce sync.Once
)

func Init() {
	initOnce.Do(func() {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	})
}

func fieldsToAttrs(fields map[string]interface{}) []any {
	attrs := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		attrs = append(attrs, slog.Any(key, value))
	}
	return attrs
}

func Info(event string, fields map[string]interface{}) {
	if log == nil {
		Init()
	}
	log.Info(event, fieldsToAttrs(fields)...)
}

func InfoWithUser(userID, event string, fields map[string]interface{}) {
	if log == nil {
		Init()
	}
	attrs := append([]any{slog.String("user_id", userID)}, fieldsToAttrs(fields)...)
	log.Info(event, attrs...)
}

func Warn(event string, fields map[string]interface{}) {
	if log == nil {
		Init()
	}
	log.Warn(event, fieldsToAttrs(fields)...)
}

func Error(event string, err error, fields map[string]interface{}) {
	if log == nil {
		Init()
	}
	attrs := fieldsToAttrs(fields)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	log.Error(event, attrs...)
}
