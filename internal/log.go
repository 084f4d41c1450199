package internal

import (
	"io"
	"log/slog"

	"github.com/ttab/elephantine"
)

// Log attribute keys used throughout the application.
const (
	LogKeyLogLevel    = "log_level"
	LogKeyTable       = "table"
	LogKeyArchive     = "archive_table"
	LogKeyColumn      = "column"
	LogKeyVersion     = "version"
	LogKeyLogID       = "log_id"
	LogKeyIdentity    = "identity"
	LogKeyActor       = "actor"
	LogKeyTransaction = "transaction"
	LogKeyComponent   = "component"
	LogKeyBucket      = "bucket"
	LogKeyObjectKey   = "object_key"
	LogKeyCount       = "count"
	LogKeyDelay       = "delay"
	LogKeyRoute       = "route"
	LogKeyStatus      = "status"
)

// SetUpLogger creates a JSON logger writing to w and sets it as the global
// logger.
func SetUpLogger(logLevel string, w io.Writer) *slog.Logger {
	level := slog.LevelWarn

	var levelErr error

	if logLevel != "" {
		levelErr = level.UnmarshalText([]byte(logLevel))
		if levelErr != nil {
			level = slog.LevelWarn
		}
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))

	if levelErr != nil {
		logger.Error("invalid log level",
			elephantine.LogKeyError, levelErr,
			LogKeyLogLevel, logLevel)
	}

	slog.SetDefault(logger)

	return logger
}
