// Package logger builds the structured zap loggers used across the service.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger, or a console logger outside production.
func New(serviceName string, production bool) *zap.Logger {
	if !production {
		return NewDevelopment(serviceName)
	}

	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

// NewDevelopment creates a logger for development
func NewDevelopment(serviceName string) *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

const redacted = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"card_number": {},
	"card_cvv":    {},
	"cvv":         {},
	"password":    {},
	"secret":      {},
	"api_key":     {},
	"token":       {},
	"tbk_user":    {},
	"tbk_token":   {},
}

// Sanitize returns a copy of data with sensitive keys redacted, recursing into
// nested maps and slices.
func Sanitize(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
			out[k] = redacted
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return Sanitize(val)
	case []interface{}:
		items := make([]interface{}, len(val))
		for i, item := range val {
			items[i] = sanitizeValue(item)
		}
		return items
	default:
		return v
	}
}

// SanitizedMap is a zap field carrying a redacted copy of data.
func SanitizedMap(key string, data map[string]interface{}) zap.Field {
	return zap.Any(key, Sanitize(data))
}
