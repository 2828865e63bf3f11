package gorm

import (
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

// GormWriter forwards gorm's log output to the process logger at DEBUG.
type GormWriter struct{}

// Printf implements gorm's logger.Writer.
func (w GormWriter) Printf(format string, args ...interface{}) {
	logger.Debugf(strings.TrimSpace(format), args...)
}

// NewGormLogger creates a gorm logger for the configured level
// ("silent", "error", "warn", "info"; anything else is silent).
func NewGormLogger(level string) gormlogger.Interface {
	var gormLevel gormlogger.LogLevel
	switch strings.ToLower(level) {
	case "error":
		gormLevel = gormlogger.Error
	case "warn":
		gormLevel = gormlogger.Warn
	case "info":
		gormLevel = gormlogger.Info
	default:
		gormLevel = gormlogger.Silent
	}
	return gormlogger.New(GormWriter{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormLevel,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
