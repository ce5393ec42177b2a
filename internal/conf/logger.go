// Package conf loads, validates and converts i2score configuration.
package conf

import "github.com/tphakala/i2score/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// The logger is fetched from the global logger each time so it follows a
// centralized logger installed after package init.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
