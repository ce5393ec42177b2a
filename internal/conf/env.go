// env.go - environment variable overrides for i2score settings
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/i2score/internal/i2s"
)

// EnvPrefix prefixes every environment override, e.g. I2SCORE_DEVICE_BLOCK_SIZE.
const EnvPrefix = "I2SCORE"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the explicitly bound variables. Every other key is
// still reachable through AutomaticEnv, without early validation.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "I2SCORE_DEBUG", validateEnvBool},

		// Device
		{"device.itf", "I2SCORE_DEVICE_ITF", validateEnvNonNegativeInt},
		{"device.direction", "I2SCORE_DEVICE_DIRECTION", validateEnvDirection},
		{"device.mode", "I2SCORE_DEVICE_MODE", validateEnvMode},
		{"device.tdm", "I2SCORE_DEVICE_TDM", validateEnvBool},
		{"device.channels", "I2SCORE_DEVICE_CHANNELS", validateEnvChannels},
		{"device.word_size", "I2SCORE_DEVICE_WORD_SIZE", validateEnvWordSize},
		{"device.block_size", "I2SCORE_DEVICE_BLOCK_SIZE", validateEnvPositiveInt},
		{"device.frame_clock_hz", "I2SCORE_DEVICE_FRAME_CLOCK_HZ", validateEnvPositiveInt},

		// Simulator and capture
		{"simulator.source", "I2SCORE_SIMULATOR_SOURCE", nil},
		{"simulator.wav_path", "I2SCORE_SIMULATOR_WAV_PATH", nil},
		{"capture.path", "I2SCORE_CAPTURE_PATH", nil},
		{"capture.duration", "I2SCORE_CAPTURE_DURATION", validateEnvDuration},

		// Telemetry
		{"telemetry.enabled", "I2SCORE_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.listen", "I2SCORE_TELEMETRY_LISTEN", nil},
		{"sentry.dsn", "I2SCORE_SENTRY_DSN", nil},
	}
}

// configureEnvironmentVariables enables prefixed overrides for every key and
// binds the validated ones.
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return bindEnvVars()
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("must be non-negative, got %d", n)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateEnvChannels(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid channel count: %w", err)
	}
	if n < 1 || n > i2s.MaxChannels {
		return fmt.Errorf("channels must be between 1 and %d, got %d", i2s.MaxChannels, n)
	}
	return nil
}

func validateEnvWordSize(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid word size: %w", err)
	}
	if i2s.WordBytes(n) == 0 {
		return fmt.Errorf("word size must be 8, 16, 24 or 32, got %d", n)
	}
	return nil
}

func validateEnvDirection(value string) error {
	_, err := i2s.ParseDirection(value)
	return err
}

func validateEnvMode(value string) error {
	_, err := i2s.ParseBufferMode(value)
	return err
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	return nil
}
