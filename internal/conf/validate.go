// conf/validate.go

package conf

import (
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/tphakala/i2score/internal/errors"
)

// Simulator sources.
const (
	SourceSine    = "sine"
	SourceSilence = "silence"
	SourceWAV     = "wav"
)

// ValidationError collects every problem found in a configuration.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates settings, returning a ValidationError wrapped as
// a configuration error when anything is wrong.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	collect := func(err error) {
		if err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	collect(validateDeviceSettings(&settings.Device))
	for _, err := range validateChannelSettings(settings) {
		collect(err)
	}
	collect(validateSimulatorSettings(&settings.Simulator))
	collect(validateCaptureSettings(&settings.Capture))
	collect(validateTelemetrySettings(&settings.Telemetry))
	collect(validateSentrySettings(&settings.Sentry))

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("config").
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

func validateDeviceSettings(s *DeviceSettings) error {
	if err := validatePDM(&s.PDM); err != nil {
		return err
	}
	cfg, err := s.ToDeviceConfig()
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func validatePDM(p *PDMSettings) error {
	if p.Decimation < 1 || p.Decimation > math.MaxUint16 {
		return fmt.Errorf("device.pdm.decimation must be between 1 and %d, got %d", math.MaxUint16, p.Decimation)
	}
	if p.Shift < math.MinInt8 || p.Shift > math.MaxInt8 {
		return fmt.Errorf("device.pdm.shift must be between %d and %d, got %d", math.MinInt8, math.MaxInt8, p.Shift)
	}
	return nil
}

// validateChannelSettings checks TDM overrides: ids are unique and in range
// and each resolved channel configuration is valid.
func validateChannelSettings(settings *Settings) []error {
	if len(settings.Channels) == 0 {
		return nil
	}
	if !settings.Device.TDM {
		return []error{fmt.Errorf("channels overrides require device.tdm")}
	}

	var errs []error
	seen := make(map[int]bool, len(settings.Channels))
	for i := range settings.Channels {
		ch := &settings.Channels[i]
		if ch.ID < 0 || ch.ID >= settings.Device.Channels {
			errs = append(errs, fmt.Errorf("channels[%d]: id %d out of range 0..%d", i, ch.ID, settings.Device.Channels-1))
			continue
		}
		if seen[ch.ID] {
			errs = append(errs, fmt.Errorf("channels[%d]: duplicate id %d", i, ch.ID))
			continue
		}
		seen[ch.ID] = true

		cc, err := ch.ToChannelConfig(&settings.Device)
		if err == nil {
			err = cc.Validate()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("channels[%d]: %w", i, err))
		}
	}
	return errs
}

func validateSimulatorSettings(s *SimulatorSettings) error {
	switch strings.ToLower(s.Source) {
	case SourceSine:
		if s.ToneHz <= 0 {
			return fmt.Errorf("simulator.tone_hz must be positive, got %v", s.ToneHz)
		}
		if s.Amplitude < 0 || s.Amplitude > 1 {
			return fmt.Errorf("simulator.amplitude must be between 0 and 1, got %v", s.Amplitude)
		}
	case SourceSilence:
	case SourceWAV:
		if s.WAVPath == "" {
			return fmt.Errorf("simulator.wav_path is required for the wav source")
		}
	default:
		return fmt.Errorf("simulator.source must be %s, %s or %s, got %q", SourceSine, SourceSilence, SourceWAV, s.Source)
	}
	if s.Interval < 0 {
		return fmt.Errorf("simulator.interval must not be negative")
	}
	return nil
}

func validateCaptureSettings(s *CaptureSettings) error {
	if !s.Enabled {
		return nil
	}
	if s.Path == "" {
		return fmt.Errorf("capture.path is required when capture is enabled")
	}
	if s.RingBlocks < 0 {
		return fmt.Errorf("capture.ring_blocks must not be negative, got %d", s.RingBlocks)
	}
	if s.Duration < 0 {
		return fmt.Errorf("capture.duration must not be negative")
	}
	return nil
}

func validateTelemetrySettings(s *TelemetrySettings) error {
	if !s.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return fmt.Errorf("telemetry.listen %q is not a host:port address: %w", s.Listen, err)
	}
	return nil
}

func validateSentrySettings(s *SentrySettings) error {
	if s.Enabled && s.DSN == "" {
		return fmt.Errorf("sentry.dsn is required when sentry is enabled")
	}
	return nil
}
