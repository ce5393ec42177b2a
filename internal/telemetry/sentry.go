// Package telemetry provides opt-in Sentry error reporting.
package telemetry

import (
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/i2score/internal/buildinfo"
	"github.com/tphakala/i2score/internal/conf"
	"github.com/tphakala/i2score/internal/errors"
	"github.com/tphakala/i2score/internal/logger"
)

// FlushTimeout bounds how long Flush waits for queued events.
const FlushTimeout = 2 * time.Second

// PlatformInfo holds privacy-safe platform information attached to every event.
type PlatformInfo struct {
	OS           string `json:"os"`
	Architecture string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	GoVersion    string `json:"go_version"`
}

func collectPlatformInfo() PlatformInfo {
	return PlatformInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
}

// InitSentry initializes the Sentry SDK and routes enhanced errors to it.
// Nothing is sent unless settings.Enabled is set.
func InitSentry(settings *conf.SentrySettings, info *buildinfo.Context) (bool, error) {
	log := logger.Global().Module("telemetry")
	if !settings.Enabled {
		log.Debug("sentry telemetry is disabled")
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Debug:            settings.Debug,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      settings.Environment,
		ServerName:       "",
		Release:          fmt.Sprintf("i2score@%s", info.GetVersion()),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return false, errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	platform := collectPlatformInfo()
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("system_id", info.GetSystemID())
		scope.SetTag("os", platform.OS)
		scope.SetTag("arch", platform.Architecture)
		scope.SetContext("platform", map[string]any{
			"num_cpu":    platform.NumCPU,
			"go_version": platform.GoVersion,
			"build_date": info.GetBuildDate(),
		})
	})
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	log.Info("sentry telemetry initialized",
		logger.String("environment", settings.Environment),
		logger.String("system_id", info.GetSystemID()))
	return true, nil
}

// Flush waits for queued events to be delivered.
func Flush() {
	sentry.Flush(FlushTimeout)
}

// applyPrivacyFilters strips user, host and device data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
