// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
	capture func(*sentry.Event)
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{
		enabled: enabled,
		capture: func(ev *sentry.Event) { sentry.CaptureEvent(ev) },
	}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}
	sr.capture(buildSentryEvent(ee))
	ee.MarkReported()
}

// buildSentryEvent converts an enhanced error into a Sentry event with
// grouping tags and a scrubbed message.
func buildSentryEvent(ee *EnhancedError) *sentry.Event {
	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Error()))
	title := generateErrorTitle(ee)

	event := sentry.NewEvent()
	event.Message = message
	event.Level = getErrorLevel(ee)
	event.Fingerprint = []string{title, ee.Component, string(ee.Category)}
	event.Tags = map[string]string{
		"error_title": title,
		"component":   ee.Component,
		"category":    string(ee.Category),
		"error_type":  fmt.Sprintf("%T", ee.Err),
	}
	if ee.Priority != "" {
		event.Tags["priority"] = ee.Priority
	}
	for key, value := range ee.GetContext() {
		if s, ok := value.(string); ok {
			value = scrubMessage(s)
		}
		event.Contexts[key] = sentry.Context{"value": value}
	}
	event.Exception = []sentry.Exception{{Type: title, Value: message}}
	return event
}

// generateErrorTitle creates an error title from component, category and operation
func generateErrorTitle(ee *EnhancedError) string {
	var titleParts []string

	if ee.Component != "" && ee.Component != ComponentUnknown {
		titleParts = append(titleParts, titleCase(ee.Component))
	}
	if categoryTitle := formatCategoryForTitle(ee.Category); categoryTitle != "" {
		titleParts = append(titleParts, categoryTitle)
	}
	if operation, ok := ee.Context["operation"].(string); ok && operation != "" {
		words := strings.Fields(strings.ReplaceAll(operation, "_", " "))
		for i, word := range words {
			words[i] = titleCase(word)
		}
		titleParts = append(titleParts, strings.Join(words, " "))
	}

	if len(titleParts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(titleParts, " ")
}

// formatCategoryForTitle converts error categories to human-readable titles
func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryConfiguration:
		return "Configuration Error"
	case CategoryValidation:
		return "Validation Error"
	case CategoryResource:
		return "Resource Error"
	case CategoryUsage:
		return "Usage Error"
	case CategoryHardware:
		return "Hardware Fault"
	case CategoryFileIO:
		return "File I/O Error"
	case CategorySystem:
		return "System Error"
	default:
		return string(category)
	}
}

// titleCase capitalizes the first letter of a string
func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// getErrorLevel returns the Sentry level for an error, honouring explicit priority
func getErrorLevel(ee *EnhancedError) sentry.Level {
	if ee.Priority == PriorityCritical {
		return sentry.LevelFatal
	}
	switch ee.Category {
	case CategoryHardware:
		return sentry.LevelFatal
	case CategoryResource, CategoryFileIO, CategoryNetwork:
		return sentry.LevelWarning
	case CategoryUsage:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	reporterMu              sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter sets the global telemetry reporter
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	reporterMu.RLock()
	defer reporterMu.RUnlock()
	return globalTelemetryReporter
}

// reportToTelemetry reports an error to the configured telemetry system
func reportToTelemetry(ee *EnhancedError) {
	reporter := GetTelemetryReporter()
	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

var (
	urlQueryRegex = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	secretRegexes = []*regexp.Regexp{
		regexp.MustCompile(`api[_-]?key[=:]\S+`),
		regexp.MustCompile(`token[=:]\S+`),
		regexp.MustCompile(`dsn[=:]\S+`),
	}
)

// scrubMessage removes query strings and credentials from telemetry messages
func scrubMessage(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	for _, re := range secretRegexes {
		scrubbed = re.ReplaceAllString(scrubbed, "[REDACTED]")
	}
	return scrubbed
}
