// Package buildinfo holds build-time metadata kept apart from user configuration.
package buildinfo

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	GetVersion() string
	GetBuildDate() string
	GetSystemID() string
}

// Context is injected at startup from linker flags and the stored system id.
type Context struct {
	Version   string
	BuildDate string
	SystemID  string
}

// NewContext returns a build context.
func NewContext(version, buildDate, systemID string) *Context {
	return &Context{
		Version:   version,
		BuildDate: buildDate,
		SystemID:  systemID,
	}
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}

// GetVersion returns the version tag or UnknownValue.
func (c *Context) GetVersion() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.Version)
}

// GetBuildDate returns the build date or UnknownValue.
func (c *Context) GetBuildDate() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.BuildDate)
}

// GetSystemID returns the system id or UnknownValue.
func (c *Context) GetSystemID() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.SystemID)
}
