package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/i2score/internal/errors"
	"github.com/tphakala/i2score/internal/logger"
)

// Settings is the root of the configuration file.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Device    DeviceSettings       `yaml:"device" mapstructure:"device"`
	Channels  []ChannelSettings    `yaml:"channels" mapstructure:"channels"` // TDM channel overrides
	Simulator SimulatorSettings    `yaml:"simulator" mapstructure:"simulator"`
	Capture   CaptureSettings      `yaml:"capture" mapstructure:"capture"`
	Telemetry TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	Sentry    SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// DeviceSettings mirrors i2s.DeviceConfig with text enums.
type DeviceSettings struct {
	Itf          int         `yaml:"itf" mapstructure:"itf"`
	Direction    string      `yaml:"direction" mapstructure:"direction"` // rx or tx
	Format       string      `yaml:"format" mapstructure:"format"`       // i2s or pdm
	Mode         string      `yaml:"mode" mapstructure:"mode"`           // pingpong or slab
	TDM          bool        `yaml:"tdm" mapstructure:"tdm"`
	Channels     int         `yaml:"channels" mapstructure:"channels"`
	WordSize     int         `yaml:"word_size" mapstructure:"word_size"`
	Flags        []string    `yaml:"flags" mapstructure:"flags"` // lsb_first, right_justified, sign_extend
	BlockSize    int         `yaml:"block_size" mapstructure:"block_size"`
	SlabBlocks   int         `yaml:"slab_blocks" mapstructure:"slab_blocks"`
	FrameClockHz int         `yaml:"frame_clock_hz" mapstructure:"frame_clock_hz"`
	PDM          PDMSettings `yaml:"pdm" mapstructure:"pdm"`
}

// PDMSettings are only used when format is pdm.
type PDMSettings struct {
	Decimation   int  `yaml:"decimation" mapstructure:"decimation"`
	Shift        int  `yaml:"shift" mapstructure:"shift"`
	FilterEnable bool `yaml:"filter_enable" mapstructure:"filter_enable"`
}

// ChannelSettings configures one TDM slot. Zero values inherit the device settings.
type ChannelSettings struct {
	ID         int      `yaml:"id" mapstructure:"id"`
	Enabled    bool     `yaml:"enabled" mapstructure:"enabled"`
	WordSize   int      `yaml:"word_size" mapstructure:"word_size"`
	Flags      []string `yaml:"flags" mapstructure:"flags"`
	Mode       string   `yaml:"mode" mapstructure:"mode"`
	BlockSize  int      `yaml:"block_size" mapstructure:"block_size"`
	SlabBlocks int      `yaml:"slab_blocks" mapstructure:"slab_blocks"`
}

// SimulatorSettings configure the software peripheral.
type SimulatorSettings struct {
	Source    string        `yaml:"source" mapstructure:"source"` // sine, silence or wav
	WAVPath   string        `yaml:"wav_path" mapstructure:"wav_path"`
	ToneHz    float64       `yaml:"tone_hz" mapstructure:"tone_hz"`
	Amplitude float64       `yaml:"amplitude" mapstructure:"amplitude"`
	Interval  time.Duration `yaml:"interval" mapstructure:"interval"` // zero derives it from the frame clock
}

// CaptureSettings configure WAV recording.
type CaptureSettings struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	Path       string        `yaml:"path" mapstructure:"path"` // output directory
	Async      bool          `yaml:"async" mapstructure:"async"`
	RingBlocks int           `yaml:"ring_blocks" mapstructure:"ring_blocks"`
	Duration   time.Duration `yaml:"duration" mapstructure:"duration"` // zero records until interrupted
}

// TelemetrySettings configure the metrics and status endpoint.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// SentrySettings configure error reporting.
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads defaults, the configuration file and I2SCORE_* environment
// variables into Settings. configFile overrides the search paths. A missing
// config file is not an error.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(configFile); err != nil {
		return nil, err
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("config").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults and environment bindings and reads the config file.
func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return err
		}
		for _, path := range configPaths {
			viper.AddConfigPath(path)
		}
	}

	setDefaultConfig(viper.GetViper())

	if err := configureEnvironmentVariables(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	err := viper.ReadInConfig()
	if err == nil {
		GetLogger().Info("config file loaded", logger.String("path", viper.ConfigFileUsed()))
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		GetLogger().Info("no config file found, using defaults")
		return nil
	}
	return errors.New(fmt.Errorf("fatal error reading config file: %w", err)).
		Component("config").
		Category(errors.CategoryConfiguration).
		Context("path", configFile).
		Build()
}

// GetSettings returns the settings from the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// WriteDefault writes the default configuration to path.
func WriteDefault(path string) error {
	v := viper.New()
	setDefaultConfig(v)

	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("error marshaling defaults to YAML: %w", err)
	}
	return writeFileAtomic(path, data)
}

// SaveYAMLConfig writes settings to configPath. It overwrites the existing
// file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return writeFileAtomic(configPath, yamlData)
}

// writeFileAtomic writes through a temporary file renamed over path.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, path); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
