// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"

	"github.com/tphakala/i2score/internal/capture"
	"github.com/tphakala/i2score/internal/i2s"
	"github.com/tphakala/i2score/internal/logger"
)

// setDefaultConfig sets default values on v.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("device.itf", 0)
	v.SetDefault("device.direction", i2s.RX.String())
	v.SetDefault("device.format", i2s.FormatI2S.String())
	v.SetDefault("device.mode", i2s.PingPong.String())
	v.SetDefault("device.tdm", false)
	v.SetDefault("device.channels", i2s.DefaultChannels)
	v.SetDefault("device.word_size", i2s.DefaultWordSize)
	v.SetDefault("device.flags", []string{})
	v.SetDefault("device.block_size", i2s.DefaultBlockSize)
	v.SetDefault("device.slab_blocks", i2s.DefaultSlabBlocks)
	v.SetDefault("device.frame_clock_hz", i2s.DefaultFrameClockHz)
	v.SetDefault("device.pdm.decimation", i2s.DefaultPDMDecimation)
	v.SetDefault("device.pdm.shift", 0)
	v.SetDefault("device.pdm.filter_enable", true)

	v.SetDefault("channels", []map[string]any{})

	v.SetDefault("simulator.source", "sine")
	v.SetDefault("simulator.wav_path", "")
	v.SetDefault("simulator.tone_hz", 440.0)
	v.SetDefault("simulator.amplitude", 0.5)
	v.SetDefault("simulator.interval", "0s")

	v.SetDefault("capture.enabled", true)
	v.SetDefault("capture.path", "captures/")
	v.SetDefault("capture.async", false)
	v.SetDefault("capture.ring_blocks", capture.DefaultRingBlocks)
	v.SetDefault("capture.duration", "0s")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "127.0.0.1:8090")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.debug", false)

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)
}
