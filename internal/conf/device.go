package conf

import (
	"github.com/tphakala/i2score/internal/i2s"
)

// ToDeviceConfig converts device settings into the configuration i2s.Open validates.
func (s *DeviceSettings) ToDeviceConfig() (i2s.DeviceConfig, error) {
	dir, err := i2s.ParseDirection(s.Direction)
	if err != nil {
		return i2s.DeviceConfig{}, err
	}
	format, err := i2s.ParseFormat(s.Format)
	if err != nil {
		return i2s.DeviceConfig{}, err
	}
	mode, err := i2s.ParseBufferMode(s.Mode)
	if err != nil {
		return i2s.DeviceConfig{}, err
	}
	flags, err := i2s.ParseFormatFlags(s.Flags)
	if err != nil {
		return i2s.DeviceConfig{}, err
	}

	return i2s.DeviceConfig{
		Itf:          s.Itf,
		Direction:    dir,
		Format:       format,
		Mode:         mode,
		TDM:          s.TDM,
		Channels:     s.Channels,
		WordSize:     s.WordSize,
		Flags:        flags,
		BlockSize:    s.BlockSize,
		SlabBlocks:   s.SlabBlocks,
		FrameClockHz: s.FrameClockHz,
		PDM: i2s.PDMConfig{
			Decimation:   uint16(s.PDM.Decimation), //nolint:gosec // range checked by validatePDM
			Shift:        int8(s.PDM.Shift),        //nolint:gosec // range checked by validatePDM
			FilterEnable: s.PDM.FilterEnable,
		},
	}, nil
}

// ToChannelConfig converts one TDM channel override. Unset fields inherit
// from the device settings.
func (c *ChannelSettings) ToChannelConfig(dev *DeviceSettings) (i2s.ChannelConfig, error) {
	wordSize := c.WordSize
	if wordSize == 0 {
		wordSize = dev.WordSize
	}
	modeName := c.Mode
	if modeName == "" {
		modeName = dev.Mode
	}
	mode, err := i2s.ParseBufferMode(modeName)
	if err != nil {
		return i2s.ChannelConfig{}, err
	}
	flagNames := c.Flags
	if flagNames == nil {
		flagNames = dev.Flags
	}
	flags, err := i2s.ParseFormatFlags(flagNames)
	if err != nil {
		return i2s.ChannelConfig{}, err
	}
	blockSize := c.BlockSize
	if blockSize == 0 {
		blockSize = dev.BlockSize
	}
	slabBlocks := c.SlabBlocks
	if slabBlocks == 0 {
		slabBlocks = dev.SlabBlocks
	}

	return i2s.ChannelConfig{
		WordSize:   wordSize,
		Flags:      flags,
		Mode:       mode,
		BlockSize:  blockSize,
		SlabBlocks: slabBlocks,
		Enabled:    c.Enabled,
	}, nil
}

// ApplyChannels configures and enables the TDM channel overrides on a stopped device.
func (s *Settings) ApplyChannels(dev *i2s.Device) error {
	for i := range s.Channels {
		ch := &s.Channels[i]
		cc, err := ch.ToChannelConfig(&s.Device)
		if err != nil {
			return err
		}
		if err := dev.ConfigureChannel(ch.ID, cc); err != nil {
			return err
		}
	}
	return nil
}
