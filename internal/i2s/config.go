package i2s

import (
	"fmt"

	"github.com/tphakala/i2score/internal/errors"
)

// Direction selects whether blocks carry captured samples or samples to play.
type Direction uint8

const (
	// RX blocks are filled by the peripheral and drained by consumers.
	RX Direction = iota
	// TX blocks are drained by the peripheral; consumers refill them before Release.
	TX
)

func (d Direction) String() string {
	if d == TX {
		return "tx"
	}
	return "rx"
}

// Format is the serial data format of the interface.
type Format uint8

const (
	FormatI2S Format = iota
	FormatPDM
)

func (f Format) String() string {
	if f == FormatPDM {
		return "pdm"
	}
	return "i2s"
}

// BufferMode is the buffer supply discipline of a channel.
type BufferMode uint8

const (
	// PingPong alternates strictly between two address-stable blocks.
	PingPong BufferMode = iota
	// Slab hands out blocks from a bounded free list replenished by Release.
	Slab
)

func (m BufferMode) String() string {
	if m == Slab {
		return "slab"
	}
	return "pingpong"
}

// MarshalText renders the mode name in status output.
func (m BufferMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseBufferMode accepts "pingpong" and "slab".
func ParseBufferMode(s string) (BufferMode, error) {
	switch s {
	case "pingpong", "ping-pong", "":
		return PingPong, nil
	case "slab":
		return Slab, nil
	}
	return PingPong, configError("mode", s, "buffer mode must be pingpong or slab")
}

// ParseDirection accepts "rx" and "tx".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "rx", "":
		return RX, nil
	case "tx":
		return TX, nil
	}
	return RX, configError("direction", s, "direction must be rx or tx")
}

// ParseFormat accepts "i2s" and "pdm".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "i2s", "":
		return FormatI2S, nil
	case "pdm":
		return FormatPDM, nil
	}
	return FormatI2S, configError("format", s, "format must be i2s or pdm")
}

// ParseFormatFlags maps flag names (lsb_first, right_justified, sign_extend) to bits.
func ParseFormatFlags(names []string) (FormatFlags, error) {
	var f FormatFlags
	for _, n := range names {
		switch n {
		case "lsb_first":
			f |= OrderLSB
		case "right_justified":
			f |= AlignRight
		case "sign_extend":
			f |= SignExtend
		default:
			return 0, configError("flags", n, "unknown format flag")
		}
	}
	return f, nil
}

// FormatFlags are the per-channel bit encoding options.
type FormatFlags uint8

const (
	// OrderLSB sends the least significant bit first. The default is MSB first.
	OrderLSB FormatFlags = 1 << iota
	// AlignRight right-justifies words in their slot. The default is left-justified.
	AlignRight
	// SignExtend sign-extends words narrower than their storage.
	SignExtend

	validFlags = OrderLSB | AlignRight | SignExtend
)

// PDMConfig carries the pulse-density parameters handed to the decimation collaborator.
type PDMConfig struct {
	Decimation   uint16 // bits per output sample; PDM clock = frame clock * Decimation
	Shift        int8
	FilterEnable bool
}

// Defaults mirror the original driver's conf_init.
const (
	DefaultWordSize      = 16
	DefaultChannels      = 2
	DefaultBlockSize     = 1024
	DefaultFrameClockHz  = 44100
	DefaultSlabBlocks    = 4
	DefaultPDMDecimation = 64

	// MinBlocksPerQueue is the smallest slab that never exposes a block still being filled.
	MinBlocksPerQueue = 2
	// MaxChannels bounds TDM slot count.
	MaxChannels = 16
)

// ChannelConfig describes one logical channel. In non-TDM mode it is derived
// from DeviceConfig; in TDM mode each slot is configured independently.
type ChannelConfig struct {
	WordSize   int // bits: 8, 16, 24 or 32
	Flags      FormatFlags
	Mode       BufferMode
	BlockSize  int // bytes, multiple of the frame size
	SlabBlocks int // slab only; ignored when Buffers is set

	// Buffers optionally supplies caller-owned memory: exactly two for
	// PingPong, at least MinBlocksPerQueue for Slab. Each must hold BlockSize bytes.
	Buffers [][]byte

	Enabled bool
}

// DeviceConfig is the interface configuration validated at Open.
type DeviceConfig struct {
	Itf          int
	Direction    Direction
	Format       Format
	Mode         BufferMode
	TDM          bool
	Channels     int
	WordSize     int
	Flags        FormatFlags
	BlockSize    int
	SlabBlocks   int
	FrameClockHz int
	PDM          PDMConfig

	// Buffers is the caller-supplied memory of the implicit channel (non-TDM).
	Buffers [][]byte
}

// DefaultDeviceConfig returns a stereo 16-bit ping-pong configuration.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Direction:    RX,
		Format:       FormatI2S,
		Mode:         PingPong,
		Channels:     DefaultChannels,
		WordSize:     DefaultWordSize,
		BlockSize:    DefaultBlockSize,
		SlabBlocks:   DefaultSlabBlocks,
		FrameClockHz: DefaultFrameClockHz,
		PDM:          PDMConfig{Decimation: DefaultPDMDecimation},
	}
}

// WordBytes returns the storage size of a word: 8→1, 16→2, 24 and 32→4.
func WordBytes(wordSize int) int {
	switch wordSize {
	case 8:
		return 1
	case 16:
		return 2
	case 24, 32:
		return 4
	default:
		return 0
	}
}

// FrameSize returns the bytes of one frame. In TDM mode a channel's stream
// holds only its own slot, so the frame is one word.
func (c DeviceConfig) FrameSize() int {
	if c.TDM {
		return WordBytes(c.WordSize)
	}
	return c.Channels * WordBytes(c.WordSize)
}

// ChannelDefaults returns the configuration every channel starts from at Open.
// In non-TDM mode this is the implicit channel, which is always enabled.
func (c DeviceConfig) ChannelDefaults() ChannelConfig {
	cc := ChannelConfig{
		WordSize:   c.WordSize,
		Flags:      c.Flags,
		Mode:       c.Mode,
		BlockSize:  c.BlockSize,
		SlabBlocks: c.SlabBlocks,
		Enabled:    !c.TDM,
	}
	if !c.TDM {
		cc.Buffers = c.Buffers
	}
	return cc
}

// Validate checks the device configuration. TDM channels are validated
// against their own frame size when configured.
func (c DeviceConfig) Validate() error {
	if c.Itf < 0 {
		return configError("itf", c.Itf, "interface id must not be negative")
	}
	if c.Direction != RX && c.Direction != TX {
		return configError("direction", c.Direction, "unknown direction")
	}
	if c.Channels < 1 || c.Channels > MaxChannels {
		return configError("channels", c.Channels, fmt.Sprintf("channels must be between 1 and %d", MaxChannels))
	}
	if c.FrameClockHz <= 0 {
		return configError("frame_clock_hz", c.FrameClockHz, "frame clock must be positive")
	}
	switch c.Format {
	case FormatI2S:
	case FormatPDM:
		if c.PDM.Decimation == 0 {
			return configError("pdm_decimation", c.PDM.Decimation, "PDM decimation must be at least 1")
		}
	default:
		return configError("format", c.Format, "unknown data format")
	}
	if c.TDM && len(c.Buffers) > 0 {
		return configError("buffers", len(c.Buffers), "TDM channels take buffers through ConfigureChannel")
	}
	return validateChannel(c.ChannelDefaults(), c.frameSizeFor(c.WordSize))
}

func (c DeviceConfig) frameSizeFor(wordSize int) int {
	if c.TDM {
		return WordBytes(wordSize)
	}
	return c.Channels * WordBytes(wordSize)
}

// Validate checks a TDM channel configuration against its one-word frame.
func (cc ChannelConfig) Validate() error {
	return validateChannel(cc, max(WordBytes(cc.WordSize), 1))
}

// validateChannel checks word size, flags, block size against frameSize and the buffer supply.
func validateChannel(cc ChannelConfig, frameSize int) error {
	if WordBytes(cc.WordSize) == 0 {
		return configError("word_size", cc.WordSize, "word size must be 8, 16, 24 or 32 bits")
	}
	if cc.Flags&^validFlags != 0 {
		return configError("flags", cc.Flags, "unknown format flags")
	}
	if cc.BlockSize <= 0 {
		return configError("block_size", cc.BlockSize, "block size must be positive")
	}
	if cc.BlockSize%frameSize != 0 {
		return configError("block_size", cc.BlockSize,
			fmt.Sprintf("block size %d is not a multiple of frame size %d", cc.BlockSize, frameSize))
	}

	switch cc.Mode {
	case PingPong:
		if len(cc.Buffers) != 0 && len(cc.Buffers) != 2 {
			return configError("buffers", len(cc.Buffers), "ping-pong needs exactly two buffers")
		}
	case Slab:
		count := cc.SlabBlocks
		if len(cc.Buffers) > 0 {
			count = len(cc.Buffers)
		}
		if count < MinBlocksPerQueue {
			return configError("slab_blocks", count,
				fmt.Sprintf("slab needs at least %d blocks per queue", MinBlocksPerQueue))
		}
		if count > MaxSlabBlocks {
			return configError("slab_blocks", count, fmt.Sprintf("slab holds at most %d blocks", MaxSlabBlocks))
		}
	default:
		return configError("mode", cc.Mode, "unknown buffer mode")
	}

	for i, buf := range cc.Buffers {
		if len(buf) < cc.BlockSize {
			return configError("buffers", i, fmt.Sprintf("buffer %d holds %d bytes, block size is %d", i, len(buf), cc.BlockSize))
		}
	}
	return nil
}

func configError(field string, value any, msg string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrInvalidConfig, msg)).
		Component(componentName).
		Category(errors.CategoryConfiguration).
		Context("field", field).
		Context("value", value).
		Build()
}
