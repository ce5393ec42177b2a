package hwsim

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"

	"github.com/tphakala/i2score/internal/errors"
	"github.com/tphakala/i2score/internal/i2s"
)

// Source produces the samples an RX peripheral shifts in. Each slot keeps its
// own cursor so a TDM channel only consumes its slot.
type Source interface {
	// Next returns the next sample of slot scaled to a signed word of bits.
	Next(slot, bits int) int32
	// Remaining returns the frames left, or -1 for an endless source.
	Remaining() int
}

// SilenceSource is an endless source of zero samples.
type SilenceSource struct{}

func (SilenceSource) Next(int, int) int32 { return 0 }
func (SilenceSource) Remaining() int      { return -1 }

// SineSource is an endless sine tone. Slot n is shifted by n quarter periods
// so interleaved channels are distinguishable.
type SineSource struct {
	freq      float64
	rate      float64
	amplitude float64
	n         [i2s.MaxChannels]uint64
}

// NewSineSource returns a tone of freq Hz sampled at rate Hz. amplitude is a
// fraction of full scale and is clamped to [0, 1].
func NewSineSource(freq float64, rate int, amplitude float64) *SineSource {
	return &SineSource{
		freq:      freq,
		rate:      float64(rate),
		amplitude: min(max(amplitude, 0), 1),
	}
}

func (s *SineSource) Next(slot, bits int) int32 {
	slot %= i2s.MaxChannels
	phase := 2*math.Pi*s.freq*float64(s.n[slot])/s.rate + float64(slot)*math.Pi/2
	s.n[slot]++
	return int32(math.Round(math.Sin(phase) * s.amplitude * fullScale(bits)))
}

func (s *SineSource) Remaining() int { return -1 }

// WAVSource plays back a decoded WAV file once. Slots beyond the file's
// channel count repeat its channels.
type WAVSource struct {
	data     []int
	chans    int
	bitDepth int
	frames   int
	cursor   [i2s.MaxChannels]int
}

// NewWAVSource decodes the whole file at path.
func NewWAVSource(path string) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("hwsim").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, errors.Newf("not a valid WAV file: %s", path).
			Component("hwsim").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	if dec.NumChans == 0 {
		return nil, errors.Newf("WAV file has no channels: %s", path).
			Component("hwsim").
			Category(errors.CategoryValidation).
			Build()
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, errors.New(fmt.Errorf("decode %s: %w", path, err)).
			Component("hwsim").
			Category(errors.CategoryAudio).
			Build()
	}

	chans := int(dec.NumChans)
	return &WAVSource{
		data:     buf.Data,
		chans:    chans,
		bitDepth: int(dec.BitDepth),
		frames:   len(buf.Data) / chans,
	}, nil
}

func (w *WAVSource) Next(slot, bits int) int32 {
	slot %= i2s.MaxChannels
	frame := w.cursor[slot]
	if frame >= w.frames {
		return 0
	}
	w.cursor[slot]++
	v := w.data[frame*w.chans+slot%w.chans]
	if w.bitDepth == 8 {
		// 8-bit PCM is stored unsigned
		v -= 128
	}
	return rescale(v, w.bitDepth, bits)
}

// Remaining counts frames left behind the most advanced slot.
func (w *WAVSource) Remaining() int {
	used := 0
	for _, c := range w.cursor {
		used = max(used, c)
	}
	return max(w.frames-used, 0)
}

// Frames returns the length of the file in frames.
func (w *WAVSource) Frames() int {
	return w.frames
}

// Channels returns the channel count of the file.
func (w *WAVSource) Channels() int {
	return w.chans
}

func fullScale(bits int) float64 {
	return float64(int64(1)<<(bits-1) - 1)
}

// rescale converts a signed sample of from bits to one of to bits.
func rescale(v, from, to int) int32 {
	switch {
	case from == to:
		return int32(v)
	case from < to:
		return int32(v << (to - from))
	default:
		return int32(v >> (from - to))
	}
}
