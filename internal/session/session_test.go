package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/i2score/internal/conf"
	"github.com/tphakala/i2score/internal/errors"
	"github.com/tphakala/i2score/internal/i2s"
)

func loadSettings(t *testing.T, body string) *conf.Settings {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	settings, err := conf.Load(path)
	require.NoError(t, err)
	return settings
}

func writeStereoWAV(t *testing.T, path string, samples []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 44100, 16, 2, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 44100},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func TestRunRecordsFiniteSource(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.wav")
	samples := make([]int, 2000) // 1000 stereo frames
	for i := range samples {
		samples[i] = i%2000 - 1000
	}
	writeStereoWAV(t, input, samples)

	settings := loadSettings(t, `
device:
  itf: 60
  mode: slab
  slab_blocks: 8
simulator:
  source: wav
  wav_path: `+input+`
  interval: 1ms
capture:
  path: `+filepath.Join(dir, "out")+`
`)

	summary, err := Run(context.Background(), settings)
	require.NoError(t, err)

	assert.Equal(t, uint64(4), summary.Events, "three full blocks and one short final block")
	require.Len(t, summary.Recordings, 1)
	rec := summary.Recordings[0]
	assert.Equal(t, uint64(4), rec.Blocks)
	assert.Equal(t, uint64(4000), rec.BytesWritten)
	assert.Zero(t, rec.DroppedBytes)

	f, err := os.Open(rec.Path)
	require.NoError(t, err)
	defer f.Close()
	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, samples, buf.Data)

	assert.Equal(t, i2s.Stopped, summary.Device.State)
}

func TestRunTDMWithTelemetryUntilDuration(t *testing.T) {
	settings := loadSettings(t, `
device:
  itf: 61
  tdm: true
  channels: 4
  block_size: 64
channels:
  - id: 1
    enabled: true
  - id: 3
    enabled: true
    word_size: 24
    block_size: 128
simulator:
  source: silence
  interval: 1ms
capture:
  path: `+t.TempDir()+`
  async: true
  duration: 60ms
telemetry:
  enabled: true
  listen: 127.0.0.1:0
`)

	summary, err := Run(context.Background(), settings)
	require.NoError(t, err)

	assert.Positive(t, summary.Events)
	require.Len(t, summary.Recordings, 2)
	assert.Equal(t, 1, summary.Recordings[0].Channel)
	assert.Equal(t, 3, summary.Recordings[1].Channel)
	for _, rec := range summary.Recordings {
		assert.FileExists(t, rec.Path)
	}
}

func TestRunTransmitUntilCancelled(t *testing.T) {
	settings := loadSettings(t, `
device:
  itf: 62
  direction: tx
simulator:
  source: silence
  interval: 1ms
capture:
  enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	summary, err := Run(ctx, settings)
	require.NoError(t, err)
	assert.Empty(t, summary.Recordings)
	assert.Positive(t, summary.TxBytes)
	assert.Zero(t, summary.TxBytes%uint64(i2s.DefaultBlockSize))
}

func TestRunMissingWAVSource(t *testing.T) {
	settings := loadSettings(t, `
device:
  itf: 63
simulator:
  source: wav
  wav_path: /nonexistent/input.wav
capture:
  enabled: false
`)

	summary, err := Run(context.Background(), settings)
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}
