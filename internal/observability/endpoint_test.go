package observability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/i2score/internal/errors"
	"github.com/tphakala/i2score/internal/i2s"
	"github.com/tphakala/i2score/internal/logger"
	"github.com/tphakala/i2score/internal/testutil"
)

func openDevice(t *testing.T, itf int, m *Metrics) *i2s.Device {
	t.Helper()
	cfg := i2s.DefaultDeviceConfig()
	cfg.Itf = itf
	cfg.BlockSize = 256
	d, err := i2s.Open(cfg,
		i2s.WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)),
		i2s.WithMetrics(m.I2S),
		i2s.WithID("dev-"+string(rune('a'+itf))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewEndpointValidates(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	_, err = NewEndpoint("", m)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	_, err = NewEndpoint(":0", nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestMetricsEndpointExposesChannelCounters(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	d := openDevice(t, 0, m)
	require.NoError(t, d.Start())
	require.NoError(t, d.TransferComplete(i2s.TransferEvent{}))

	e, err := NewEndpoint(":0", m, d)
	require.NoError(t, err)

	rec := get(t, e.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `i2s_completions_total{channel="0",device="dev-a"} 1`)
	assert.Contains(t, body, `i2s_channel_state{channel="0",device="dev-a"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestDeviceStatusAPI(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	a := openDevice(t, 1, m)
	b := openDevice(t, 2, m)

	e, err := NewEndpoint(":0", m, a)
	require.NoError(t, err)
	e.AddDevice(b)

	rec := get(t, e.Handler(), "/api/v1/devices")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []i2s.DeviceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "dev-b", list[0].ID)
	assert.Equal(t, i2s.Stopped, list[0].State)

	rec = get(t, e.Handler(), "/api/v1/devices/dev-c")
	require.Equal(t, http.StatusOK, rec.Code)
	var one map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, "stopped", one["state"])
	assert.Equal(t, "rx", one["direction"])

	rec = get(t, e.Handler(), "/api/v1/devices/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthReportsFault(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	d := openDevice(t, 3, m)
	e, err := NewEndpoint(":0", m, d)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(t, e.Handler(), "/healthz").Code)

	d.Fault(errors.NewStd("dma stalled"))
	rec := get(t, e.Handler(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "dma stalled")
	assert.Contains(t, get(t, e.Handler(), "/metrics").Body.String(),
		`i2s_hardware_faults_total{device="dev-d"} 1`)
}

func TestRunServesUntilCancelled(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	e, err := NewEndpoint("127.0.0.1:0", m)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var runErr error
	done := testutil.RunAsync(func() { runErr = e.Run(ctx) })
	require.Eventually(t, func() bool { return e.Addr() != nil }, testutil.DefaultTestTimeout, time.Millisecond)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + e.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	testutil.WaitForChannel(t, done, testutil.DefaultTestTimeout, "endpoint did not stop")
	require.NoError(t, runErr)
}
