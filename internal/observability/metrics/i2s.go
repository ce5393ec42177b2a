// Package metrics provides I2S streaming core metrics for observability
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// State values exported by the channel state gauge.
const (
	StateStopped = 0
	StateRunning = 1
)

// I2SMetrics contains Prometheus metrics for the I2S transfer engine and its consumers
type I2SMetrics struct {
	registry *prometheus.Registry

	completionsTotal  *prometheus.CounterVec
	bytesTotal        *prometheus.CounterVec
	droppedBytesTotal *prometheus.CounterVec
	overrunsTotal     *prometheus.CounterVec
	overwritesTotal   *prometheus.CounterVec
	ignoredTicksTotal *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec
	channelState      *prometheus.GaugeVec
	faultsTotal       *prometheus.CounterVec
	readErrorsTotal   *prometheus.CounterVec

	captureBytesTotal   *prometheus.CounterVec
	captureOverflows    *prometheus.CounterVec
	captureWriteLatency *prometheus.HistogramVec
}

// NewI2SMetrics creates and registers I2S metrics
func NewI2SMetrics(registry *prometheus.Registry) (*I2SMetrics, error) {
	m := &I2SMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *I2SMetrics) initMetrics() {
	channelLabels := []string{"device", "channel"}

	m.completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "i2s_completions_total",
			Help: "Total number of blocks pushed to completion queues",
		},
		channelLabels,
	)

	m.bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "i2s_bytes_total",
			Help: "Total number of bytes delivered in completed blocks",
		},
		channelLabels,
	)

	m.droppedBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "i2s_dropped_bytes_total",
			Help: "Total number of bytes dropped because no block was available at rotation",
		},
		channelLabels,
	)

	m.overrunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "i2s_overruns_total",
			Help: "Total number of rotations that found the buffer pool exhausted",
		},
		channelLabels,
	)

	m.overwritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "i2s_overwrites_total",
			Help: "Total number of ping-pong blocks refilled before their consumer released them",
		},
		channelLabels,
	)

	m.ignoredTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "i2s_ignored_ticks_total",
			Help: "Total number of completion events acknowledged while the channel was stopped",
		},
		channelLabels,
	)

	m.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "i2s_queue_depth",
			Help: "Completed blocks waiting for a consumer",
		},
		channelLabels,
	)

	m.channelState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "i2s_channel_state",
			Help: "Channel control state (0 stopped, 1 running)",
		},
		channelLabels,
	)

	m.faultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "i2s_hardware_faults_total",
			Help: "Total number of fatal hardware faults",
		},
		[]string{"device"},
	)

	m.readErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "i2s_read_errors_total",
			Help: "Total number of failed reads by error category",
		},
		[]string{"device", "channel", "category"},
	)

	m.captureBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "i2s_capture_bytes_written_total",
			Help: "Total number of PCM bytes written to capture files",
		},
		channelLabels,
	)

	m.captureOverflows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "i2s_capture_ring_overflows_total",
			Help: "Total number of completions that did not fit the capture ring",
		},
		channelLabels,
	)

	m.captureWriteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "i2s_capture_write_duration_seconds",
			Help:    "Time taken to encode one drained chunk to the capture file",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
		},
		channelLabels,
	)
}

// Describe implements the prometheus.Collector interface
func (m *I2SMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.completionsTotal.Describe(ch)
	m.bytesTotal.Describe(ch)
	m.droppedBytesTotal.Describe(ch)
	m.overrunsTotal.Describe(ch)
	m.overwritesTotal.Describe(ch)
	m.ignoredTicksTotal.Describe(ch)
	m.queueDepth.Describe(ch)
	m.channelState.Describe(ch)
	m.faultsTotal.Describe(ch)
	m.readErrorsTotal.Describe(ch)
	m.captureBytesTotal.Describe(ch)
	m.captureOverflows.Describe(ch)
	m.captureWriteLatency.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *I2SMetrics) Collect(ch chan<- prometheus.Metric) {
	m.completionsTotal.Collect(ch)
	m.bytesTotal.Collect(ch)
	m.droppedBytesTotal.Collect(ch)
	m.overrunsTotal.Collect(ch)
	m.overwritesTotal.Collect(ch)
	m.ignoredTicksTotal.Collect(ch)
	m.queueDepth.Collect(ch)
	m.channelState.Collect(ch)
	m.faultsTotal.Collect(ch)
	m.readErrorsTotal.Collect(ch)
	m.captureBytesTotal.Collect(ch)
	m.captureOverflows.Collect(ch)
	m.captureWriteLatency.Collect(ch)
}

// ChannelMetrics holds the per-channel children resolved once at open time.
// Its methods only touch atomics, so they are safe on the transfer completion path.
// A nil *ChannelMetrics is valid and records nothing.
type ChannelMetrics struct {
	completions  prometheus.Counter
	bytes        prometheus.Counter
	droppedBytes prometheus.Counter
	overruns     prometheus.Counter
	overwrites   prometheus.Counter
	ignoredTicks prometheus.Counter
	queueDepth   prometheus.Gauge
	state        prometheus.Gauge
}

// Channel resolves the label children for one device channel.
func (m *I2SMetrics) Channel(device string, channel int) *ChannelMetrics {
	if m == nil {
		return nil
	}
	id := strconv.Itoa(channel)
	return &ChannelMetrics{
		completions:  m.completionsTotal.WithLabelValues(device, id),
		bytes:        m.bytesTotal.WithLabelValues(device, id),
		droppedBytes: m.droppedBytesTotal.WithLabelValues(device, id),
		overruns:     m.overrunsTotal.WithLabelValues(device, id),
		overwrites:   m.overwritesTotal.WithLabelValues(device, id),
		ignoredTicks: m.ignoredTicksTotal.WithLabelValues(device, id),
		queueDepth:   m.queueDepth.WithLabelValues(device, id),
		state:        m.channelState.WithLabelValues(device, id),
	}
}

// RecordCompletion counts one pushed block of size bytes.
func (c *ChannelMetrics) RecordCompletion(size int) {
	if c == nil {
		return
	}
	c.completions.Inc()
	c.bytes.Add(float64(size))
	c.queueDepth.Inc()
}

// RecordDequeue lowers the queue depth after a consumer took a block.
func (c *ChannelMetrics) RecordDequeue() {
	if c == nil {
		return
	}
	c.queueDepth.Dec()
}

// RecordOverrun counts a rotation that dropped size bytes.
func (c *ChannelMetrics) RecordOverrun(size int) {
	if c == nil {
		return
	}
	c.overruns.Inc()
	c.droppedBytes.Add(float64(size))
}

// RecordOverwrite counts a ping-pong block refilled while still lent to a consumer.
func (c *ChannelMetrics) RecordOverwrite() {
	if c == nil {
		return
	}
	c.overwrites.Inc()
}

// RecordIgnoredTick counts an event acknowledged while stopped.
func (c *ChannelMetrics) RecordIgnoredTick() {
	if c == nil {
		return
	}
	c.ignoredTicks.Inc()
}

// SetState exports StateStopped or StateRunning.
func (c *ChannelMetrics) SetState(state int) {
	if c == nil {
		return
	}
	c.state.Set(float64(state))
}

// ResetQueueDepth clears the depth gauge when a queue is failed or discarded.
func (c *ChannelMetrics) ResetQueueDepth() {
	if c == nil {
		return
	}
	c.queueDepth.Set(0)
}

// RecordFault counts a fatal hardware fault.
func (m *I2SMetrics) RecordFault(device string) {
	if m == nil {
		return
	}
	m.faultsTotal.WithLabelValues(device).Inc()
}

// RecordReadError counts a failed read, labelled by error category.
func (m *I2SMetrics) RecordReadError(device string, channel int, category string) {
	if m == nil {
		return
	}
	m.readErrorsTotal.WithLabelValues(device, strconv.Itoa(channel), category).Inc()
}

// RecordCaptureWrite records bytes written by a capture writer and how long the write took.
func (m *I2SMetrics) RecordCaptureWrite(device string, channel, bytes int, seconds float64) {
	if m == nil {
		return
	}
	id := strconv.Itoa(channel)
	m.captureBytesTotal.WithLabelValues(device, id).Add(float64(bytes))
	m.captureWriteLatency.WithLabelValues(device, id).Observe(seconds)
}

// RecordCaptureOverflow counts a completion that the capture ring could not hold.
func (m *I2SMetrics) RecordCaptureOverflow(device string, channel int) {
	if m == nil {
		return
	}
	m.captureOverflows.WithLabelValues(device, strconv.Itoa(channel)).Inc()
}
