// Package metrics exposes Prometheus collectors for a dashboard session.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "teleop_"

// Decode error kinds.
const (
	KindTelemetry = "telemetry"
	KindImage     = "image"
)

// Metrics holds the session collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	frames       *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	stateChanges *prometheus.CounterVec
	channelState *prometheus.GaugeVec
	recording    prometheus.Gauge
	elapsed      prometheus.Gauge
	imageLatency prometheus.Histogram
	commands     *prometheus.CounterVec
	sinkErrors   prometheus.Counter
	battery      prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "frames_received_total",
			Help: "Frames received per channel.",
		}, []string{"channel"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "decode_errors_total",
			Help: "Frames rejected as malformed by kind.",
		}, []string{"kind"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "channel_state_changes_total",
			Help: "Channel state transitions by channel and target state.",
		}, []string{"channel", "state"}),
		channelState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "channel_connected",
			Help: "1 when the channel is connected, 0 otherwise.",
		}, []string{"channel"}),
		recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "recording_active",
			Help: "1 while a recording session is in progress.",
		}),
		elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "recording_elapsed_seconds",
			Help: "Elapsed seconds of the current recording.",
		}),
		imageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "image_latency_seconds",
			Help:    "Delay between the robot sending an image frame and the dashboard receiving it.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "commands_total",
			Help: "Operator commands by command and result.",
		}, []string{"command", "result"}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "sink_errors_total",
			Help: "Telemetry export failures.",
		}),
		battery: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "battery_percent",
			Help: "Last reported battery level.",
		}),
	}
	m.registry.MustRegister(
		m.frames,
		m.decodeErrors,
		m.stateChanges,
		m.channelState,
		m.recording,
		m.elapsed,
		m.imageLatency,
		m.commands,
		m.sinkErrors,
		m.battery,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameReceived(channel string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(channel).Inc()
}

func (m *Metrics) DecodeError(kind string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(kind).Inc()
}

// ChannelState records a transition; connected selects the gauge value.
func (m *Metrics) ChannelState(channel, state string, connected bool) {
	if m == nil {
		return
	}
	m.stateChanges.WithLabelValues(channel, state).Inc()
	v := 0.0
	if connected {
		v = 1
	}
	m.channelState.WithLabelValues(channel).Set(v)
}

func (m *Metrics) Recording(active bool, elapsedSeconds int) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.recording.Set(v)
	m.elapsed.Set(float64(elapsedSeconds))
}

func (m *Metrics) ImageLatency(d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.imageLatency.Observe(d.Seconds())
}

// Command counts an operator command; a nil err counts as "ok".
func (m *Metrics) Command(name string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(name, result).Inc()
}

func (m *Metrics) SinkError() {
	if m == nil {
		return
	}
	m.sinkErrors.Inc()
}

func (m *Metrics) Battery(v float64) {
	if m == nil {
		return
	}
	m.battery.Set(v)
}
