// Package metrics exports rollback session statistics to Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vovakirdan/horde-arena/internal/rollback"
)

// SessionCollector bundles the session metrics. It satisfies
// netplay.Observer.
type SessionCollector struct {
	gatherer prometheus.Gatherer

	Frame          prometheus.Gauge
	ConfirmedFrame prometheus.Gauge
	PredictionLag  prometheus.Gauge

	Rollbacks         prometheus.Counter
	ResimulatedFrames prometheus.Counter
	PredictionStalls  prometheus.Counter
	PacketsSent       prometheus.Counter
	PacketsReceived   prometheus.Counter
	Desyncs           prometheus.Counter
	Events            *prometheus.CounterVec

	mu   sync.Mutex
	last rollback.Stats
}

// NewSessionCollector registers the session metrics against reg, defaulting
// to the global registry when nil. Registering twice on the same registry
// reuses the existing collectors.
func NewSessionCollector(reg prometheus.Registerer) (*SessionCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &SessionCollector{gatherer: gatherer}

	var err error
	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.Frame, "arena_frame", "Current simulated frame."},
		{&c.ConfirmedFrame, "arena_confirmed_frame", "Last frame with confirmed input from every slot."},
		{&c.PredictionLag, "arena_prediction_lag_frames", "Frames simulated past the confirmed frame."},
	}
	for _, g := range gauges {
		*g.dst, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name)
		if err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&c.Rollbacks, "arena_rollbacks_total", "Rollbacks caused by mispredicted remote input."},
		{&c.ResimulatedFrames, "arena_resimulated_frames_total", "Frames simulated again after a rollback."},
		{&c.PredictionStalls, "arena_prediction_stalls_total", "Ticks skipped at the prediction threshold."},
		{&c.PacketsSent, "arena_packets_sent_total", "Packets sent to peers."},
		{&c.PacketsReceived, "arena_packets_received_total", "Packets received from peers."},
		{&c.Desyncs, "arena_desyncs_total", "Checksum mismatches reported by peers."},
	}
	for _, ct := range counters {
		*ct.dst, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: ct.name, Help: ct.help}), ct.name)
		if err != nil {
			return nil, err
		}
	}

	c.Events, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_session_events_total",
		Help: "Session events, labeled by kind.",
	}, []string{"kind"}), "arena_session_events_total")
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Observe updates the metrics from a session snapshot. Session counters
// only grow; a smaller value means a new session and restarts the deltas.
func (c *SessionCollector) Observe(st rollback.Stats) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Frame.Set(float64(st.Frame))
	c.ConfirmedFrame.Set(float64(st.ConfirmedFrame))
	c.PredictionLag.Set(float64(st.Frame) - float64(st.ConfirmedFrame))

	prev := c.last
	if st.Frame < prev.Frame {
		prev = rollback.Stats{}
	}
	addDelta(c.Rollbacks, prev.Rollbacks, st.Rollbacks)
	addDelta(c.ResimulatedFrames, prev.ResimulatedFrames, st.ResimulatedFrames)
	addDelta(c.PredictionStalls, prev.PredictionStalls, st.PredictionStalls)
	addDelta(c.PacketsSent, prev.PacketsSent, st.PacketsSent)
	addDelta(c.PacketsReceived, prev.PacketsReceived, st.PacketsReceived)
	addDelta(c.Desyncs, prev.Desyncs, st.Desyncs)
	c.last = st
}

// Event counts a session event by kind.
func (c *SessionCollector) Event(ev rollback.Event) {
	if c == nil {
		return
	}
	c.Events.WithLabelValues(EventKind(ev)).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SessionCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// EventKind returns the label value for ev.
func EventKind(ev rollback.Event) string {
	switch ev.(type) {
	case rollback.Synchronizing:
		return "synchronizing"
	case rollback.Synchronized:
		return "synchronized"
	case rollback.Disconnected:
		return "disconnected"
	case rollback.DesyncDetected:
		return "desync"
	default:
		return "unknown"
	}
}

func addDelta(c prometheus.Counter, prev, cur uint64) {
	if cur > prev {
		c.Add(float64(cur - prev))
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, col C, name string) (C, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero C
		return zero, err
	}
	return col, nil
}
