// Package stats defines the Stats collaborator referenced by spec.md §6/§9:
// the supervisor's watchdog and C4/C5 report liveness and throughput here.
// Shipping the numbers to InfluxDB is explicitly out of core scope — only
// the instrumentation points are in-core, grounded on the pack's prometheus
// usage in arzzra-soft_phone's dialog/rtp metrics collectors.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink is the interface C1..C9 depend on. The supervisor owns the single
// concrete implementation; tests may substitute a no-op.
type Sink interface {
	FrameDecoded()
	FrameDropped(reason string)
	DSPQueueDepth(n int)
	RackedSize(n int)
	AnchorValid(valid bool)
	WatchdogTick(healthy bool)
}

// PromSink is the default Sink, registering its series against the given
// registerer (nil means prometheus.DefaultRegisterer).
type PromSink struct {
	framesDecoded   prometheus.Counter
	framesDropped   *prometheus.CounterVec
	dspQueueDepth   prometheus.Gauge
	rackedSize      prometheus.Gauge
	anchorValidGauge prometheus.Gauge
	watchdogTotal   *prometheus.CounterVec
}

// NewPromSink constructs and registers a PromSink.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	factory := promauto.With(reg)
	return &PromSink{
		framesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pierre",
			Name:      "frames_decoded_total",
			Help:      "Number of audio frames that reached DSP_COMPLETE.",
		}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pierre",
			Name:      "frames_dropped_total",
			Help:      "Number of frames dropped, labeled by reason.",
		}, []string{"reason"}),
		dspQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pierre",
			Name:      "dsp_queue_depth",
			Help:      "Pending DSP work items in the worker pool.",
		}),
		rackedSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pierre",
			Name:      "racked_size",
			Help:      "Frames currently held in the Racked queue.",
		}),
		anchorValidGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pierre",
			Name:      "anchor_valid",
			Help:      "1 when the last AnchorLast fusion was valid, else 0.",
		}),
		watchdogTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pierre",
			Name:      "watchdog_ticks_total",
			Help:      "Supervisor watchdog ticks, labeled by health outcome.",
		}, []string{"healthy"}),
	}
}

func (p *PromSink) FrameDecoded() { p.framesDecoded.Inc() }

func (p *PromSink) FrameDropped(reason string) { p.framesDropped.WithLabelValues(reason).Inc() }

func (p *PromSink) DSPQueueDepth(n int) { p.dspQueueDepth.Set(float64(n)) }

func (p *PromSink) RackedSize(n int) { p.rackedSize.Set(float64(n)) }

func (p *PromSink) AnchorValid(valid bool) {
	if valid {
		p.anchorValidGauge.Set(1)
	} else {
		p.anchorValidGauge.Set(0)
	}
}

func (p *PromSink) WatchdogTick(healthy bool) {
	label := "false"
	if healthy {
		label = "true"
	}
	p.watchdogTotal.WithLabelValues(label).Inc()
}

// NoopSink discards everything; used in tests and wherever no Stats
// collaborator is wired.
type NoopSink struct{}

func (NoopSink) FrameDecoded()               {}
func (NoopSink) FrameDropped(string)         {}
func (NoopSink) DSPQueueDepth(int)           {}
func (NoopSink) RackedSize(int)              {}
func (NoopSink) AnchorValid(bool)            {}
func (NoopSink) WatchdogTick(bool)           {}
