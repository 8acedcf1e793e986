// Package metrics exposes Prometheus collectors for calls, audio
// processing, quality and transport adaptation.
//
// Collectors live on a private registry created by Init. Every Record/Set
// helper is a no-op until Init has run, so packages can report
// unconditionally.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "softphone"

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
	enabled      atomic.Bool

	// Call metrics
	CallsTotal        *prometheus.CounterVec
	CallsActive       prometheus.Gauge
	CallDuration      *prometheus.HistogramVec
	CallSetupDuration prometheus.Histogram
	CallTransitions   *prometheus.CounterVec

	// Audio metrics
	FrameProcessing prometheus.Histogram
	FrameOverruns   prometheus.Counter

	// Quality metrics
	QualityScore   prometheus.Histogram
	QualityLatest  prometheus.Gauge
	DegradedEvents prometheus.Counter

	// Adaptation metrics
	CodecSwitches      *prometheus.CounterVec
	NetworkAdaptations *prometheus.CounterVec
	TargetBitrate      prometheus.Gauge

	// Device and delivery metrics
	DeviceRegistrations *prometheus.CounterVec
	EventsDropped       prometheus.Counter
	CallLogWrites       *prometheus.CounterVec
)

// Init creates and registers every collector. Safe to call repeatedly.
func Init() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		CallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Finished calls by direction and end reason",
		}, []string{"direction", "reason"})

		CallsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Calls not yet finalized",
		})

		CallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Connected duration of finished calls",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"direction"})

		CallSetupDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_setup_seconds",
			Help:      "Time from initiation to connected",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		})

		CallTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_transitions_total",
			Help:      "Call state transitions by target state",
		}, []string{"state"})

		FrameProcessing = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_processing_seconds",
			Help:      "Per-frame audio enhancement time",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 10),
		})

		FrameOverruns = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_overruns_total",
			Help:      "Frames that exceeded the processing budget",
		})

		QualityScore = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quality_score",
			Help:      "Composite quality scores per monitor tick",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		})

		QualityLatest = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quality_score_latest",
			Help:      "Most recent composite quality score",
		})

		DegradedEvents = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_degraded_total",
			Help:      "Network degraded warnings raised",
		})

		CodecSwitches = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codec_switches_total",
			Help:      "Codec profile switches",
		}, []string{"from", "to"})

		NetworkAdaptations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_adaptations_total",
			Help:      "Network profile changes by resulting class",
		}, []string{"class"})

		TargetBitrate = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_bitrate_bps",
			Help:      "Current adapted target bitrate",
		})

		DeviceRegistrations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_registrations_total",
			Help:      "Device registration attempts by result",
		}, []string{"result"})

		EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber lagged",
		})

		CallLogWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calllog_writes_total",
			Help:      "Call record writes by result",
		}, []string{"result"})

		registry.MustRegister(
			CallsTotal, CallsActive, CallDuration, CallSetupDuration, CallTransitions,
			FrameProcessing, FrameOverruns,
			QualityScore, QualityLatest, DegradedEvents,
			CodecSwitches, NetworkAdaptations, TargetBitrate,
			DeviceRegistrations, EventsDropped, CallLogWrites,
		)
		enabled.Store(true)

		logrus.WithFields(logrus.Fields{
			"function": "metrics.Init",
		}).Info("Prometheus metrics initialized")
	})
}

// Registry returns the private registry, or nil before Init.
func Registry() *prometheus.Registry {
	return registry
}

// Enabled reports whether Init has run.
func Enabled() bool {
	return enabled.Load()
}

// Handler returns the exposition handler for the private registry.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          registry,
	})
}

// RecordTransition counts a call state transition.
func RecordTransition(state string) {
	if enabled.Load() {
		CallTransitions.WithLabelValues(state).Inc()
	}
}

// CallStarted increments the active call gauge.
func CallStarted() {
	if enabled.Load() {
		CallsActive.Inc()
	}
}

// CallFinished records a finalized call.
func CallFinished(direction, reason string, connected time.Duration) {
	if !enabled.Load() {
		return
	}
	CallsActive.Dec()
	CallsTotal.WithLabelValues(direction, reason).Inc()
	if connected > 0 {
		CallDuration.WithLabelValues(direction).Observe(connected.Seconds())
	}
}

// RecordMissed counts a call that was refused before a session existed.
func RecordMissed(direction, reason string) {
	if enabled.Load() {
		CallsTotal.WithLabelValues(direction, reason).Inc()
	}
}

// ObserveSetup records the time taken to connect a call.
func ObserveSetup(d time.Duration) {
	if enabled.Load() {
		CallSetupDuration.Observe(d.Seconds())
	}
}

// ObserveFrame records one frame's processing time and whether it overran.
func ObserveFrame(d time.Duration, overrun bool) {
	if !enabled.Load() {
		return
	}
	FrameProcessing.Observe(d.Seconds())
	if overrun {
		FrameOverruns.Inc()
	}
}

// RecordQuality records a composite score.
func RecordQuality(score int) {
	if !enabled.Load() {
		return
	}
	QualityScore.Observe(float64(score))
	QualityLatest.Set(float64(score))
}

// RecordDegraded counts a network degraded warning.
func RecordDegraded() {
	if enabled.Load() {
		DegradedEvents.Inc()
	}
}

// RecordCodecSwitch counts a codec switch.
func RecordCodecSwitch(from, to string) {
	if enabled.Load() {
		CodecSwitches.WithLabelValues(from, to).Inc()
	}
}

// RecordAdaptation counts a network profile change.
func RecordAdaptation(class string, bitrate uint32) {
	if !enabled.Load() {
		return
	}
	NetworkAdaptations.WithLabelValues(class).Inc()
	TargetBitrate.Set(float64(bitrate))
}

// RecordRegistration counts a device registration attempt.
func RecordRegistration(err error) {
	if !enabled.Load() {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	DeviceRegistrations.WithLabelValues(result).Inc()
}

// RecordDroppedEvent counts an event dropped for a lagging subscriber.
func RecordDroppedEvent() {
	if enabled.Load() {
		EventsDropped.Inc()
	}
}

// RecordCallLogWrite counts a call record write.
func RecordCallLogWrite(err error) {
	if !enabled.Load() {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	CallLogWrites.WithLabelValues(result).Inc()
}
