package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/radiusd/pkg/pool"
)

// Datagram outcomes recorded on the packets counter.
const (
	OutcomeReplied     = "replied"
	OutcomeSilent      = "silent"
	OutcomeDecodeError = "decode_error"
	OutcomeEncodeError = "encode_error"
	OutcomeSendError   = "send_error"
)

// ServerMetrics instruments the datagram pipeline and the dialog store.
// A nil *ServerMetrics is valid and records nothing.
type ServerMetrics struct {
	packetsTotal    *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	storeWrites     prometheus.Counter
	storeErrors     prometheus.Counter
}

// NewServerMetrics creates the pipeline metrics. Returns nil when metrics
// are disabled.
func NewServerMetrics() *ServerMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &ServerMetrics{
		packetsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "radiusd_packets_total",
				Help: "Datagrams handled, by listener, request code and outcome",
			},
			[]string{"listener", "code", "outcome"},
		),
		handlerDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "radiusd_handler_duration_milliseconds",
				Help: "Datagram handling duration in milliseconds",
				Buckets: []float64{
					0.5,  // in-memory decision only
					1,    //
					5,    // store round trip
					10,   //
					50,   //
					100,  // slow store
					500,  //
					1000, // pathological
				},
			},
			[]string{"listener"},
		),
		storeWrites: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "radiusd_dialog_store_writes_total",
				Help: "Dialogs persisted to the store",
			},
		),
		storeErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "radiusd_dialog_store_errors_total",
				Help: "Dialog store write failures",
			},
		),
	}
}

// ObservePacket records one handled datagram.
func (m *ServerMetrics) ObservePacket(listener string, code int, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.packetsTotal.WithLabelValues(listener, strconv.Itoa(code), outcome).Inc()
	m.handlerDuration.WithLabelValues(listener).
		Observe(float64(duration.Microseconds()) / 1000.0)
}

// ObserveStoreWrite records a dialog store write attempt.
func (m *ServerMetrics) ObserveStoreWrite(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.storeErrors.Inc()
		return
	}
	m.storeWrites.Inc()
}

// poolCollector exports the remaining items per pool as gauges, reading the
// runtimes at scrape time.
type poolCollector struct {
	pools map[string]*pool.Runtime
	desc  *prometheus.Desc
}

// RegisterPoolCollector exposes radiusd_pool_remaining{pool,family} for the
// given runtimes. No-op when metrics are disabled.
func RegisterPoolCollector(pools map[string]*pool.Runtime) {
	if !IsEnabled() {
		return
	}
	GetRegistry().MustRegister(&poolCollector{
		pools: pools,
		desc: prometheus.NewDesc(
			"radiusd_pool_remaining",
			"Allocatable items remaining, by pool and address family",
			[]string{"pool", "family"},
			nil,
		),
	})
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	for name, rt := range c.pools {
		v4, v6, v6d := rt.Remaining()
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(v4), name, "ipv4")
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(v6), name, "ipv6")
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(v6d), name, "ipv6_delegated")
	}
}
