// Package metrics exposes Prometheus instrumentation for balance refreshes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "balance_tracker"

// Recorder holds the collectors registered on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	addressBalance   *prometheus.GaugeVec
	fetchTotal       *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
	trackedAddresses prometheus.Gauge
}

// New registers all collectors, plus Go and process collectors, on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		addressBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "address_balance_btc",
			Help:      "Last observed balance per tracked address, in BTC",
		}, []string{"address"}),
		fetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Explorer balance fetches by result",
		}, []string{"result"}),
		refreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of a full refresh round",
			Buckets:   prometheus.DefBuckets,
		}),
		trackedAddresses: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_addresses",
			Help:      "Number of addresses in the address book",
		}),
	}
}

// ObserveBalance records a successful fetch and the resulting balance.
func (r *Recorder) ObserveBalance(address string, btc float64) {
	if r == nil {
		return
	}
	r.fetchTotal.WithLabelValues("success").Inc()
	r.addressBalance.WithLabelValues(address).Set(btc)
}

// ObserveFetchError records a failed fetch.
func (r *Recorder) ObserveFetchError() {
	if r == nil {
		return
	}
	r.fetchTotal.WithLabelValues("error").Inc()
}

// ObserveRefresh records the duration of a refresh round and the address count.
func (r *Recorder) ObserveRefresh(d time.Duration, tracked int) {
	if r == nil {
		return
	}
	r.refreshDuration.Observe(d.Seconds())
	r.trackedAddresses.Set(float64(tracked))
}

// ForgetAddress removes the balance series of an untracked address.
func (r *Recorder) ForgetAddress(address string) {
	if r == nil {
		return
	}
	r.addressBalance.DeleteLabelValues(address)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
