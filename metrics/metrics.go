// Package metrics exports solver activity to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stationpacking/cache"
	"stationpacking/packing"
)

const (
	KindLabel   = "kind"
	HitLabel    = "hit"
	ResultLabel = "result"
)

// Prometheus records cache lookups and component results. It satisfies
// solver.Observer.
type Prometheus struct {
	lookups       *prometheus.CounterVec
	components    *prometheus.CounterVec
	componentTime *prometheus.HistogramVec
	componentSize prometheus.Histogram
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packing_cache_lookups_total",
				Help: "Monotonic count of containment cache lookups",
			},
			[]string{KindLabel, HitLabel},
		),
		components: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packing_components_total",
				Help: "Monotonic count of solved interference components",
			},
			[]string{ResultLabel},
		),
		componentTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "packing_component_seconds",
				Help:    "Time spent deciding one interference component",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{ResultLabel},
		),
		componentSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "packing_component_stations",
				Help:    "Stations per solved interference component",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}
	reg.MustRegister(p.lookups, p.components, p.componentTime, p.componentSize)
	return p
}

func (p *Prometheus) CacheLookup(kind string, hit bool) {
	p.lookups.WithLabelValues(kind, strconv.FormatBool(hit)).Inc()
}

func (p *Prometheus) ComponentSolved(size int, result packing.Result, d time.Duration) {
	p.components.WithLabelValues(result.String()).Inc()
	p.componentTime.WithLabelValues(result.String()).Observe(d.Seconds())
	p.componentSize.Observe(float64(size))
}

// RegisterCacheSize exports the entry counts of c as gauges.
func RegisterCacheSize(reg prometheus.Registerer, c *cache.Cache) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "packing_cache_sat_entries",
			Help: "SAT entries held by the containment cache",
		}, func() float64 { return float64(c.Stats().SAT) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "packing_cache_unsat_entries",
			Help: "UNSAT entries held by the containment cache",
		}, func() float64 { return float64(c.Stats().UNSAT) }),
	)
}
