package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink abstracts Prometheus away from the rest of the engine so it
// stays usable with metrics disabled, mirroring the teacher's
// metricsSink/noopMetrics/promMetrics split.
type metricsSink interface {
	incOp(op string, status string)
	incEvict()
	incExpired()
	setResidentKeys(n float64)
	setInuseValueBlocks(n float64)
}

type noopMetrics struct{}

func (noopMetrics) incOp(string, string)    {}
func (noopMetrics) incEvict()               {}
func (noopMetrics) incExpired()             {}
func (noopMetrics) setResidentKeys(float64) {}
func (noopMetrics) setInuseValueBlocks(float64) {}

type promMetrics struct {
	ops             *prometheus.CounterVec
	evictions       prometheus.Counter
	expired         prometheus.Counter
	residentKeys    prometheus.Gauge
	inuseValueBlocks prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	pm := &promMetrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "priskv",
			Name:      "ops_total",
			Help:      "Number of KV operations processed, by opcode and result status.",
		}, []string{"op", "status"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "priskv",
			Name:      "evictions_total",
			Help:      "Number of keys evicted by the configured policy under capacity pressure.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "priskv",
			Name:      "expired_total",
			Help:      "Number of keys reclaimed by the background expiry sweep.",
		}),
		residentKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "priskv",
			Name:      "resident_keys",
			Help:      "Number of keys currently resident in the arena's KV index.",
		}),
		inuseValueBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "priskv",
			Name:      "inuse_value_blocks",
			Help:      "Number of value blocks currently allocated from the buddy allocator.",
		}),
	}
	reg.MustRegister(pm.ops, pm.evictions, pm.expired, pm.residentKeys, pm.inuseValueBlocks)
	return pm
}

func (m *promMetrics) incOp(op string, status string) { m.ops.WithLabelValues(op, status).Inc() }
func (m *promMetrics) incEvict()                      { m.evictions.Inc() }
func (m *promMetrics) incExpired()                    { m.expired.Inc() }
func (m *promMetrics) setResidentKeys(n float64)      { m.residentKeys.Set(n) }
func (m *promMetrics) setInuseValueBlocks(n float64)  { m.inuseValueBlocks.Set(n) }

func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
