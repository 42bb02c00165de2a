package cache

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks tagged cache statistics.
type Metrics struct {
	Hits          int64
	Misses        int64
	Sets          int64
	Deletes       int64
	Invalidations int64
	StaleDrops    int64
	GetErrors     int64
	SetErrors     int64
}

func (m *Metrics) hit()      { atomic.AddInt64(&m.Hits, 1) }
func (m *Metrics) miss()     { atomic.AddInt64(&m.Misses, 1) }
func (m *Metrics) set()      { atomic.AddInt64(&m.Sets, 1) }
func (m *Metrics) delete()   { atomic.AddInt64(&m.Deletes, 1) }
func (m *Metrics) staleDrop() { atomic.AddInt64(&m.StaleDrops, 1) }
func (m *Metrics) getError() { atomic.AddInt64(&m.GetErrors, 1) }
func (m *Metrics) setError() { atomic.AddInt64(&m.SetErrors, 1) }

func (m *Metrics) invalidate(keys int64) {
	atomic.AddInt64(&m.Invalidations, 1)
	atomic.AddInt64(&m.Deletes, keys)
}

// Snapshot returns a consistent copy of the counters.
func (m *Metrics) Snapshot() Metrics {
	return Metrics{
		Hits:          atomic.LoadInt64(&m.Hits),
		Misses:        atomic.LoadInt64(&m.Misses),
		Sets:          atomic.LoadInt64(&m.Sets),
		Deletes:       atomic.LoadInt64(&m.Deletes),
		Invalidations: atomic.LoadInt64(&m.Invalidations),
		StaleDrops:    atomic.LoadInt64(&m.StaleDrops),
		GetErrors:     atomic.LoadInt64(&m.GetErrors),
		SetErrors:     atomic.LoadInt64(&m.SetErrors),
	}
}

// Collector exports the cache counters to Prometheus.
type Collector struct {
	cache *TaggedCache

	hits          *prometheus.Desc
	misses        *prometheus.Desc
	sets          *prometheus.Desc
	deletes       *prometheus.Desc
	invalidations *prometheus.Desc
	staleDrops    *prometheus.Desc
	getErrors     *prometheus.Desc
	setErrors     *prometheus.Desc
}

func NewCollector(cache *TaggedCache) *Collector {
	return &Collector{
		cache:         cache,
		hits:          prometheus.NewDesc("computor_cache_hits_total", "Cache hits.", nil, nil),
		misses:        prometheus.NewDesc("computor_cache_misses_total", "Cache misses.", nil, nil),
		sets:          prometheus.NewDesc("computor_cache_sets_total", "Cache writes.", nil, nil),
		deletes:       prometheus.NewDesc("computor_cache_deletes_total", "Cache entry deletions.", nil, nil),
		invalidations: prometheus.NewDesc("computor_cache_invalidations_total", "Tag invalidations.", nil, nil),
		staleDrops:    prometheus.NewDesc("computor_cache_stale_drops_total", "Expired envelopes dropped on read.", nil, nil),
		getErrors:     prometheus.NewDesc("computor_cache_get_errors_total", "Read failures degraded to misses.", nil, nil),
		setErrors:     prometheus.NewDesc("computor_cache_set_errors_total", "Write failures.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.sets
	ch <- c.deletes
	ch <- c.invalidations
	ch <- c.staleDrops
	ch <- c.getErrors
	ch <- c.setErrors
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.cache.Metrics()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(m.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(m.Misses))
	ch <- prometheus.MustNewConstMetric(c.sets, prometheus.CounterValue, float64(m.Sets))
	ch <- prometheus.MustNewConstMetric(c.deletes, prometheus.CounterValue, float64(m.Deletes))
	ch <- prometheus.MustNewConstMetric(c.invalidations, prometheus.CounterValue, float64(m.Invalidations))
	ch <- prometheus.MustNewConstMetric(c.staleDrops, prometheus.CounterValue, float64(m.StaleDrops))
	ch <- prometheus.MustNewConstMetric(c.getErrors, prometheus.CounterValue, float64(m.GetErrors))
	ch <- prometheus.MustNewConstMetric(c.setErrors, prometheus.CounterValue, float64(m.SetErrors))
}
