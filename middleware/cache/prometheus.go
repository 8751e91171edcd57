package cache

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/sdnsfwd/cache"
)

// instance is the cache the collectors below report on.
var instance atomic.Pointer[cache.Cache]

func stat(f func(cache.Stats) float64) func() float64 {
	return func() float64 {
		c := instance.Load()
		if c == nil {
			return 0
		}

		return f(c.Stats())
	}
}

var (
	cacheHits = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "dns_cache_hits_total",
		Help: "Total number of DNS cache hits",
	}, stat(func(s cache.Stats) float64 { return float64(s.Hits) }))

	cacheMisses = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "dns_cache_misses_total",
		Help: "Total number of DNS cache misses",
	}, stat(func(s cache.Stats) float64 { return float64(s.Misses) }))

	cacheEvictions = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "dns_cache_evictions_total",
		Help: "Total number of DNS cache evictions",
	}, stat(func(s cache.Stats) float64 { return float64(s.Evictions) }))

	cacheExpired = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "dns_cache_expired_total",
		Help: "Total number of expired DNS cache entries removed",
	}, stat(func(s cache.Stats) float64 { return float64(s.Expired) }))

	cacheSize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dns_cache_size",
		Help: "Current number of entries in the DNS cache",
	}, stat(func(s cache.Stats) float64 { return float64(s.Entries) }))

	cacheBytes = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dns_cache_bytes",
		Help: "Estimated bytes used by the DNS cache",
	}, stat(func(s cache.Stats) float64 { return float64(s.Bytes) }))
)

func init() {
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
	prometheus.MustRegister(cacheEvictions)
	prometheus.MustRegister(cacheExpired)
	prometheus.MustRegister(cacheSize)
	prometheus.MustRegister(cacheBytes)
}
