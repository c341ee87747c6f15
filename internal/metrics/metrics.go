// Package metrics exposes the Prometheus collectors this service publishes
// for cache sync, the hash memoizer, token issuance, and rate limiting.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheSyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "songdl",
		Subsystem: "cache",
		Name:      "sync_duration_seconds",
		Help:      "Duration of a sync_all pass over the on-disk song tree.",
		Buckets:   prometheus.DefBuckets,
	})

	HashCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "songdl",
		Subsystem: "cache",
		Name:      "hash_memo_hits_total",
		Help:      "Hash memoizer lookups served without recomputing MD5.",
	})

	HashCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "songdl",
		Subsystem: "cache",
		Name:      "hash_memo_misses_total",
		Help:      "Hash memoizer lookups not found in memory, answered from the sqlite store or by hashing the file.",
	})

	TokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "songdl",
		Subsystem: "tokens",
		Name:      "issued_total",
		Help:      "Download tokens generated and persisted.",
	})

	RateLimitRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "songdl",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Requests rejected for exceeding the per-user daily quota.",
	})
)

func init() {
	prometheus.MustRegister(CacheSyncDuration, HashCacheHits, HashCacheMisses, TokensIssued, RateLimitRejections)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
