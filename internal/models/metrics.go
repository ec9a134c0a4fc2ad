package models

import "time"

// SystemMetrics is a lightweight snapshot of process counters.
type SystemMetrics struct {
	CacheHitRatio            float64           `json:"cache_hit_ratio"`
	CacheHits                uint64            `json:"cache_hits"`
	CacheMisses              uint64            `json:"cache_misses"`
	RequestsTotal            uint64            `json:"requests_total"`
	AverageRequestDurationMs float64           `json:"average_request_duration_ms"`
	Redemptions              map[string]uint64 `json:"redemptions"`
	RetriesTotal             uint64            `json:"retries_total"`
	RetriesExhausted         uint64            `json:"retries_exhausted"`
	Goroutines               int               `json:"goroutines"`
	GeneratedAt              time.Time         `json:"generated_at"`
}
