package models

import "time"

// AnalysisCacheEntry is the cached regression for a (user, metric, time range) key.
type AnalysisCacheEntry struct {
	UserID     string           `json:"user_id"`
	Metric     string           `json:"metric"`
	TimeRange  string           `json:"time_range"`
	Result     RegressionResult `json:"result"`
	SampleSize int              `json:"sample_size"`
	CreatedAt  time.Time        `json:"created_at"`
}
