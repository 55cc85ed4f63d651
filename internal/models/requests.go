package models

import "time"

// TimeRange bounds the record window for analysis.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// AnalysisRequest identifies one trend analysis.
type AnalysisRequest struct {
	UserID    string
	Metric    string
	TimeRange string
}
