package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/healthtrack/trend-engine/internal/models"
	"github.com/healthtrack/trend-engine/internal/utils"
)

// FromAnalyzeTrendRequest maps the gRPC request into a domain AnalysisRequest. An
// omitted time range means the whole history.
func FromAnalyzeTrendRequest(req *AnalyzeTrendRequest) (models.AnalysisRequest, error) {
	if req == nil {
		return models.AnalysisRequest{}, fmt.Errorf("request is nil")
	}
	userID := strings.TrimSpace(req.UserID)
	metric := strings.TrimSpace(req.Metric)
	if userID == "" {
		return models.AnalysisRequest{}, fmt.Errorf("user_id is required")
	}
	if metric == "" {
		return models.AnalysisRequest{}, fmt.Errorf("metric is required")
	}
	timeRange := strings.TrimSpace(req.TimeRange)
	if timeRange == "" {
		timeRange = utils.TimeRangeAll
	}
	return models.AnalysisRequest{UserID: userID, Metric: metric, TimeRange: timeRange}, nil
}

// ToAnalyzeTrendResponse converts an analysis outcome into the gRPC representation.
// A nil trend becomes a response with Found unset.
func ToAnalyzeTrendResponse(trend *models.Trend, interpretation models.TrendInterpretation) *AnalyzeTrendResponse {
	resp := &AnalyzeTrendResponse{Interpretation: interpretation}
	if trend == nil {
		return resp
	}
	result := trend.Result
	resp.Found = true
	resp.Result = &result
	resp.SampleSize = trend.SampleSize
	resp.Cached = trend.Cached
	if !trend.ComputedAt.IsZero() {
		computedAt := trend.ComputedAt.UTC()
		resp.ComputedAt = &computedAt
	}
	return resp
}

// ParseMaxAge reads the CleanupExpired max age, falling back to def when empty.
func ParseMaxAge(req *CleanupExpiredRequest, def time.Duration) (time.Duration, error) {
	if req == nil || strings.TrimSpace(req.MaxAge) == "" {
		return def, nil
	}
	maxAge, err := time.ParseDuration(strings.TrimSpace(req.MaxAge))
	if err != nil {
		return 0, fmt.Errorf("max_age: %w", err)
	}
	if maxAge < 0 {
		return 0, fmt.Errorf("max_age must not be negative")
	}
	return maxAge, nil
}
