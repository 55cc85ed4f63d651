package api

import (
	"testing"
	"time"

	"github.com/healthtrack/trend-engine/internal/models"
)

func TestFromAnalyzeTrendRequest(t *testing.T) {
	domainReq, err := FromAnalyzeTrendRequest(&AnalyzeTrendRequest{UserID: " user-1 ", Metric: "symptom:migraine"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if domainReq.UserID != "user-1" {
		t.Fatalf("unexpected user id: %q", domainReq.UserID)
	}
	if domainReq.TimeRange != "all" {
		t.Fatalf("expected omitted time range to default to all, got %q", domainReq.TimeRange)
	}

	for _, req := range []*AnalyzeTrendRequest{nil, {Metric: "mood"}, {UserID: "u1", Metric: "  "}} {
		if _, err := FromAnalyzeTrendRequest(req); err == nil {
			t.Fatalf("expected error for %+v", req)
		}
	}
}

func TestToAnalyzeTrendResponse(t *testing.T) {
	computed := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)
	trend := &models.Trend{
		Result:     models.RegressionResult{Slope: -0.43, Intercept: 8700, RSquared: 0.88},
		SampleSize: 21,
		Cached:     true,
		ComputedAt: computed,
	}
	interpretation := models.TrendInterpretation{Direction: models.DirectionWorsening, Confidence: models.ConfidenceHigh}

	resp := ToAnalyzeTrendResponse(trend, interpretation)
	if !resp.Found || resp.Result == nil || resp.Result.Slope != -0.43 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.SampleSize != 21 || !resp.Cached || resp.ComputedAt == nil || !resp.ComputedAt.Equal(computed) {
		t.Fatalf("unexpected metadata: %+v", resp)
	}
	if resp.Interpretation != interpretation {
		t.Fatalf("unexpected interpretation: %+v", resp.Interpretation)
	}

	empty := ToAnalyzeTrendResponse(nil, models.TrendInterpretation{Direction: models.DirectionInsufficientData, Confidence: models.ConfidenceNotApplicable})
	if empty.Found || empty.Result != nil || empty.ComputedAt != nil {
		t.Fatalf("expected empty response, got %+v", empty)
	}
}

func TestParseMaxAge(t *testing.T) {
	got, err := ParseMaxAge(&CleanupExpiredRequest{}, time.Hour)
	if err != nil || got != time.Hour {
		t.Fatalf("expected default, got %v %v", got, err)
	}
	got, err = ParseMaxAge(&CleanupExpiredRequest{MaxAge: "36h"}, time.Hour)
	if err != nil || got != 36*time.Hour {
		t.Fatalf("expected 36h, got %v %v", got, err)
	}
	if _, err := ParseMaxAge(&CleanupExpiredRequest{MaxAge: "soon"}, time.Hour); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := ParseMaxAge(&CleanupExpiredRequest{MaxAge: "-1h"}, time.Hour); err == nil {
		t.Fatalf("expected negative duration error")
	}
}
