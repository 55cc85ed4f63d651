package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/healthtrack/trend-engine/internal/api"
	"github.com/healthtrack/trend-engine/internal/engine"
	"github.com/healthtrack/trend-engine/internal/models"
	"github.com/healthtrack/trend-engine/internal/utils"
)

// TrendAnalyzer is the analysis surface the service needs; *engine.Analyzer
// satisfies it.
type TrendAnalyzer interface {
	Trend(ctx context.Context, userID, metric, timeRange string) (*models.Trend, error)
	Invalidate(ctx context.Context, userID, metric, timeRange string) int
	CleanupExpired(ctx context.Context, maxAge time.Duration) int
}

// TrendService implements the gRPC TrendEngine service.
type TrendService struct {
	logger    *slog.Logger
	analyzer  TrendAnalyzer
	retention time.Duration
}

// NewTrendService constructs the service facade. retention is the max age used by
// CleanupExpired calls that do not name one.
func NewTrendService(logger *slog.Logger, analyzer TrendAnalyzer, retention time.Duration) *TrendService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrendService{logger: logger, analyzer: analyzer, retention: retention}
}

// AnalyzeTrend returns the trend of one metric together with its interpretation.
func (s *TrendService) AnalyzeTrend(ctx context.Context, req *api.AnalyzeTrendRequest) (*api.AnalyzeTrendResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.analyzer == nil {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}

	domainReq, err := api.FromAnalyzeTrendRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.logger.Debug("AnalyzeTrend called",
		slog.String("user_id", domainReq.UserID),
		slog.String("metric", domainReq.Metric),
		slog.String("time_range", domainReq.TimeRange))

	trend, err := s.analyzer.Trend(ctx, domainReq.UserID, domainReq.Metric, domainReq.TimeRange)
	if err != nil {
		return nil, s.toStatus("trend analysis failed", err)
	}

	var interpretation models.TrendInterpretation
	if trend == nil {
		interpretation = engine.Interpret(models.RegressionResult{}, 0)
	} else {
		interpretation = engine.Interpret(trend.Result, trend.SampleSize)
	}
	return api.ToAnalyzeTrendResponse(trend, interpretation), nil
}

// InvalidateCache drops cached trends of a user.
func (s *TrendService) InvalidateCache(ctx context.Context, req *api.InvalidateCacheRequest) (*api.InvalidateCacheResponse, error) {
	if req == nil || req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	if s.analyzer == nil {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}

	removed := s.analyzer.Invalidate(ctx, req.UserID, req.Metric, req.TimeRange)
	s.logger.Info("cache invalidated", slog.String("user_id", req.UserID), slog.Int("removed", removed))
	return &api.InvalidateCacheResponse{Removed: removed}, nil
}

// CleanupExpired expires cached trends older than the requested or configured age.
func (s *TrendService) CleanupExpired(ctx context.Context, req *api.CleanupExpiredRequest) (*api.CleanupExpiredResponse, error) {
	if s.analyzer == nil {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}
	maxAge, err := api.ParseMaxAge(req, s.retention)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &api.CleanupExpiredResponse{Removed: s.analyzer.CleanupExpired(ctx, maxAge)}, nil
}

func (s *TrendService) toStatus(msg string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	switch utils.KindOf(err) {
	case utils.KindInvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case utils.KindUnavailable:
		s.logger.Warn(msg, slog.Any("error", err))
		return status.Error(codes.Unavailable, "record store unavailable")
	default:
		s.logger.Error(msg, slog.Any("error", err))
		return status.Error(codes.Internal, msg)
	}
}
