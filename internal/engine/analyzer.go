package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/healthtrack/trend-engine/internal/extractors"
	"github.com/healthtrack/trend-engine/internal/metrics"
	"github.com/healthtrack/trend-engine/internal/models"
	"github.com/healthtrack/trend-engine/internal/utils"
)

// DefaultMinRecords is the raw record count below which no regression is attempted.
const DefaultMinRecords = 14

// RecordSource loads a user's daily records. Implementations live in internal/repo.
type RecordSource interface {
	GetRecordsByDateRange(ctx context.Context, userID string, start, end time.Time) ([]models.DailyRecord, error)
}

// ResultCache stores regressions per (user, metric, time range).
type ResultCache interface {
	GetResult(ctx context.Context, userID, metric, timeRange string) (models.AnalysisCacheEntry, bool)
	SaveResult(ctx context.Context, entry models.AnalysisCacheEntry)
	InvalidateCache(ctx context.Context, userID, metric, timeRange string) int
	CleanupExpired(ctx context.Context, maxAge time.Duration) int
}

// Computer runs a regression, possibly off the calling goroutine.
type Computer interface {
	Dispatch(ctx context.Context, points []models.Point) (models.RegressionResult, error)
}

// AnalyzerOptions tunes the analysis gates.
type AnalyzerOptions struct {
	MinRecords   int
	MinPoints    int
	TrimOutliers bool
	Now          func() time.Time
}

// Analyzer orchestrates cache lookup, record fetch, extraction, validation and
// regression for one trend request.
type Analyzer struct {
	logger    *slog.Logger
	records   RecordSource
	cache     ResultCache
	extractor *extractors.PointExtractor
	computer  Computer
	opts      AnalyzerOptions
}

// NewAnalyzer constructs an analyzer. A nil extractor selects the default catalog
// and a nil computer runs regressions inline.
func NewAnalyzer(
	logger *slog.Logger,
	records RecordSource,
	cache ResultCache,
	extractor *extractors.PointExtractor,
	computer Computer,
	opts AnalyzerOptions,
) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = extractors.NewPointExtractor(nil)
	}
	if computer == nil {
		computer = NewDispatcher(logger, DispatcherConfig{})
	}
	if cache == nil {
		cache = noCache{}
	}
	if opts.MinRecords <= 0 {
		opts.MinRecords = DefaultMinRecords
	}
	if opts.MinPoints <= 0 {
		opts.MinPoints = DefaultMinPoints
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Analyzer{
		logger:    logger,
		records:   records,
		cache:     cache,
		extractor: extractor,
		computer:  computer,
		opts:      opts,
	}
}

// Analyze returns the trend line of metric over timeRange for userID, or nil when
// the data does not support a trend. Errors are reserved for invalid requests and
// record store failures.
func (a *Analyzer) Analyze(ctx context.Context, userID, metric, timeRange string) (*models.RegressionResult, error) {
	trend, err := a.Trend(ctx, userID, metric, timeRange)
	if err != nil || trend == nil {
		return nil, err
	}
	result := trend.Result
	return &result, nil
}

// Trend is Analyze with the sample size and cache provenance of the result.
func (a *Analyzer) Trend(ctx context.Context, userID, metric, timeRange string) (*models.Trend, error) {
	start := time.Now()
	trend, outcome, err := a.trend(ctx, userID, metric, timeRange)
	metrics.ObserveAnalysis(time.Since(start), outcome)
	return trend, err
}

func (a *Analyzer) trend(ctx context.Context, userID, metric, timeRange string) (*models.Trend, string, error) {
	if a.records == nil {
		return nil, metrics.OutcomeError, utils.NewAppError("analyze", "record source not configured", nil)
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(metric) == "" {
		return nil, metrics.OutcomeError, utils.NewKindError(utils.KindInvalidInput, "analyze", "user and metric are required", nil)
	}

	now := a.opts.Now()
	window, err := utils.ResolveTimeRange(timeRange, now)
	if err != nil {
		return nil, metrics.OutcomeError, utils.NewKindError(utils.KindInvalidInput, "analyze", "resolve time range", err)
	}

	logger := a.logger.With(slog.String("user_id", userID), slog.String("metric", metric), slog.String("time_range", timeRange))

	if entry, ok := a.cache.GetResult(ctx, userID, metric, timeRange); ok {
		logger.Debug("trend served from cache", slog.Time("created_at", entry.CreatedAt))
		return &models.Trend{
			Result:     entry.Result,
			SampleSize: entry.SampleSize,
			Cached:     true,
			ComputedAt: entry.CreatedAt,
		}, metrics.OutcomeCacheHit, nil
	}

	records, err := a.records.GetRecordsByDateRange(ctx, userID, window.Start, window.End)
	if err != nil {
		return nil, metrics.OutcomeError, utils.NewKindError(utils.KindUnavailable, "analyze", "fetch daily records", err)
	}
	if len(records) < a.opts.MinRecords {
		logger.Debug("not enough records for a trend",
			slog.Int("records", len(records)),
			slog.Float64("window_days", utils.DurationDays(window.Start, window.End)))
		return nil, metrics.OutcomeNoTrend, nil
	}

	series := a.extractor.ExtractSeries(records, metric)
	points := extractors.DayScale(series.Points)
	if a.opts.TrimOutliers {
		points = RemoveOutliers(points)
	}

	if verdict := ValidateInput(points, a.opts.MinPoints); !verdict.IsValid {
		logger.Debug("series rejected", slog.String("kind", series.Metadata["kind"]), slog.Any("reason", verdict.Err))
		return nil, metrics.OutcomeNoTrend, nil
	}

	result, err := a.computer.Dispatch(ctx, points)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, metrics.OutcomeError, err
		}
		logger.Debug("regression unavailable", slog.Any("error", err))
		return nil, metrics.OutcomeNoTrend, nil
	}

	entry := models.AnalysisCacheEntry{
		UserID:     userID,
		Metric:     metric,
		TimeRange:  timeRange,
		Result:     result,
		SampleSize: len(points),
		CreatedAt:  now,
	}
	a.cache.SaveResult(ctx, entry)

	return &models.Trend{Result: result, SampleSize: len(points), ComputedAt: now}, metrics.OutcomeComputed, nil
}

// Invalidate drops cached trends for a user; empty metric or timeRange match all.
func (a *Analyzer) Invalidate(ctx context.Context, userID, metric, timeRange string) int {
	return a.cache.InvalidateCache(ctx, userID, metric, timeRange)
}

// CleanupExpired drops cached trends older than maxAge.
func (a *Analyzer) CleanupExpired(ctx context.Context, maxAge time.Duration) int {
	return a.cache.CleanupExpired(ctx, maxAge)
}

type noCache struct{}

func (noCache) GetResult(context.Context, string, string, string) (models.AnalysisCacheEntry, bool) {
	return models.AnalysisCacheEntry{}, false
}

func (noCache) SaveResult(context.Context, models.AnalysisCacheEntry) {}

func (noCache) InvalidateCache(context.Context, string, string, string) int { return 0 }

func (noCache) CleanupExpired(context.Context, time.Duration) int { return 0 }
