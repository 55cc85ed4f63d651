package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/healthtrack/trend-engine/internal/models"
	"github.com/healthtrack/trend-engine/internal/utils"
)

var analysisNow = time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)

type fakeRecordSource struct {
	records    []models.DailyRecord
	err        error
	calls      int
	start, end time.Time
}

func (f *fakeRecordSource) GetRecordsByDateRange(_ context.Context, _ string, start, end time.Time) ([]models.DailyRecord, error) {
	f.calls++
	f.start, f.end = start, end
	return f.records, f.err
}

type stubResultCache struct {
	mu      sync.Mutex
	entries map[string]models.AnalysisCacheEntry
	saves   int
}

func newStubResultCache() *stubResultCache {
	return &stubResultCache{entries: make(map[string]models.AnalysisCacheEntry)}
}

func stubKey(userID, metric, timeRange string) string {
	return userID + "\x00" + metric + "\x00" + timeRange
}

func (s *stubResultCache) GetResult(_ context.Context, userID, metric, timeRange string) (models.AnalysisCacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[stubKey(userID, metric, timeRange)]
	return entry, ok
}

func (s *stubResultCache) SaveResult(_ context.Context, entry models.AnalysisCacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.entries[stubKey(entry.UserID, entry.Metric, entry.TimeRange)] = entry
}

func (s *stubResultCache) InvalidateCache(context.Context, string, string, string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[string]models.AnalysisCacheEntry)
	return n
}

func (s *stubResultCache) CleanupExpired(context.Context, time.Duration) int { return 0 }

type failingComputer struct{ err error }

func (f failingComputer) Dispatch(context.Context, []models.Point) (models.RegressionResult, error) {
	return models.RegressionResult{}, f.err
}

func dailyScores(values []float64) []models.DailyRecord {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	records := make([]models.DailyRecord, len(values))
	for i, v := range values {
		records[i] = models.DailyRecord{
			Date:   start.AddDate(0, 0, i),
			Values: map[string]float64{"overall_score": v},
		}
	}
	return records
}

func newTestAnalyzer(source RecordSource, cache ResultCache, computer Computer) *Analyzer {
	return NewAnalyzer(nil, source, cache, nil, computer, AnalyzerOptions{
		Now: func() time.Time { return analysisNow },
	})
}

func TestAnalyzeImprovingScenario(t *testing.T) {
	source := &fakeRecordSource{records: dailyScores([]float64{7, 6, 7, 5, 6, 4, 5, 3, 4, 3, 2, 3, 2, 1})}
	cache := newStubResultCache()
	analyzer := newTestAnalyzer(source, cache, nil)

	result, err := analyzer.Analyze(context.Background(), "user-1", "overall_score", "30d")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Less(t, result.Slope, 0.0)
	require.Greater(t, result.RSquared, 0.5)
	require.Equal(t, models.DirectionImproving, Interpret(*result, 14).Direction)

	require.Equal(t, analysisNow.AddDate(0, 0, -30), source.start)
	require.Equal(t, analysisNow, source.end)
	require.Equal(t, 1, cache.saves)

	entry, ok := cache.GetResult(context.Background(), "user-1", "overall_score", "30d")
	require.True(t, ok)
	require.Equal(t, *result, entry.Result)
	require.Equal(t, 14, entry.SampleSize)
	require.Equal(t, analysisNow, entry.CreatedAt)
}

func TestAnalyzeServesCacheHit(t *testing.T) {
	source := &fakeRecordSource{records: dailyScores([]float64{7, 6, 7, 5, 6, 4, 5, 3, 4, 3, 2, 3, 2, 1})}
	cache := newStubResultCache()
	analyzer := newTestAnalyzer(source, cache, nil)
	ctx := context.Background()

	first, err := analyzer.Trend(ctx, "user-1", "overall_score", "all")
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := analyzer.Trend(ctx, "user-1", "overall_score", "all")
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.Result, second.Result)
	require.Equal(t, 14, second.SampleSize)
	require.Equal(t, 1, source.calls, "cache hit must not fetch records")
}

func TestAnalyzeTooFewRecords(t *testing.T) {
	source := &fakeRecordSource{records: dailyScores([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13})}
	cache := newStubResultCache()
	computer := &countingComputer{}
	analyzer := newTestAnalyzer(source, cache, computer)

	result, err := analyzer.Analyze(context.Background(), "user-1", "overall_score", "30d")
	require.NoError(t, err)
	require.Nil(t, result)
	require.Zero(t, computer.calls)
	require.Zero(t, cache.saves)
}

func TestAnalyzeSparseDerivedMetric(t *testing.T) {
	records := dailyScores([]float64{7, 6, 7, 5, 6, 4, 5, 3, 4, 3, 2, 3, 2, 1, 1})
	for i := 0; i < 5; i++ {
		records[i].Entries = map[string][]models.Entry{"symptom": {{ID: "migraine", Severity: 3}}}
	}
	cache := newStubResultCache()
	analyzer := newTestAnalyzer(&fakeRecordSource{records: records}, cache, nil)

	result, err := analyzer.Analyze(context.Background(), "user-1", "symptom:migraine", "30d")
	require.NoError(t, err)
	require.Nil(t, result)
	require.Zero(t, cache.saves)
}

func TestAnalyzeUnknownMetricHasNoTrend(t *testing.T) {
	records := dailyScores([]float64{7, 6, 7, 5, 6, 4, 5, 3, 4, 3, 2, 3, 2, 1})
	analyzer := newTestAnalyzer(&fakeRecordSource{records: records}, newStubResultCache(), nil)

	result, err := analyzer.Analyze(context.Background(), "user-1", "blood_pressure", "30d")
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestAnalyzeComputeErrorIsNoTrend(t *testing.T) {
	records := dailyScores([]float64{7, 6, 7, 5, 6, 4, 5, 3, 4, 3, 2, 3, 2, 1})
	cache := newStubResultCache()
	analyzer := newTestAnalyzer(&fakeRecordSource{records: records}, cache, failingComputer{err: &DegenerateInputError{Points: 14}})

	result, err := analyzer.Analyze(context.Background(), "user-1", "overall_score", "30d")
	require.NoError(t, err)
	require.Nil(t, result)
	require.Zero(t, cache.saves)
}

func TestAnalyzeContextErrorPropagates(t *testing.T) {
	records := dailyScores([]float64{7, 6, 7, 5, 6, 4, 5, 3, 4, 3, 2, 3, 2, 1})
	analyzer := newTestAnalyzer(&fakeRecordSource{records: records}, newStubResultCache(), failingComputer{err: context.Canceled})

	_, err := analyzer.Analyze(context.Background(), "user-1", "overall_score", "30d")
	require.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeRecordStoreFailure(t *testing.T) {
	storeErr := errors.New("connection refused")
	cache := newStubResultCache()
	analyzer := newTestAnalyzer(&fakeRecordSource{err: storeErr}, cache, nil)

	result, err := analyzer.Analyze(context.Background(), "user-1", "overall_score", "1y")
	require.Nil(t, result)
	require.ErrorIs(t, err, storeErr)
	require.Equal(t, utils.KindUnavailable, utils.KindOf(err))
	require.Zero(t, cache.saves)
}

func TestAnalyzeRejectsInvalidRequests(t *testing.T) {
	source := &fakeRecordSource{}
	analyzer := newTestAnalyzer(source, newStubResultCache(), nil)

	_, err := analyzer.Analyze(context.Background(), "user-1", "overall_score", "fortnight")
	require.ErrorIs(t, err, utils.ErrInvalidTimeRange)
	require.Equal(t, utils.KindInvalidInput, utils.KindOf(err))

	_, err = analyzer.Analyze(context.Background(), "", "overall_score", "30d")
	require.Equal(t, utils.KindInvalidInput, utils.KindOf(err))
	require.Zero(t, source.calls)
}

func TestAnalyzeTrimOutliers(t *testing.T) {
	values := []float64{5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 60}
	source := &fakeRecordSource{records: dailyScores(values)}

	plain := newTestAnalyzer(source, nil, nil)
	raw, err := plain.Analyze(context.Background(), "user-1", "overall_score", "all")
	require.NoError(t, err)
	require.Greater(t, raw.Slope, 0.1)

	trimming := NewAnalyzer(nil, source, nil, nil, nil, AnalyzerOptions{TrimOutliers: true, Now: func() time.Time { return analysisNow }})
	trimmed, err := trimming.Analyze(context.Background(), "user-1", "overall_score", "all")
	require.NoError(t, err)
	require.InDelta(t, 0, trimmed.Slope, 1e-9)
	require.Equal(t, 1.0, trimmed.RSquared)
}

type countingComputer struct{ calls int }

func (c *countingComputer) Dispatch(_ context.Context, points []models.Point) (models.RegressionResult, error) {
	c.calls++
	return Compute(points)
}
