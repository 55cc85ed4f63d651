package utils

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveTimeRange(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	tr, err := ResolveTimeRange("30d", now)
	require.NoError(t, err)
	require.Equal(t, now.AddDate(0, 0, -30), tr.Start)
	require.Equal(t, now, tr.End)

	tr, err = ResolveTimeRange("2y", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2022, 6, 15, 12, 0, 0, 0, time.UTC), tr.Start)

	tr, err = ResolveTimeRange("all", now)
	require.NoError(t, err)
	require.Equal(t, int64(0), tr.Start.Unix())
}

func TestResolveTimeRangeRejectsMalformed(t *testing.T) {
	for _, value := range []string{"", "d", "30", "0d", "-3d", "12w", "abc"} {
		_, err := ResolveTimeRange(value, time.Now())
		require.ErrorIs(t, err, ErrInvalidTimeRange, value)
	}
}

func TestKindOf(t *testing.T) {
	err := NewKindError(KindUnavailable, "records.fetch", "fetch failed", errors.New("boom"))
	wrapped := errors.Join(errors.New("outer"), err)
	require.Equal(t, KindUnavailable, KindOf(wrapped))
	require.Equal(t, KindInternal, KindOf(errors.New("plain")))
	require.EqualError(t, err, "records.fetch: fetch failed: boom")
}

func TestNewLoggerToHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn", true)
	logger.Info("hidden")
	logger.Warn("shown", slog.Int("n", 1))
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestDurationDaysIsOrderInsensitive(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(36 * time.Hour)
	require.Equal(t, 1.5, DurationDays(start, end))
	require.Equal(t, 1.5, DurationDays(end, start))
	require.Equal(t, "analyze: no source", NewAppError("analyze", "no source", nil).Error())
}
