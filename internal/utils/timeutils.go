package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/healthtrack/trend-engine/internal/models"
)

// TimeRangeAll selects every record a user has.
const TimeRangeAll = "all"

// ErrInvalidTimeRange reports a time range that is not <N>d, <N>y or "all".
var ErrInvalidTimeRange = errors.New("invalid time range")

// ResolveTimeRange turns a relative window such as "30d", "1y" or "all" into
// absolute bounds ending at now.
func ResolveTimeRange(value string, now time.Time) (models.TimeRange, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == TimeRangeAll {
		return models.TimeRange{Start: time.Unix(0, 0).UTC(), End: now}, nil
	}
	if len(value) < 2 {
		return models.TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, value)
	}

	n, err := strconv.Atoi(value[:len(value)-1])
	if err != nil || n <= 0 {
		return models.TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, value)
	}

	switch value[len(value)-1] {
	case 'd':
		return models.TimeRange{Start: now.AddDate(0, 0, -n), End: now}, nil
	case 'y':
		return models.TimeRange{Start: now.AddDate(-n, 0, 0), End: now}, nil
	default:
		return models.TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, value)
	}
}

// EpochMillis converts a time into fractional milliseconds since the Unix epoch.
func EpochMillis(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// DurationDays converts a pair of timestamps into a day count.
func DurationDays(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return end.Sub(start).Hours() / 24
}
