package extractors

import (
	"math"
	"strconv"
	"strings"

	"github.com/healthtrack/trend-engine/internal/models"
	"github.com/healthtrack/trend-engine/internal/utils"
)

const millisPerDay = 24 * 60 * 60 * 1000

// Metric kinds recorded in series metadata.
const (
	KindDirect  = "direct"
	KindDerived = "derived"
	KindUnknown = "unknown"
)

// PointExtractor maps daily records onto the numeric series of one metric.
type PointExtractor struct {
	catalog *Catalog
}

// NewPointExtractor creates an extractor. A nil catalog selects DefaultCatalog.
func NewPointExtractor(catalog *Catalog) *PointExtractor {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &PointExtractor{catalog: catalog}
}

// ParseMetric splits a "<kind>:<id>" metric. Metrics without a colon are direct.
func ParseMetric(metric string) (kind, id string, derived bool) {
	kind, id, derived = strings.Cut(metric, ":")
	if !derived {
		return metric, "", false
	}
	return kind, id, true
}

// Extract returns one point per record that carries a value for metric. A direct
// metric reads the record field of that name whether or not the catalog lists it;
// derived metrics of a kind outside the catalog produce no points.
func (e *PointExtractor) Extract(records []models.DailyRecord, metric string) []models.Point {
	kind, id, derived := ParseMetric(metric)
	switch {
	case derived && id != "" && e.catalog.IsDerived(kind):
		return extractDerived(records, kind, id)
	case !derived && metric != "":
		return extractDirect(records, metric)
	default:
		return nil
	}
}

// ExtractSeries wraps Extract with metadata describing the extraction.
func (e *PointExtractor) ExtractSeries(records []models.DailyRecord, metric string) models.MetricSeries {
	points := e.Extract(records, metric)
	return models.MetricSeries{
		Points: points,
		Metadata: map[string]string{
			"metric":     metric,
			"kind":       e.kindOf(metric),
			"catalogued": strconv.FormatBool(e.catalogued(metric)),
			"records":    strconv.Itoa(len(records)),
		},
	}
}

func (e *PointExtractor) kindOf(metric string) string {
	kind, id, derived := ParseMetric(metric)
	switch {
	case derived && id != "" && e.catalog.IsDerived(kind):
		return KindDerived
	case !derived && metric != "":
		return KindDirect
	default:
		return KindUnknown
	}
}

func (e *PointExtractor) catalogued(metric string) bool {
	kind, id, derived := ParseMetric(metric)
	if derived {
		return id != "" && e.catalog.IsDerived(kind)
	}
	return e.catalog.IsDirect(metric)
}

func extractDirect(records []models.DailyRecord, field string) []models.Point {
	points := make([]models.Point, 0, len(records))
	for _, record := range records {
		value, ok := record.Values[field]
		if !ok || !finite(value) {
			continue
		}
		points = append(points, models.Point{X: utils.EpochMillis(record.Date), Y: value})
	}
	return points
}

func extractDerived(records []models.DailyRecord, kind, id string) []models.Point {
	points := make([]models.Point, 0)
	for _, record := range records {
		severity, found := math.Inf(-1), false
		for _, entry := range record.Entries[kind] {
			if entry.ID != id || !finite(entry.Severity) {
				continue
			}
			found = true
			severity = math.Max(severity, entry.Severity)
		}
		if found {
			points = append(points, models.Point{X: utils.EpochMillis(record.Date), Y: severity})
		}
	}
	return points
}

// DayScale returns a copy of points with X converted from epoch milliseconds to
// fractional days since the epoch, so regression slopes read as units per day.
func DayScale(points []models.Point) []models.Point {
	if points == nil {
		return nil
	}
	scaled := make([]models.Point, len(points))
	for i, p := range points {
		scaled[i] = models.Point{X: p.X / millisPerDay, Y: p.Y}
	}
	return scaled
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
