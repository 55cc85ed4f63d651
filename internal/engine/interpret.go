package engine

import (
	"math"

	"github.com/healthtrack/trend-engine/internal/models"
)

// StableSlope is the absolute slope (units per day) at or below which a trend is stable.
const StableSlope = 0.1

// Interpret labels a regression. Metrics follow the "higher value = worse"
// convention of severity scales, so a rising line is worsening and a falling line
// is improving. Samples under DefaultMinPoints are never interpreted.
func Interpret(result models.RegressionResult, sampleSize int) models.TrendInterpretation {
	if sampleSize < DefaultMinPoints {
		return models.TrendInterpretation{
			Direction:  models.DirectionInsufficientData,
			Confidence: models.ConfidenceNotApplicable,
		}
	}

	direction := models.DirectionStable
	switch {
	case math.Abs(result.Slope) <= StableSlope:
	case result.Slope > 0:
		direction = models.DirectionWorsening
	default:
		direction = models.DirectionImproving
	}

	return models.TrendInterpretation{
		Direction:  direction,
		Confidence: confidenceFor(result.RSquared),
	}
}

func confidenceFor(rSquared float64) models.Confidence {
	pct := rSquared * 100
	switch {
	case pct >= 90:
		return models.ConfidenceVeryHigh
	case pct >= 70:
		return models.ConfidenceHigh
	case pct >= 50:
		return models.ConfidenceModerate
	default:
		return models.ConfidenceLow
	}
}
