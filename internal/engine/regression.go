package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/healthtrack/trend-engine/internal/models"
)

const (
	minRegressionPoints = 2

	// DefaultMinPoints is the sample size below which a trend is not meaningful.
	DefaultMinPoints = 14
)

// epsilon is the float64 machine epsilon used for every "approximately zero" test.
var epsilon = math.Nextafter(1, 2) - 1

// Compute fits y = slope*x + intercept by ordinary least squares.
//
// Sums are taken around the means, which is algebraically the textbook
// (nΣxy − ΣxΣy)/(nΣx² − (Σx)²) form but keeps precision when x holds epoch
// timestamps. Points need not be sorted and are not modified.
func Compute(points []models.Point) (models.RegressionResult, error) {
	n := len(points)
	if n < minRegressionPoints {
		return models.RegressionResult{}, &InsufficientDataError{Points: n}
	}

	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	nf := float64(n)
	meanX, meanY := sumX/nf, sumY/nf

	var ssXX, ssXY, ssYY float64
	for _, p := range points {
		dx, dy := p.X-meanX, p.Y-meanY
		ssXX += dx * dx
		ssXY += dx * dy
		ssYY += dy * dy
	}

	// n*ssXX is the denominator of the textbook slope formula.
	if math.Abs(nf*ssXX) <= epsilon {
		return models.RegressionResult{}, &DegenerateInputError{Points: n}
	}

	slope := ssXY / ssXX
	intercept := (sumY - slope*sumX) / nf

	var rSquared float64
	if ssYY <= epsilon {
		// Constant y: a flat line is a perfect fit, anything else is not.
		if math.Abs(slope) <= epsilon {
			rSquared = 1
		}
	} else {
		var ssRes float64
		for _, p := range points {
			r := p.Y - (slope*p.X + intercept)
			ssRes += r * r
		}
		rSquared = 1 - ssRes/ssYY
	}

	return models.RegressionResult{Slope: slope, Intercept: intercept, RSquared: rSquared}, nil
}

// Predict evaluates the fitted line at x.
func Predict(x float64, result models.RegressionResult) float64 {
	return result.Slope*x + result.Intercept
}

// ValidationResult is the advisory verdict of ValidateInput.
type ValidationResult struct {
	IsValid bool
	Err     error
}

// ValidateInput checks that points are numerous, finite and spread along x. A
// minPoints of zero or less selects DefaultMinPoints.
func ValidateInput(points []models.Point, minPoints int) ValidationResult {
	if minPoints <= 0 {
		minPoints = DefaultMinPoints
	}
	if len(points) < minPoints {
		return ValidationResult{Err: fmt.Errorf("%w: need %d, got %d", ErrTooFewPoints, minPoints, len(points))}
	}

	var sumX float64
	for i, p := range points {
		if !isFinite(p.X) || !isFinite(p.Y) {
			return ValidationResult{Err: fmt.Errorf("%w at index %d", ErrNonFinite, i)}
		}
		sumX += p.X
	}

	meanX := sumX / float64(len(points))
	var variance float64
	for _, p := range points {
		d := p.X - meanX
		variance += d * d
	}
	variance /= float64(len(points))
	if variance <= epsilon {
		return ValidationResult{Err: ErrNoXVariance}
	}

	return ValidationResult{IsValid: true}
}

// RemoveOutliers drops points whose y lies outside [Q1 - 1.5*IQR, Q3 + 1.5*IQR].
// Fewer than four points are returned unchanged (as a copy).
func RemoveOutliers(points []models.Point) []models.Point {
	if len(points) < 4 {
		return append([]models.Point(nil), points...)
	}

	ys := make([]float64, len(points))
	for i, p := range points {
		ys[i] = p.Y
	}
	sort.Float64s(ys)

	q1 := quantile(ys, 0.25)
	q3 := quantile(ys, 0.75)
	iqr := q3 - q1
	lower, upper := q1-1.5*iqr, q3+1.5*iqr

	kept := make([]models.Point, 0, len(points))
	for _, p := range points {
		if p.Y >= lower && p.Y <= upper {
			kept = append(kept, p)
		}
	}
	return kept
}

// quantile interpolates linearly between the order statistics of sorted.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
