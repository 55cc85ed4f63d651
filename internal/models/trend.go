package models

import "time"

// RegressionResult is the least-squares fit of a point sequence.
//
// RSquared is the raw 1 - SSres/SStot value. It is not clamped: floating-point
// cancellation on near-constant series can push it slightly below zero.
type RegressionResult struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	RSquared  float64 `json:"r_squared"`
}

// Direction labels the sign of a trend.
type Direction string

const (
	DirectionImproving        Direction = "improving"
	DirectionWorsening        Direction = "worsening"
	DirectionStable           Direction = "stable"
	DirectionInsufficientData Direction = "Insufficient data"
)

// Confidence is a bucketed label derived from R².
type Confidence string

const (
	ConfidenceVeryHigh      Confidence = "very-high"
	ConfidenceHigh          Confidence = "high"
	ConfidenceModerate      Confidence = "moderate"
	ConfidenceLow           Confidence = "low"
	ConfidenceNotApplicable Confidence = "N/A"
)

// TrendInterpretation is the human-facing reading of a regression.
type TrendInterpretation struct {
	Direction  Direction  `json:"direction"`
	Confidence Confidence `json:"confidence"`
}

// Trend is the detailed answer of an analysis: the regression plus the context a
// caller needs to interpret it.
type Trend struct {
	Result     RegressionResult
	SampleSize int
	Cached     bool
	ComputedAt time.Time
}
