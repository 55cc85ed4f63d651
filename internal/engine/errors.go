package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData matches regressions attempted on fewer than two points.
	ErrInsufficientData = errors.New("insufficient data for regression")
	// ErrDegenerateInput matches regressions whose x values have no spread.
	ErrDegenerateInput = errors.New("degenerate regression input")
)

// InsufficientDataError reports a regression over fewer than two points.
type InsufficientDataError struct {
	Points int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("regression needs at least %d points, got %d", minRegressionPoints, e.Points)
}

// Is lets errors.Is(err, ErrInsufficientData) match.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// DegenerateInputError reports a regression whose x values are all identical.
type DegenerateInputError struct {
	Points int
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("slope undefined: all %d x values are identical", e.Points)
}

// Is lets errors.Is(err, ErrDegenerateInput) match.
func (e *DegenerateInputError) Is(target error) bool {
	return target == ErrDegenerateInput
}

// isRegressionError reports whether err is one of the regression contract errors.
func isRegressionError(err error) bool {
	return errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrDegenerateInput)
}

// Validation failures reported by ValidateInput.
var (
	ErrTooFewPoints = errors.New("too few points")
	ErrNonFinite    = errors.New("non-finite coordinate")
	ErrNoXVariance  = errors.New("x values have no variance")
)
