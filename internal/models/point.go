package models

// Point is a single (x, y) sample of a metric series. X is a timestamp in
// milliseconds since the Unix epoch unless a caller rescales it.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MetricSeries carries extracted points between the extractor and the engine.
type MetricSeries struct {
	Points   []Point
	Metadata map[string]string
}

// Len reports the number of points in the series.
func (s MetricSeries) Len() int {
	return len(s.Points)
}
