package models

import "time"

// DailyRecord is one day of tracked health data for a user.
type DailyRecord struct {
	Date time.Time
	// Values holds direct per-day fields such as overall_score or pain_level.
	Values map[string]float64
	// Entries holds tracked items grouped by kind (symptom, condition, ...).
	Entries map[string][]Entry
}

// Entry is a tracked item recorded on a given day.
type Entry struct {
	ID       string
	Severity float64
}
