package models

import (
	"fmt"
	"time"
)

// DateLayout is the ISO calendar date format used throughout the system for
// date parsing, serialization, and query parameters.
const DateLayout = "2006-01-02"

// DateOnly truncates a timestamp to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses an ISO calendar date (YYYY-MM-DD). Unlike time.Parse with a
// lenient layout, it rejects impossible calendar dates such as 2024-02-30.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	if t.Format(DateLayout) != s {
		return time.Time{}, fmt.Errorf("parsing time %q: not a valid calendar date", s)
	}
	return t, nil
}

// SoprObservation is one daily SOPR reading.
// SOPR > 1 indicates aggregate profit-taking on the day; < 1 indicates
// realized losses.
type SoprObservation struct {
	Date time.Time `json:"date" db:"date"`
	Sopr float64   `json:"sopr" db:"sopr"`
}

// PriceObservation is one daily closing price in USD.
type PriceObservation struct {
	Date  time.Time `json:"date" db:"date"`
	Price float64   `json:"price" db:"price"`
}

// Validate checks the observation invariants: a set date and a non-negative
// SOPR value.
func (o *SoprObservation) Validate() error {
	if o.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "date cannot be null or zero"}
	}
	if o.Sopr < 0 {
		return &ValidationError{Field: "sopr", Message: "sopr must be non-negative"}
	}
	return nil
}

// Validate checks the observation invariants: a set date and a non-negative
// price.
func (o *PriceObservation) Validate() error {
	if o.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "date cannot be null or zero"}
	}
	if o.Price < 0 {
		return &ValidationError{Field: "price", Message: "price must be non-negative"}
	}
	return nil
}
