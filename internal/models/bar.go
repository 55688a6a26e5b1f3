// Package models provides data structures and validation for SOPR analytics data.
// This package contains the core data models shared across the warehouse, the
// data access layer, and the price ingestion job: daily OHLCV price bars and
// the two canonical dashboard series rows.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar represents a single daily OHLCV bar for one asset.
// Prices and volume are carried as decimal strings until the warehouse load,
// which converts them to 64-bit floats under the fixed table schema.
type PriceBar struct {
	Date   time.Time `json:"date" db:"date"`
	Open   string    `json:"open" db:"open"`
	High   string    `json:"high" db:"high"`
	Low    string    `json:"low" db:"low"`
	Close  string    `json:"close" db:"close"`
	Volume string    `json:"volume" db:"volume"`
}

// ValidationError represents a bar validation error with field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message describes the validation failure
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate performs comprehensive validation on the bar data.
// It checks that all price fields are valid decimal numbers greater than zero,
// volume is non-negative, OHLC relationships hold (high >= max(open, close),
// low <= min(open, close)), and the date is set.
// Returns a ValidationError if any check fails.
func (b *PriceBar) Validate() error {
	if b.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "date cannot be null or zero"}
	}

	open, err := decimal.NewFromString(b.Open)
	if err != nil {
		return &ValidationError{Field: "open", Message: fmt.Sprintf("invalid open price format: %v", err)}
	}

	high, err := decimal.NewFromString(b.High)
	if err != nil {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("invalid high price format: %v", err)}
	}

	low, err := decimal.NewFromString(b.Low)
	if err != nil {
		return &ValidationError{Field: "low", Message: fmt.Sprintf("invalid low price format: %v", err)}
	}

	close, err := decimal.NewFromString(b.Close)
	if err != nil {
		return &ValidationError{Field: "close", Message: fmt.Sprintf("invalid close price format: %v", err)}
	}

	volume, err := decimal.NewFromString(b.Volume)
	if err != nil {
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("invalid volume format: %v", err)}
	}

	zero := decimal.Zero
	if open.LessThanOrEqual(zero) {
		return &ValidationError{Field: "open", Message: "open price must be greater than 0"}
	}
	if high.LessThanOrEqual(zero) {
		return &ValidationError{Field: "high", Message: "high price must be greater than 0"}
	}
	if low.LessThanOrEqual(zero) {
		return &ValidationError{Field: "low", Message: "low price must be greater than 0"}
	}
	if close.LessThanOrEqual(zero) {
		return &ValidationError{Field: "close", Message: "close price must be greater than 0"}
	}
	if volume.LessThan(zero) {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	maxOpenClose := decimal.Max(open, close)
	if high.LessThan(maxOpenClose) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close) (%s)", high, maxOpenClose),
		}
	}

	minOpenClose := decimal.Min(open, close)
	if low.GreaterThan(minOpenClose) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close) (%s)", low, minOpenClose),
		}
	}

	return nil
}

// GetCloseDecimal returns the close price as a decimal.Decimal for precise calculations.
func (b *PriceBar) GetCloseDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(b.Close)
}

// GetVolumeDecimal returns the volume as a decimal.Decimal for precise calculations.
func (b *PriceBar) GetVolumeDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(b.Volume)
}

// TruncateDate strips the time-of-day component, leaving a UTC calendar date.
// Warehouse rows are keyed by calendar date, so bars are normalized through
// this before load.
func (b *PriceBar) TruncateDate() {
	b.Date = DateOnly(b.Date)
}

// String returns a human-readable representation of the bar.
// This method implements the fmt.Stringer interface.
func (b *PriceBar) String() string {
	return fmt.Sprintf("PriceBar{Date: %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		b.Date.Format(DateLayout), b.Open, b.High, b.Low, b.Close, b.Volume)
}

// NewPriceBar creates a new PriceBar with the provided values and validates it.
// All price and volume values should be provided as decimal strings; the date
// is truncated to a UTC calendar date.
func NewPriceBar(date time.Time, open, high, low, close, volume string) (*PriceBar, error) {
	bar := &PriceBar{
		Date:   DateOnly(date),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: volume,
	}

	if err := bar.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create price bar: %w", err)
	}

	return bar, nil
}
