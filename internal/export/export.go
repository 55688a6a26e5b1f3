// Package export serializes dated series for download and interchange.
// CSV output matches the dashboard's export format: a header row followed by
// one row per day. JSON output is record-oriented.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/onchainlab/sopr-analytics/internal/models"
)

// csvHeader is the fixed column order for SOPR exports.
var csvHeader = []string{"date", "sopr"}

// WriteSoprCSV writes the series as CSV with a date,sopr header.
// Dates are ISO calendar dates; values keep their full float precision.
func WriteSoprCSV(w io.Writer, observations []models.SoprObservation) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, obs := range observations {
		record := []string{
			obs.Date.Format(models.DateLayout),
			strconv.FormatFloat(obs.Sopr, 'f', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv record for %s: %w",
				obs.Date.Format(models.DateLayout), err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadSoprCSV parses a CSV stream produced by WriteSoprCSV.
// The header row is required and validated.
func ReadSoprCSV(r io.Reader) ([]models.SoprObservation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if header[0] != csvHeader[0] || header[1] != csvHeader[1] {
		return nil, fmt.Errorf("unexpected csv header %v, want %v", header, csvHeader)
	}

	var observations []models.SoprObservation
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv record: %w", err)
		}

		date, err := models.ParseDate(record[0])
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", record[0], err)
		}

		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid sopr value %q: %w", record[1], err)
		}

		observations = append(observations, models.SoprObservation{Date: date, Sopr: value})
	}

	return observations, nil
}

// soprRecord is the JSON wire form of one observation.
type soprRecord struct {
	Date string  `json:"date"`
	Sopr float64 `json:"sopr"`
}

// WriteSoprJSON writes the series as a JSON array of {date, sopr} records
// with ISO calendar dates.
func WriteSoprJSON(w io.Writer, observations []models.SoprObservation) error {
	records := make([]soprRecord, 0, len(observations))
	for _, obs := range observations {
		records = append(records, soprRecord{
			Date: obs.Date.Format(models.DateLayout),
			Sopr: obs.Sopr,
		})
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return nil
}

// ReadSoprJSON parses a JSON stream produced by WriteSoprJSON.
func ReadSoprJSON(r io.Reader) ([]models.SoprObservation, error) {
	var records []soprRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}

	observations := make([]models.SoprObservation, 0, len(records))
	for _, rec := range records {
		date, err := models.ParseDate(rec.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", rec.Date, err)
		}
		observations = append(observations, models.SoprObservation{Date: date, Sopr: rec.Sopr})
	}

	return observations, nil
}
