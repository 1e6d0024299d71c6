// Package output exports fetched entries to files.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"rpiweatherd/internal/model"
)

// CSVHeader is the first row written by EncodeCSV.
var CSVHeader = []string{"id", "record_date", "temperature", "humidity", "location", "device_name", "tempunit"}

// WriteJSON writes entries to path as an indented JSON array.
func WriteJSON(path string, entries []model.Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create json: %w", err)
	}
	defer f.Close()
	if err := EncodeJSON(f, entries); err != nil {
		return err
	}
	return f.Close()
}

func EncodeJSON(w io.Writer, entries []model.Entry) error {
	if entries == nil {
		entries = []model.Entry{}
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// WriteCSV writes entries to path, one row per entry.
func WriteCSV(path string, entries []model.Entry, units model.Units) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()
	if err := EncodeCSV(f, entries, units); err != nil {
		return err
	}
	return f.Close()
}

// EncodeCSV writes CSVHeader followed by the entries.
func EncodeCSV(out io.Writer, entries []model.Entry, units model.Units) error {
	w := csv.NewWriter(out)
	if err := w.Write(CSVHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range entries {
		rec := []string{
			strconv.FormatInt(e.ID, 10),
			e.RecordDate,
			formatFloat(e.Temperature),
			formatFloat(e.Humidity),
			e.Location,
			e.DeviceName,
			units.Temp,
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
