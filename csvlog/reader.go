package csvlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/CK6170/Msectrax-go/models"
)

var required = []string{"dac1", "dac2", "adc1", "adc2"}

// ReadFile loads a log written by Writer (or any CSV with the same columns).
func ReadFile(path string) ([]models.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	samples, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}

// Read skips '#' comment lines and reads the header. A numeric first row
// means there is no header: the five standard columns (or the last four of
// them for four-field rows) are assumed and that row is data.
func Read(r io.Reader) ([]models.Sample, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	first, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("csv: empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}

	var header []string
	var pending []string
	if numericRow(first) {
		switch len(first) {
		case len(Columns):
			header = Columns
		case len(Columns) - 1:
			header = Columns[1:]
		default:
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("csv line %d: headerless row has %d fields", line, len(first))
		}
		pending = first
	} else {
		header = make([]string, len(first))
		for i, h := range first {
			header[i] = strings.ToLower(strings.TrimSpace(h))
		}
	}

	idx := map[string]int{}
	for i, h := range header {
		idx[h] = i
	}
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("csv: missing column %q", name)
		}
	}
	tsCol, hasTS := idx["timestamp"]

	var out []models.Sample
	parse := func(rec []string) error {
		line, _ := cr.FieldPos(0)
		var s models.Sample
		fields := []*float64{&s.DAC1, &s.DAC2, &s.ADC1, &s.ADC2}
		for i, name := range required {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx[name]]), 64)
			if err != nil {
				return fmt.Errorf("csv line %d: column %s: %w", line, name, err)
			}
			*fields[i] = v
		}
		if hasTS {
			ts, err := strconv.ParseInt(strings.TrimSpace(rec[tsCol]), 10, 64)
			if err != nil {
				return fmt.Errorf("csv line %d: column timestamp: %w", line, err)
			}
			s.Timestamp = ts
		}
		out = append(out, s)
		return nil
	}

	if pending != nil {
		if err := parse(pending); err != nil {
			return nil, err
		}
	}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		if err := parse(rec); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func numericRow(rec []string) bool {
	for _, f := range rec {
		if _, err := strconv.ParseFloat(strings.TrimSpace(f), 64); err != nil {
			return false
		}
	}
	return len(rec) > 0
}
