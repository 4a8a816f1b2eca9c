// Package csvlog reads and writes the acquisition logs: one "# saved by"
// comment line, a header row, then one integer row per sample.
package csvlog

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

// Columns is the standard acquisition log layout.
var Columns = []string{"timestamp", "dac1", "dac2", "adc1", "adc2"}

// FileStamp is the layout used in log file names.
const FileStamp = "2006-01-02T15.04.05"

// FileName returns "<stamp><suffix>.csv", e.g. 2024-03-01T10.22.05H1.csv.
func FileName(t time.Time, suffix string) string {
	return t.Format(FileStamp) + suffix + ".csv"
}

// Writer is a buffered, concurrency-safe CSV log. Rows are flushed to the OS
// after every write so that a killed acquisition leaves a usable file.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	csv     *csv.Writer
	columns []string
	rows    uint64
}

// Create opens path and writes the comment and header lines.
func Create(path, program string, columns []string, now time.Time) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv create %s: %w", path, err)
	}
	w, err := newWriter(f, program, columns, now)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.file = f
	return w, nil
}

// NewWriter writes a log to an arbitrary stream; Close does not close it.
func NewWriter(out io.Writer, program string, columns []string, now time.Time) (*Writer, error) {
	return newWriter(out, program, columns, now)
}

func newWriter(out io.Writer, program string, columns []string, now time.Time) (*Writer, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("csv: no columns")
	}
	bw := bufio.NewWriterSize(out, 64*1024)
	w := &Writer{buf: bw, csv: csv.NewWriter(bw), columns: append([]string(nil), columns...)}
	if _, err := fmt.Fprintf(bw, "# saved by %s at %s\n", program, now.Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("csv write comment: %w", err)
	}
	if err := w.csv.Write(w.columns); err != nil {
		return nil, fmt.Errorf("csv write header: %w", err)
	}
	if err := w.flushLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteInts appends one row; len(vals) must match the header.
func (w *Writer) WriteInts(vals ...int64) error {
	if len(vals) != len(w.columns) {
		return fmt.Errorf("csv row: %d values for %d columns", len(vals), len(w.columns))
	}
	row := make([]string, len(vals))
	for i, v := range vals {
		row[i] = strconv.FormatInt(v, 10)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("csv row: %w", err)
	}
	w.rows++
	return w.flushLocked()
}

func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("csv flush: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("csv flush: %w", err)
	}
	return nil
}

// Close flushes and closes the file. Safe on nil and safe to repeat.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.flushLocked()
	if w.file != nil {
		if cerr := w.file.Close(); err == nil {
			err = cerr
		}
		w.file = nil
	}
	return err
}

// Rows returns the number of data rows written (excludes header).
func (w *Writer) Rows() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}
