// Package table reads and writes the CSV files mailmonkey exchanges with
// spreadsheets and the mail house.
//
// Reads tolerate a UTF-8 byte order mark, ragged rows and stray quotes. Writes
// are atomic: content is rendered in memory, written to a temp file in the
// destination directory and renamed over the target.
package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Table is a parsed CSV file.
type Table struct {
	// Header holds column names in file order, trimmed.
	Header []string
	// Rows maps header name to trimmed cell value. Columns missing from a
	// short row read as "".
	Rows []map[string]string
	// Lines holds the 1-based file line each row starts on.
	Lines []int
}

// Line returns the 1-based file line row i starts on. Tables built without
// line information count the header as line 1 and one line per row.
func (t *Table) Line(i int) int {
	if i < len(t.Lines) {
		return t.Lines[i]
	}
	return i + 2
}

// HasColumn reports whether the header contains name exactly.
func (t *Table) HasColumn(name string) bool {
	for _, h := range t.Header {
		if h == name {
			return true
		}
	}
	return false
}

// Read parses the CSV file at path.
func Read(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

// ReadIfExists is Read, returning (nil, nil) when path does not exist.
func ReadIfExists(path string) (*Table, error) {
	t, err := Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return t, err
}

// Decode parses CSV from r. An empty input yields an empty Table.
func Decode(r io.Reader) (*Table, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	cr := csv.NewReader(transform.NewReader(r, dec))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := &Table{Header: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if blankRecord(rec) {
			continue
		}
		line, _ := cr.FieldPos(0)
		row := make(map[string]string, len(header))
		for i, h := range header {
			if _, dup := row[h]; dup {
				continue
			}
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			} else {
				row[h] = ""
			}
		}
		t.Rows = append(t.Rows, row)
		t.Lines = append(t.Lines, line)
	}
	return t, nil
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Render encodes header and records as CSV.
func Render(header []string, records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write renders header and records and atomically replaces path.
// Parent directories are created as needed.
func Write(path string, header []string, records [][]string) error {
	data, err := Render(header, records)
	if err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	return WriteBytes(path, data)
}

// WriteBytes atomically replaces path with data.
func WriteBytes(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
