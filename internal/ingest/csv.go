package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxRows caps the number of data rows kept from an upload.
const MaxRows = 1000

var (
	ErrEmptyFile  = errors.New("file is empty")
	ErrNoDataRows = errors.New("file has a header row but no data rows")
)

// Table is a parsed upload. OriginalRows counts data rows before truncation.
type Table struct {
	Headers      []string
	Rows         [][]string
	Truncated    bool
	OriginalRows int
}

// ParseCSV reads a comma, semicolon or tab delimited file with a header row.
func ParseCSV(r io.Reader, maxRows int) (*Table, error) {
	if maxRows <= 0 {
		maxRows = MaxRows
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = detectDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = cr.Comma != '\t'

	t := &Table{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		if blank(rec) {
			continue
		}
		if t.Headers == nil {
			t.Headers = trimAll(rec)
			continue
		}
		t.OriginalRows++
		if len(t.Rows) < maxRows {
			t.Rows = append(t.Rows, rec)
		}
	}
	if t.Headers == nil {
		return nil, ErrEmptyFile
	}
	if t.OriginalRows == 0 {
		return nil, ErrNoDataRows
	}
	t.Truncated = t.OriginalRows > len(t.Rows)
	return t, nil
}

func detectDelimiter(data []byte) rune {
	line, _ := bufio.NewReader(bytes.NewReader(data)).ReadString('\n')
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t'} {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func trimAll(rec []string) []string {
	out := make([]string, len(rec))
	for i, v := range rec {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
