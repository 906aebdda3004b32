// Package ingest turns tabular source data (sheet ranges, uploaded CSV) into
// typed columns and normalized records.
package ingest

import (
	"math"
	"strconv"
	"strings"

	"github.com/klaroops/backend/internal/templates"
)

// PreviewRows is how many data rows a sheet scan samples.
const PreviewRows = 20

type Column struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Sample string `json:"sample"`
}

var numberReplacer = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", "¥", "", "₹", "", " ", "", "\t", "", "\u00a0", "")

// ParseNumber strips whitespace, thousands separators and currency symbols
// before parsing. NaN and infinities are not numbers here.
func ParseNumber(s string) (float64, bool) {
	cleaned := numberReplacer.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// InferColumns types each column from the sampled rows. A column is a number
// only if it has a non-empty value and every non-empty value parses.
func InferColumns(headers []string, rows [][]string) []Column {
	cols := make([]Column, len(headers))
	for i, h := range headers {
		var sample string
		typ := inferColumn(rows, i, &sample)
		cols[i] = Column{Name: h, Type: typ, Sample: sample}
	}
	return cols
}

func inferColumn(rows [][]string, idx int, sample *string) string {
	seen := false
	numeric := true
	for _, row := range rows {
		if idx >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[idx])
		if v == "" {
			continue
		}
		if !seen {
			*sample = v
			seen = true
		}
		if _, ok := ParseNumber(v); !ok {
			numeric = false
		}
	}
	if seen && numeric {
		return templates.TypeNumber
	}
	return templates.TypeString
}
