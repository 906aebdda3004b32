package ingest

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/templates"
)

// Record is one normalized row keyed by template field key.
type Record map[string]any

// HeaderIndex maps header names to their column position.
func HeaderIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	return idx
}

// CheckMapping verifies every mapped header exists and that each required
// template field is mapped and filled in the first data row.
func CheckMapping(tpl *templates.Template, mapping map[string]string, headers []string, firstRow []string) error {
	idx := HeaderIndex(headers)
	for key, header := range mapping {
		if _, ok := tpl.Field(key); !ok {
			return apperr.Invalid(key, "unknown template field "+key)
		}
		if _, ok := idx[header]; !ok {
			return apperr.Invalid(key, "column "+header+" not found in file")
		}
	}
	for _, f := range tpl.RequiredFields() {
		header, ok := mapping[f.Key]
		if !ok {
			return apperr.Invalid(f.Key, "required field "+f.Key+" is not mapped")
		}
		if i := idx[header]; i >= len(firstRow) || strings.TrimSpace(firstRow[i]) == "" {
			return apperr.Invalid(f.Key, "required field "+f.Key+" is empty in the first row")
		}
	}
	return nil
}

// Normalize converts rows into records. Numbers and dates that do not parse
// are kept as the original string.
func Normalize(tpl *templates.Template, mapping map[string]string, headers []string, rows [][]string) []Record {
	idx := HeaderIndex(headers)
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := Record{}
		for _, f := range tpl.Fields {
			header, ok := mapping[f.Key]
			if !ok {
				continue
			}
			i, ok := idx[header]
			if !ok || i >= len(row) {
				continue
			}
			v := strings.TrimSpace(row[i])
			if v == "" {
				continue
			}
			rec[f.Key] = convert(f.Type, v)
		}
		if len(rec) > 0 {
			out = append(out, rec)
		}
	}
	return out
}

func convert(fieldType, v string) any {
	switch fieldType {
	case templates.TypeNumber:
		if n, ok := ParseNumber(v); ok {
			return n
		}
	case templates.TypeDate:
		if t, err := dateparse.ParseIn(v, time.UTC); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return v
}

// RecordTime returns the parsed date field of a record, if any.
func RecordTime(r Record, field string) (time.Time, bool) {
	s, ok := r[field].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
