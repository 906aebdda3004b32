package dashboard

import (
	"math"
	"sort"

	"github.com/klaroops/backend/internal/ingest"
)

// KPIRule is one entry of a stored kpi_rules array.
type KPIRule struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Field       string `json:"field"`
	Aggregation string `json:"aggregation"`
	Format      string `json:"format,omitempty"`
}

type KPIValue struct {
	Key    string   `json:"key"`
	Label  string   `json:"label"`
	Format string   `json:"format,omitempty"`
	Value  *float64 `json:"value"`
}

// ComputeKPIs evaluates rules over records. A rule with no numeric input has
// a nil value, except count which counts non-empty values of any type.
func ComputeKPIs(rules []KPIRule, records []ingest.Record) []KPIValue {
	out := make([]KPIValue, 0, len(rules))
	for _, rule := range rules {
		out = append(out, KPIValue{Key: rule.Key, Label: rule.Label, Format: rule.Format, Value: aggregate(rule, records)})
	}
	return out
}

func aggregate(rule KPIRule, records []ingest.Record) *float64 {
	if rule.Aggregation == "count" {
		n := 0
		for _, r := range records {
			if v, ok := r[rule.Field]; ok && v != "" {
				n++
			}
		}
		f := float64(n)
		return &f
	}

	var nums []float64
	for _, r := range records {
		if f, ok := r[rule.Field].(float64); ok {
			nums = append(nums, f)
		}
	}
	if len(nums) == 0 {
		return nil
	}

	var v float64
	switch rule.Aggregation {
	case "sum":
		for _, n := range nums {
			v += n
		}
	case "avg":
		for _, n := range nums {
			v += n
		}
		v /= float64(len(nums))
	case "min":
		v = math.Inf(1)
		for _, n := range nums {
			v = math.Min(v, n)
		}
	case "max":
		v = math.Inf(-1)
		for _, n := range nums {
			v = math.Max(v, n)
		}
	case "latest":
		v = latest(rule.Field, records)
	default:
		return nil
	}
	return &v
}

// latest picks the value of the most recent record by its "date" field,
// falling back to the last record in order.
func latest(field string, records []ingest.Record) float64 {
	type dated struct {
		at    int64
		idx   int
		value float64
	}
	var rows []dated
	for i, r := range records {
		f, ok := r[field].(float64)
		if !ok {
			continue
		}
		var at int64
		if t, ok := ingest.RecordTime(r, "date"); ok {
			at = t.Unix()
		}
		rows = append(rows, dated{at: at, idx: i, value: f})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].at != rows[j].at {
			return rows[i].at < rows[j].at
		}
		return rows[i].idx < rows[j].idx
	})
	return rows[len(rows)-1].value
}
