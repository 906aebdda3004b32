package templates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation can be used with errors.Is to detect a generated config that
// does not fit the template.
var ErrValidation = errors.New("dashboard config validation failed")

var (
	Aggregations = []string{"sum", "avg", "count", "min", "max", "latest"}
	KPIFormats   = []string{"number", "currency", "percent", "duration"}
	ChartTypes   = []string{"line", "bar", "area", "pie", "table"}
)

// Config is the generated dashboard configuration.
type Config struct {
	SourceConfig  json.RawMessage `json:"source_config"`
	ColumnMapping json.RawMessage `json:"column_mapping"`
	KPIRules      json.RawMessage `json:"kpi_rules"`
	ChartConfig   json.RawMessage `json:"chart_config"`
}

// Mapping decodes the column mapping (template field key to sheet header).
func (c Config) Mapping() (map[string]string, error) {
	m := map[string]string{}
	if len(c.ColumnMapping) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(c.ColumnMapping, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ConfigSchema builds the JSON Schema a generated config must satisfy for the
// given sheet headers.
func (t *Template) ConfigSchema(headers []string) map[string]any {
	fieldKeys := make([]string, 0, len(t.Fields))
	mappingProps := map[string]any{}
	required := []string{}
	for _, f := range t.Fields {
		fieldKeys = append(fieldKeys, f.Key)
		mappingProps[f.Key] = map[string]any{"type": "string", "enum": headers}
		if f.Required {
			required = append(required, f.Key)
		}
	}

	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"required":             []string{"source_config", "column_mapping", "kpi_rules", "chart_config"},
		"additionalProperties": false,
		"properties": map[string]any{
			"source_config": map[string]any{"type": "object"},
			"column_mapping": map[string]any{
				"type":                 "object",
				"properties":           mappingProps,
				"required":             required,
				"additionalProperties": false,
			},
			"kpi_rules": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":     "object",
					"required": []string{"key", "label", "field", "aggregation"},
					"properties": map[string]any{
						"key":         map[string]any{"type": "string", "minLength": 1},
						"label":       map[string]any{"type": "string", "minLength": 1},
						"field":       map[string]any{"enum": fieldKeys},
						"aggregation": map[string]any{"enum": Aggregations},
						"format":      map[string]any{"enum": KPIFormats},
					},
				},
			},
			"chart_config": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"type", "title", "x_field", "y_field"},
					"properties": map[string]any{
						"type":        map[string]any{"enum": ChartTypes},
						"title":       map[string]any{"type": "string"},
						"x_field":     map[string]any{"enum": fieldKeys},
						"y_field":     map[string]any{"enum": fieldKeys},
						"aggregation": map[string]any{"enum": Aggregations},
					},
				},
			},
		},
	}
}

// ValidateConfig checks raw against the template schema for headers and
// decodes it. Failures wrap ErrValidation.
func (t *Template) ValidateConfig(headers []string, raw []byte) (*Config, error) {
	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: no sheet headers", ErrValidation)
	}
	schemaJSON, err := json.Marshal(t.ConfigSchema(headers))
	if err != nil {
		return nil, err
	}
	schema, err := jsonschema.CompileString("https://klaroops.com/schemas/dashboard/"+t.Key+".json", string(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", t.Key, err)
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return &cfg, nil
}
