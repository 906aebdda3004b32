package templates

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load()
	require.NoError(t, err)
	return c
}

func TestLoad_ShipsThreeTemplates(t *testing.T) {
	c := loadCatalog(t)
	var keys []string
	for _, tpl := range c.List() {
		keys = append(keys, tpl.Key)
	}
	assert.Equal(t, []string{"sales_pipeline", "uptime_monitor", "marketing_campaigns"}, keys)

	sales, ok := c.Get("sales_pipeline")
	require.True(t, ok)
	f, ok := sales.Field("deal_value")
	require.True(t, ok)
	assert.Equal(t, TypeNumber, f.Type)
	assert.True(t, f.Required)
}

func TestParse_RejectsBadCatalogue(t *testing.T) {
	cases := map[string]string{
		"unknown type": "templates:\n  - key: x\n    fields:\n      - {key: a, type: blob}\n",
		"duplicate":    "templates:\n  - key: x\n    fields: [{key: a, type: string}]\n  - key: x\n    fields: [{key: a, type: string}]\n",
		"no fields":    "templates:\n  - key: x\n",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

const validSales = `{
  "source_config": {"type": "google_sheet"},
  "column_mapping": {"date": "Close Date", "deal_name": "Deal", "stage": "Stage", "deal_value": "Amount"},
  "kpi_rules": [{"key": "pipeline", "label": "Pipeline value", "field": "deal_value", "aggregation": "sum", "format": "currency"}],
  "chart_config": [{"type": "bar", "title": "By stage", "x_field": "stage", "y_field": "deal_value"}]
}`

var salesHeaders = []string{"Close Date", "Deal", "Stage", "Amount", "Rep"}

func TestValidateConfig_Valid(t *testing.T) {
	tpl, _ := loadCatalog(t).Get("sales_pipeline")
	cfg, err := tpl.ValidateConfig(salesHeaders, []byte(validSales))
	require.NoError(t, err)

	m, err := cfg.Mapping()
	require.NoError(t, err)
	assert.Equal(t, "Amount", m["deal_value"])
}

func TestValidateConfig_Rejects(t *testing.T) {
	tpl, _ := loadCatalog(t).Get("sales_pipeline")
	cases := map[string]string{
		"not json":              `{"source_config":`,
		"missing required map":  strings.Replace(validSales, `"stage": "Stage", `, "", 1),
		"unknown header":        strings.Replace(validSales, `"Amount"}`, `"Revenue"}`, 1),
		"bad aggregation":       strings.Replace(validSales, `"sum"`, `"median"`, 1),
		"bad chart type":        strings.Replace(validSales, `"bar"`, `"radar"`, 1),
		"unknown top-level key": strings.Replace(validSales, `"source_config"`, `"extra": 1, "source_config"`, 1),
		"numeric label":         strings.Replace(validSales, `"Pipeline value"`, `42`, 1),
		"trailing data":         validSales + ` {"kpi_rules": []}`,
		"no kpis":               `{"source_config":{},"column_mapping":{"date":"Close Date","deal_name":"Deal","stage":"Stage","deal_value":"Amount"},"kpi_rules":[],"chart_config":[]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tpl.ValidateConfig(salesHeaders, []byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}
}

func TestValidateConfig_NoHeaders(t *testing.T) {
	tpl, _ := loadCatalog(t).Get("uptime_monitor")
	_, err := tpl.ValidateConfig(nil, []byte(`{}`))
	assert.ErrorIs(t, err, ErrValidation)
}
