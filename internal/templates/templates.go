// Package templates holds the dashboard template catalogue and validates
// generated dashboard configurations against it.
package templates

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Field types.
const (
	TypeString = "string"
	TypeNumber = "number"
	TypeDate   = "date"
)

//go:embed templates.yaml
var catalogYAML []byte

type Field struct {
	Key      string `yaml:"key" json:"key"`
	Label    string `yaml:"label" json:"label"`
	Type     string `yaml:"type" json:"type"`
	Required bool   `yaml:"required" json:"required"`
}

type Template struct {
	Key         string  `yaml:"key" json:"key"`
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	Fields      []Field `yaml:"fields" json:"fields"`
}

// Field returns the field with the given key.
func (t *Template) Field(key string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

func (t *Template) RequiredFields() []Field {
	var out []Field
	for _, f := range t.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

type Catalog struct {
	byKey map[string]*Template
	order []*Template
}

// Load parses the embedded catalogue.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

func Parse(data []byte) (*Catalog, error) {
	var file struct {
		Templates []*Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	c := &Catalog{byKey: make(map[string]*Template)}
	for _, t := range file.Templates {
		if t.Key == "" {
			return nil, fmt.Errorf("template without key")
		}
		if _, dup := c.byKey[t.Key]; dup {
			return nil, fmt.Errorf("duplicate template %q", t.Key)
		}
		if len(t.Fields) == 0 {
			return nil, fmt.Errorf("template %q has no fields", t.Key)
		}
		seen := map[string]bool{}
		for _, f := range t.Fields {
			switch f.Type {
			case TypeString, TypeNumber, TypeDate:
			default:
				return nil, fmt.Errorf("template %q field %q: unknown type %q", t.Key, f.Key, f.Type)
			}
			if seen[f.Key] {
				return nil, fmt.Errorf("template %q: duplicate field %q", t.Key, f.Key)
			}
			seen[f.Key] = true
		}
		c.byKey[t.Key] = t
		c.order = append(c.order, t)
	}
	return c, nil
}

func (c *Catalog) Get(key string) (*Template, bool) {
	t, ok := c.byKey[key]
	return t, ok
}

// List returns templates in catalogue order.
func (c *Catalog) List() []*Template {
	return c.order
}
