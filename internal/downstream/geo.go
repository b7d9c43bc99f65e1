package downstream

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed geo.yaml
var geoTable []byte

// GeoMapper translates country and state values into the party system's
// geographic codes. Unmapped values pass through unchanged.
type GeoMapper struct {
	countries map[string]string
	states    map[string]map[string]string
}

type geoFile struct {
	Countries map[string]string            `yaml:"countries"`
	States    map[string]map[string]string `yaml:"states"`
}

// DefaultGeoMapper loads the embedded table.
func DefaultGeoMapper() (*GeoMapper, error) {
	return NewGeoMapper(geoTable)
}

// NewGeoMapper parses a YAML table. Keys are matched case-insensitively.
func NewGeoMapper(raw []byte) (*GeoMapper, error) {
	var f geoFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse geo table: %w", err)
	}
	g := &GeoMapper{
		countries: make(map[string]string, len(f.Countries)),
		states:    make(map[string]map[string]string, len(f.States)),
	}
	for k, v := range f.Countries {
		g.countries[normalizeKey(k)] = v
	}
	for country, states := range f.States {
		m := make(map[string]string, len(states))
		for k, v := range states {
			m[normalizeKey(k)] = v
		}
		g.states[normalizeKey(country)] = m
	}
	return g, nil
}

func normalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Country maps a country name or code.
func (g *GeoMapper) Country(v string) string {
	if mapped, ok := g.countries[normalizeKey(v)]; ok {
		return mapped
	}
	return v
}

// State maps a state within a country. The country may be given as a name,
// an input code or an already mapped code.
func (g *GeoMapper) State(country, state string) string {
	for _, key := range []string{normalizeKey(country), normalizeKey(g.Country(country))} {
		if states, ok := g.states[key]; ok {
			if mapped, ok := states[normalizeKey(state)]; ok {
				return mapped
			}
		}
	}
	return state
}
