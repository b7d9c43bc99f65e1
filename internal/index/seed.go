package index

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed seed/reference_data.yaml
var referenceSeed []byte

type seedGroup struct {
	Type     string           `yaml:"type"`
	Category string           `yaml:"category"`
	Entries  []ReferenceEntry `yaml:"entries"`
}

// SeedReferenceData returns the static lookup rows loaded at bootstrap.
func SeedReferenceData() ([]ReferenceEntry, error) {
	return parseSeed(referenceSeed)
}

func parseSeed(raw []byte) ([]ReferenceEntry, error) {
	var groups []seedGroup
	if err := yaml.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse reference seed: %w", err)
	}

	seen := make(map[[3]string]struct{})
	var out []ReferenceEntry
	for _, g := range groups {
		if g.Type == "" {
			return nil, fmt.Errorf("reference seed group without type")
		}
		for _, e := range g.Entries {
			e.Type = g.Type
			e.Category = g.Category
			if e.Label == "" {
				e.Label = e.Value
			}
			key := [3]string{e.Type, e.Category, e.Value}
			if _, dup := seen[key]; dup {
				return nil, fmt.Errorf("duplicate reference entry %s/%s/%s", e.Type, e.Category, e.Value)
			}
			seen[key] = struct{}{}
			out = append(out, e)
		}
	}
	return out, nil
}
