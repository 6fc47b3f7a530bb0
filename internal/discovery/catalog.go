// Package discovery proposes new tasks by analyzing the queue against a
// catalogue of growth areas. The catalogue is data, not code: it can be
// replaced wholesale by pointing taskpilot at a YAML file.
package discovery

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/calloway/taskpilot/internal/model"
)

// GrowthCandidate is one entry in the growth catalogue.
type GrowthCandidate struct {
	Title          string         `yaml:"title" json:"title"`
	Description    string         `yaml:"description" json:"description,omitempty"`
	Type           model.TaskType `yaml:"type" json:"type"`
	Priority       model.Priority `yaml:"priority" json:"priority"`
	Area           string         `yaml:"area" json:"area"`
	EstimatedHours float64        `yaml:"estimated_hours" json:"estimated_hours"`
}

// Catalog holds the growth candidates.
type Catalog struct {
	Candidates []GrowthCandidate `yaml:"candidates"`
}

// Areas returns the distinct growth areas, in catalogue order.
func (c *Catalog) Areas() []string {
	seen := make(map[string]bool)
	var areas []string
	for _, cand := range c.Candidates {
		if cand.Area == "" || seen[cand.Area] {
			continue
		}
		seen[cand.Area] = true
		areas = append(areas, cand.Area)
	}
	return areas
}

// Validate checks every candidate against the closed enumerations.
func (c *Catalog) Validate() error {
	for i, cand := range c.Candidates {
		if cand.Title == "" {
			return fmt.Errorf("catalog candidate %d: empty title", i)
		}
		if !cand.Type.Valid() {
			return fmt.Errorf("catalog candidate %q: invalid type %q", cand.Title, cand.Type)
		}
		if !cand.Priority.Valid() {
			return fmt.Errorf("catalog candidate %q: invalid priority %q", cand.Title, cand.Priority)
		}
		if cand.Area == "" {
			return fmt.Errorf("catalog candidate %q: empty area", cand.Title)
		}
	}
	return nil
}

// LoadCatalog reads a catalogue from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// DefaultCatalog returns the compiled-in catalogue used when no file is
// configured.
func DefaultCatalog() *Catalog {
	return &Catalog{Candidates: []GrowthCandidate{
		{
			Title:          "Add response caching for hot read paths",
			Description:    "Introduce a cache in front of the most frequently hit read endpoints and measure latency before/after.",
			Type:           model.TypeOptimization,
			Priority:       model.PriorityHigh,
			Area:           "performance",
			EstimatedHours: 8,
		},
		{
			Title:          "Automate backup restore verification",
			Description:    "Nightly job that restores the latest backup into a scratch environment and runs smoke checks.",
			Type:           model.TypeInfrastructure,
			Priority:       model.PriorityHigh,
			Area:           "reliability",
			EstimatedHours: 12,
		},
		{
			Title:          "Expand integration test coverage for deploy paths",
			Description:    "Cover rollback and partial-failure scenarios that currently only surface in production.",
			Type:           model.TypeMaintenance,
			Priority:       model.PriorityMedium,
			Area:           "quality",
			EstimatedHours: 10,
		},
		{
			Title:          "Instrument slow query logging",
			Description:    "Log and aggregate queries above a latency threshold to guide index work.",
			Type:           model.TypeOptimization,
			Priority:       model.PriorityMedium,
			Area:           "performance",
			EstimatedHours: 4,
		},
		{
			Title:          "Self-serve onboarding flow",
			Description:    "Let new tenants provision without operator involvement.",
			Type:           model.TypeFeatureDevelopment,
			Priority:       model.PriorityHigh,
			Area:           "onboarding",
			EstimatedHours: 24,
		},
		{
			Title:          "Emit usage analytics events",
			Description:    "Structured events for the key product actions, feeding the growth dashboard.",
			Type:           model.TypeFeatureDevelopment,
			Priority:       model.PriorityMedium,
			Area:           "analytics",
			EstimatedHours: 16,
		},
		{
			Title:          "Harden TLS and header configuration",
			Description:    "Audit and tighten TLS versions, ciphers, and security headers across public endpoints.",
			Type:           model.TypeInfrastructure,
			Priority:       model.PriorityMedium,
			Area:           "security",
			EstimatedHours: 6,
		},
	}}
}
