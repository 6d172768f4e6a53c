package campaign

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed campaigns.yaml
var defaultCatalog []byte

// Stage is one email of a campaign's sequence.
type Stage struct {
	TemplateID string `yaml:"template_id"`
}

// Definition describes a campaign: who qualifies, what is sent, how often.
type Definition struct {
	Name      string        `yaml:"name"`
	Audiences []string      `yaml:"audiences"`
	Cooldown  time.Duration `yaml:"cooldown"`
	Category  string        `yaml:"category"`
	Stages    []Stage       `yaml:"stages"`
}

// TotalStages is the number of emails in the sequence.
func (d Definition) TotalStages() int { return len(d.Stages) }

// TemplateFor returns the template of the given stage.
func (d Definition) TemplateFor(stage int) (string, bool) {
	if stage < 0 || stage >= len(d.Stages) {
		return "", false
	}
	return d.Stages[stage].TemplateID, true
}

// Catalog is the ordered set of campaigns the nurturing run iterates.
type Catalog struct {
	Campaigns []Definition `yaml:"campaigns"`
}

// Get returns the campaign with the given name.
func (c Catalog) Get(name string) (Definition, bool) {
	for _, d := range c.Campaigns {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Names lists campaign names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c.Campaigns))
	for _, d := range c.Campaigns {
		names = append(names, d.Name)
	}
	return names
}

// Validate checks the catalog against the audiences known to the caller.
func (c Catalog) Validate(knownAudiences []string) error {
	known := make(map[string]bool, len(knownAudiences))
	for _, a := range knownAudiences {
		known[a] = true
	}
	seen := make(map[string]bool, len(c.Campaigns))
	for _, d := range c.Campaigns {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("campaign with empty name")
		}
		if seen[d.Name] {
			return fmt.Errorf("campaign %q defined twice", d.Name)
		}
		seen[d.Name] = true
		if len(d.Stages) == 0 {
			return fmt.Errorf("campaign %q has no stages", d.Name)
		}
		for i, s := range d.Stages {
			if strings.TrimSpace(s.TemplateID) == "" {
				return fmt.Errorf("campaign %q stage %d has no template_id", d.Name, i)
			}
		}
		if d.Cooldown < 0 {
			return fmt.Errorf("campaign %q has negative cooldown", d.Name)
		}
		if len(d.Audiences) == 0 {
			return fmt.Errorf("campaign %q has no audiences", d.Name)
		}
		for _, a := range d.Audiences {
			if !known[a] {
				return fmt.Errorf("campaign %q uses unknown audience %q", d.Name, a)
			}
		}
	}
	return nil
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("decoding campaign catalog: %w", err)
	}
	return c, nil
}

// LoadCatalog reads the catalog at path, or the built-in catalog when path is empty.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("reading campaign catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}
