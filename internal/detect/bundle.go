package detect

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"cloudscope/internal/schema"
)

// Bundle is a set of detection rules loaded from YAML.
type Bundle struct {
	Version string                 `yaml:"version"`
	Rules   []schema.DetectionRule `yaml:"rules"`
}

// LoadBundle reads and validates one YAML rule file.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bundle %s: %w", path, err)
	}

	var bundle Bundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parsing bundle %s: %w", path, err)
	}

	if err := bundle.Validate(); err != nil {
		return nil, fmt.Errorf("bundle %s: %w", path, err)
	}
	return &bundle, nil
}

// LoadDir merges every .yaml/.yml file in a directory into one bundle.
// Later files override earlier rules with the same name.
func LoadDir(dir string) (*Bundle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading rules dir %s: %w", dir, err)
	}

	byName := map[string]schema.DetectionRule{}
	var order []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		bundle, err := LoadBundle(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		for _, rule := range bundle.Rules {
			if _, seen := byName[rule.Name]; !seen {
				order = append(order, rule.Name)
			}
			byName[rule.Name] = rule
		}
	}

	merged := &Bundle{}
	for _, name := range order {
		merged.Rules = append(merged.Rules, byName[name])
	}
	return merged, nil
}

// Validate checks rule names, clouds and severities. Missing
// severities default to medium.
func (b *Bundle) Validate() error {
	seen := map[string]bool{}
	for i := range b.Rules {
		rule := &b.Rules[i]

		if rule.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if seen[rule.Name] {
			return fmt.Errorf("rule %q: duplicate name", rule.Name)
		}
		seen[rule.Name] = true

		if !rule.Cloud.IsValid() {
			return fmt.Errorf("rule %q: unknown cloud %q", rule.Name, rule.Cloud)
		}
		if rule.Severity == "" {
			rule.Severity = schema.SeverityMedium
		}
		if !rule.Severity.IsValid() {
			return fmt.Errorf("rule %q: unknown severity %q", rule.Name, rule.Severity)
		}
	}
	return nil
}

// Tags returns the unique tag set referenced by the bundle's
// auto-tags, sorted by slug.
func (b *Bundle) Tags() []schema.Tag {
	bySlug := map[string]schema.Tag{}
	for _, rule := range b.Rules {
		for _, name := range rule.AutoTags {
			tag := schema.NewTag(name)
			if tag.Slug != "" {
				bySlug[tag.Slug] = tag
			}
		}
	}

	slugs := make([]string, 0, len(bySlug))
	for slug := range bySlug {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	tags := make([]schema.Tag, 0, len(slugs))
	for _, slug := range slugs {
		tags = append(tags, bySlug[slug])
	}
	return tags
}
