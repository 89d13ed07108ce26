// Package catalog loads and validates the curated tool catalog.
//
// The catalog is the source of truth for everything the recommendation
// engine can suggest. Records are immutable after load; the order of the
// returned slice fixes the internal vector ids for one index build.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToolRecord is a single catalog entry. Name and Description are required;
// everything else is optional metadata carried through to responses.
type ToolRecord struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Category    string   `json:"category,omitempty" yaml:"category,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	URL         string   `json:"url,omitempty" yaml:"url,omitempty"`
	Pricing     string   `json:"pricing,omitempty" yaml:"pricing,omitempty"`
}

// SearchText returns the canonical text a record is embedded under.
// It must stay stable across builds: changing it invalidates every
// previously built artifact's similarity semantics.
func (r ToolRecord) SearchText() string {
	parts := make([]string, 0, 4)
	parts = append(parts, r.Name)
	if r.Category != "" {
		parts = append(parts, r.Category)
	}
	if len(r.Tags) > 0 {
		parts = append(parts, strings.Join(r.Tags, " "))
	}
	parts = append(parts, r.Description)
	return strings.Join(parts, ". ")
}

// EntryIssue describes one invalid catalog entry.
type EntryIssue struct {
	Index  int
	Name   string
	Reason string
}

// ValidationError reports every invalid entry found in a catalog, so an
// operator can fix them all in one pass.
type ValidationError struct {
	Path   string
	Issues []EntryIssue
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "catalog %s has %d invalid entries:", e.Path, len(e.Issues))
	for _, iss := range e.Issues {
		name := iss.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(&b, " [%d] %s: %s;", iss.Index, name, iss.Reason)
	}
	return strings.TrimSuffix(b.String(), ";")
}

// Load reads a catalog file (JSON array or YAML sequence, by extension) and
// validates it. The returned slice order is the catalog order.
func Load(path string) ([]ToolRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read catalog %s: %w", path, err)
	}

	var records []ToolRecord
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("invalid catalog YAML %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("invalid catalog JSON %s: %w", path, err)
		}
	}

	if err := validate(path, records); err != nil {
		return nil, err
	}
	return records, nil
}

func validate(path string, records []ToolRecord) error {
	var issues []EntryIssue
	seen := make(map[string]int, len(records))

	for i, r := range records {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			issues = append(issues, EntryIssue{Index: i, Reason: "missing name"})
			continue
		}
		if strings.TrimSpace(r.Description) == "" {
			issues = append(issues, EntryIssue{Index: i, Name: r.Name, Reason: "missing description"})
		}
		key := strings.ToLower(name)
		if prev, dup := seen[key]; dup {
			issues = append(issues, EntryIssue{
				Index:  i,
				Name:   r.Name,
				Reason: fmt.Sprintf("duplicate of entry %d", prev),
			})
			continue
		}
		seen[key] = i
	}

	if len(issues) > 0 {
		return &ValidationError{Path: path, Issues: issues}
	}
	return nil
}
