package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/intake/pkg/validation"
)

// definitionFile is the YAML layout of a form definition. The schema may be
// written inline as YAML or as a JSON string.
type definitionFile struct {
	ID         string        `yaml:"id"`
	Version    string        `yaml:"version,omitempty"`
	Title      string        `yaml:"title,omitempty"`
	TTL        string        `yaml:"ttl,omitempty"`
	FieldOrder []string      `yaml:"field_order,omitempty"`
	FileFields []string      `yaml:"file_fields,omitempty"`
	Approval   *approvalFile `yaml:"approval,omitempty"`
	Schema     yaml.Node     `yaml:"schema"`
}

type approvalFile struct {
	Required  bool     `yaml:"required"`
	When      string   `yaml:"when,omitempty"`
	Reviewers []string `yaml:"reviewers,omitempty"`
	ReviewURL string   `yaml:"review_url,omitempty"`
}

// Parse decodes and compiles one YAML definition.
func Parse(data []byte) (*Definition, error) {
	var f definitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	if f.ID == "" {
		return nil, fmt.Errorf("parse definition: missing id")
	}

	def := &Definition{Name: f.ID, Title: f.Title}
	if f.Version != "" {
		v, err := semver.NewVersion(f.Version)
		if err != nil {
			return nil, fmt.Errorf("definition %q: version: %w", f.ID, err)
		}
		def.Version = v
	}
	if f.TTL != "" {
		ttl, err := time.ParseDuration(f.TTL)
		if err != nil {
			return nil, fmt.Errorf("definition %q: ttl: %w", f.ID, err)
		}
		def.TTL = ttl
	}

	doc, err := schemaJSON(&f.Schema)
	if err != nil {
		return nil, fmt.Errorf("definition %q: %w", f.ID, err)
	}
	tree, err := Compile(def.ID(), doc)
	if err != nil {
		return nil, err
	}
	def.Schema = &validation.Schema{Tree: tree, FieldOrder: f.FieldOrder, FileFields: f.FileFields}

	if a := f.Approval; a != nil {
		gate, err := NewApprovalGate(a.Required, a.When, a.Reviewers, a.ReviewURL)
		if err != nil {
			return nil, fmt.Errorf("definition %q: %w", f.ID, err)
		}
		def.Gate = gate
	}
	return def, nil
}

func schemaJSON(n *yaml.Node) ([]byte, error) {
	switch n.Kind {
	case 0:
		return []byte(`{}`), nil
	case yaml.ScalarNode:
		return []byte(n.Value), nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return raw, nil
}

// LoadFile parses the definition at path.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load definition %q: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return def, nil
}

// LoadDir registers every *.yaml and *.yml file in dir.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := strings.ToLower(filepath.Ext(e.Name())); ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	reg := NewRegistry()
	for _, name := range names {
		def, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if err := reg.Register(def); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return reg, nil
}
