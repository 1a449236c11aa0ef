// Package knowledge holds the store facts the assistant is allowed to answer from.
package knowledge

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Section is one titled group of facts.
type Section struct {
	Title string   `yaml:"title"`
	Items []string `yaml:"items"`
}

// Base is the structured knowledge block injected into the system instruction.
type Base struct {
	StoreName string    `yaml:"store_name"`
	Sections  []Section `yaml:"sections"`
}

// Default returns the built-in knowledge base.
func Default() Base {
	b, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("knowledge: embedded default is invalid: %v", err))
	}
	return b
}

// Load reads a YAML knowledge base from path.
func Load(path string) (Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Base{}, fmt.Errorf("read knowledge file: %w", err)
	}
	b, err := Parse(data)
	if err != nil {
		return Base{}, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// LoadOrDefault loads path when set, otherwise returns Default.
func LoadOrDefault(path string) (Base, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return Load(path)
}

// Parse decodes and validates a YAML knowledge base.
func Parse(data []byte) (Base, error) {
	var b Base
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Base{}, fmt.Errorf("parse knowledge yaml: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Base{}, err
	}
	return b, nil
}

func (b Base) Validate() error {
	if strings.TrimSpace(b.StoreName) == "" {
		return errors.New("knowledge: store_name is required")
	}
	if len(b.Sections) == 0 {
		return errors.New("knowledge: at least one section is required")
	}
	for i, s := range b.Sections {
		if strings.TrimSpace(s.Title) == "" {
			return fmt.Errorf("knowledge: section %d has no title", i)
		}
		if len(s.Items) == 0 {
			return fmt.Errorf("knowledge: section %q has no items", s.Title)
		}
	}
	return nil
}

// Render formats the base as a markdown block.
func (b Base) Render() string {
	var sb strings.Builder
	sb.WriteString("# Store Information\n")
	for _, s := range b.Sections {
		sb.WriteString("\n## ")
		sb.WriteString(strings.TrimSpace(s.Title))
		sb.WriteString("\n")
		for _, item := range s.Items {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			sb.WriteString("- ")
			sb.WriteString(item)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
