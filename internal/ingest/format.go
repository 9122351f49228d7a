// Package ingest decodes observation documents produced by source adapters
// and feeds them to the registry in order.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format represents supported input formats
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DetectFormat determines whether data is a JSON or YAML document.
func DetectFormat(data []byte) (Format, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return "", fmt.Errorf("empty observation document")
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var js json.RawMessage
		if err := json.Unmarshal(data, &js); err == nil {
			return FormatJSON, nil
		}
		return "", fmt.Errorf("input appears to be JSON but is invalid")
	}

	// Plain text is valid YAML; only structured documents count.
	var v any
	if err := yaml.Unmarshal(data, &v); err == nil {
		switch v.(type) {
		case map[string]any, []any:
			return FormatYAML, nil
		}
	}
	return "", fmt.Errorf("input is neither a JSON nor a YAML document")
}

// Decode parses an observation document, detecting its format.
func Decode(data []byte) (*Document, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}
	var doc Document
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	}
	return &doc, nil
}

// LoadFile reads and decodes one observation file.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if doc.Name == "" {
		doc.Name = path
	}
	return doc, nil
}
