package models

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseParameterValues decodes a mapping of parameter names to values. The
// text may be JSON or YAML. Unquoted dates stay strings.
func ParseParameterValues(text string) (map[string]any, error) {
	values := map[string]any{}
	if strings.TrimSpace(text) == "" {
		return values, nil
	}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		return nil, fmt.Errorf("failed to parse parameter values: %w", err)
	}
	if len(node.Content) == 0 || node.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parameter values must be a mapping")
	}
	keepTimestampsAsText(node.Content[0])
	if err := node.Content[0].Decode(&values); err != nil {
		return nil, fmt.Errorf("failed to decode parameter values: %w", err)
	}
	return values, nil
}

// keepTimestampsAsText retags plain date and datetime scalars as strings so
// they decode the way their JSON counterparts do.
func keepTimestampsAsText(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!timestamp" {
		n.Tag = "!!str"
	}
	for _, child := range n.Content {
		keepTimestampsAsText(child)
	}
}
