package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// readFileValues flattens a YAML document into SQLSCRIBE_* keys, so
//
//	ai:
//	  model: gpt-4o
//
// becomes SQLSCRIBE_AI_MODEL=gpt-4o. Sequences are joined with commas.
func readFileValues(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return parseFileValues(raw)
}

func parseFileValues(raw []byte) (map[string]string, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	values := make(map[string]string)
	if err := flatten(strings.TrimSuffix(envPrefix, "_"), doc, values); err != nil {
		return nil, err
	}
	return values, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) error {
	keys := make([]string, 0, len(node))
	for key := range node {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		name := prefix + "_" + strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
		switch value := node[key].(type) {
		case nil:
			continue
		case map[string]any:
			if err := flatten(name, value, out); err != nil {
				return err
			}
		case []any:
			parts := make([]string, 0, len(value))
			for _, item := range value {
				switch item.(type) {
				case map[string]any, []any:
					return fmt.Errorf("config file key %s: nested sequences are not supported", name)
				}
				parts = append(parts, fmt.Sprint(item))
			}
			out[name] = strings.Join(parts, ",")
		default:
			out[name] = fmt.Sprint(value)
		}
	}
	return nil
}

// layered consults primary first and falls back to file values.
func layered(primary LookupFunc, fileValues map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		if value, ok := primary(key); ok {
			return value, true
		}
		value, ok := fileValues[key]
		return value, ok
	}
}
