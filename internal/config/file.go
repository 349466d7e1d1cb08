package config

import (
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// readFile loads a flat YAML mapping and returns it keyed by environment
// variable name: poll_interval becomes POLL_INTERVAL. Sequence values are
// joined with commas so allowed_users may be written as a list.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch x := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(x))
			for _, item := range x {
				parts = append(parts, fmt.Sprint(item))
			}
			out[key] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("config file %s: key %q must be a scalar or list", path, k)
		default:
			out[key] = fmt.Sprint(x)
		}
	}
	return out, nil
}
