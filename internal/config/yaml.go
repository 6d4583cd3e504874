package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toStrictJSON returns the config file contents as JSON. Files named *.yaml
// or *.yml are decoded with the YAML parser and re-encoded as JSON; anything
// else is assumed to already be JSON and passed through untouched. The
// manager then runs a single strict decoder (DisallowUnknownFields) over the
// result, so unknown keys are caught in either format.
func toStrictJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	j, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("encode yaml as json: %w", err)
	}
	return j, nil
}

// stringifyKeys rewrites map[any]any keys to strings recursively. The YAML
// parser can produce such maps and json.Marshal refuses non-string keys.
func stringifyKeys(v any) any {
	switch x := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = stringifyKeys(val)
		}
		return out
	case map[string]any:
		for k, val := range x {
			x[k] = stringifyKeys(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = stringifyKeys(val)
		}
		return x
	default:
		return v
	}
}
