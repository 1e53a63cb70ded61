package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	toml "github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

type format struct {
	name      string
	unmarshal func([]byte, any) error
}

// formats maps file extensions to decoders whose output is re-encoded as JSON,
// so a single strict JSON decode handles every format. Other extensions are
// read as JSON directly.
var formats = map[string]format{
	".yaml": {"yaml", yaml.Unmarshal},
	".yml":  {"yaml", yaml.Unmarshal},
	".toml": {"toml", toml.Unmarshal},
}

func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	f, ok := formats[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return data, "json", nil
	}
	var tree map[string]any
	if err := f.unmarshal(data, &tree); err != nil {
		return nil, f.name, errors.Wrapf(err, "parse %s", f.name)
	}
	out, err := json.Marshal(stringKeys(tree))
	if err != nil {
		return nil, f.name, errors.Wrapf(err, "re-encode %s as json", f.name)
	}
	return out, f.name, nil
}

// stringKeys rewrites nested maps so every key is a string; YAML may produce
// map[any]any for non-string keys, which encoding/json refuses.
func stringKeys(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			node[k] = stringKeys(child)
		}
		return node
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[fmt.Sprint(k)] = stringKeys(child)
		}
		return out
	case []any:
		for i, child := range node {
			node[i] = stringKeys(child)
		}
		return node
	case []map[string]any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = stringKeys(child)
		}
		return out
	}
	return v
}
