package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTable reads a voice table mapping names to audio locators. The file may
// be YAML or JSON. A missing file yields an empty table.
//
//	alice:
//	  - /voices/alice.wav
//	bob: ["https://example.com/bob.wav"]
func LoadTable(path string) (map[string][]string, error) {
	if path == "" {
		return map[string][]string{}, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read voice table: %w", err)
	}

	table := map[string][]string{}
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse voice table %s: %w", path, err)
	}
	return table, nil
}

// MergeTables returns a table holding every entry of base, with entries of
// override replacing base entries of the same name.
func MergeTables(base, override map[string][]string) map[string][]string {
	out := make(map[string][]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
