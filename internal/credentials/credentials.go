package credentials

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Store is a flat key/value lookup for publisher API keys loaded from a YAML
// file. Strategies consult it once at construction time.
type Store struct {
	keys map[string]string
}

// Load reads the credentials file. A missing file yields an empty store so
// every keyed strategy silently falls back to its scrape transport; a file
// that exists but cannot be parsed is a configuration error.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Store{keys: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("read credentials %s: %w", path, err)
	}

	keys := map[string]string{}
	if err := yaml.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return &Store{keys: keys}, nil
}

// Empty returns a store with no keys configured.
func Empty() *Store {
	return &Store{keys: map[string]string{}}
}

// Key returns the named API key or an empty string when it is absent.
func (s *Store) Key(name string) string {
	if s == nil {
		return ""
	}
	return s.keys[name]
}
