package tour

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and normalizes a tour definition from a YAML file.
func Load(path string) (*Tour, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tour: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads and normalizes a tour definition from a reader.
func Parse(r io.Reader) (*Tour, error) {
	var t Tour
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("tour: decode: %w", err)
	}
	if err := t.Normalize(); err != nil {
		return nil, err
	}
	return &t, nil
}
