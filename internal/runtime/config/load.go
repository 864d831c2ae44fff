package config

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses TOML from r. Unknown keys are rejected so typos surface
// at start-up.
func Decode(r io.Reader) (*Config, error) {
	var cfg Config
	meta, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode config: unknown keys %v", undecoded)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
