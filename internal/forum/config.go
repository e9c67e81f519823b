package forum

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Endpoint describes one Discourse forum: Name labels sources and digest
// sections, BaseURL hosts /t/<slug>/<id>.json topic documents, ListPath is the
// category index returning the topic list JSON.
type Endpoint struct {
	Name     string `yaml:"name"`
	BaseURL  string `yaml:"baseUrl"`
	ListPath string `yaml:"listPath"`
}

// Config is the forum section of the service configuration.
type Config struct {
	Forums []Endpoint `yaml:"forums"`
}

// DefaultEndpoints are the two community forums watched out of the box.
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{
			Name:     "Ethereum Magicians",
			BaseURL:  "https://ethereum-magicians.org",
			ListPath: "/c/protocol-calls/63.json",
		},
		{
			Name:     "Ethereum Research",
			BaseURL:  "https://ethresear.ch",
			ListPath: "/latest.json",
		},
	}
}

// LoadConfig decodes the YAML forum configuration. Missing or empty input
// falls back to the default endpoints.
func LoadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode forum config: %w", err)
	}
	if len(cfg.Forums) == 0 {
		cfg.Forums = DefaultEndpoints()
	}
	for _, f := range cfg.Forums {
		if f.Name == "" || f.BaseURL == "" || f.ListPath == "" {
			return nil, fmt.Errorf("forum endpoint %q is missing a name, baseUrl or listPath", f.Name)
		}
	}
	return &cfg, nil
}

// LoadConfigFile reads cfg from path; an empty path yields the defaults.
func LoadConfigFile(path string) (*Config, error) {
	if path == "" {
		return &Config{Forums: DefaultEndpoints()}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open forum config: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}
