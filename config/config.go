package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Common errors for configuration loading.
var (
	ErrDuplicateServer = errors.New("duplicate server id")
	ErrInvalidSpec     = errors.New("invalid server spec")
)

// Type identifies a server's transport.
type Type string

// Server types.
const (
	TypeStdio Type = "stdio"
	TypeHTTP  Type = "http"
)

// ServerSpec describes one backend tool server.
type ServerSpec struct {
	ID   string `yaml:"id" json:"id"`
	Type Type   `yaml:"type" json:"type"`

	// Image and DockerArgs apply to stdio servers.
	Image      string   `yaml:"image,omitempty" json:"image,omitempty"`
	DockerArgs []string `yaml:"docker_args,omitempty" json:"docker_args,omitempty"`

	// BaseURL applies to http servers.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// Validate checks the spec's internal consistency.
func (s ServerSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSpec)
	}
	switch s.Type {
	case TypeStdio:
		if s.Image == "" {
			return fmt.Errorf("%w: %s: stdio server needs an image", ErrInvalidSpec, s.ID)
		}
	case TypeHTTP:
		if s.BaseURL == "" {
			return fmt.Errorf("%w: %s: http server needs a base_url", ErrInvalidSpec, s.ID)
		}
	default:
		return fmt.Errorf("%w: %s: unknown type %q", ErrInvalidSpec, s.ID, s.Type)
	}
	return nil
}

// Loader resolves zero or more server specs from one source.
type Loader func() ([]ServerSpec, error)

// Load runs every loader in order and concatenates the results. Specs
// are validated and duplicate ids rejected; order is preserved, and
// order matters: the registry resolves tool-name collisions in favor of
// the later server.
func Load(loaders ...Loader) ([]ServerSpec, error) {
	var specs []ServerSpec
	seen := make(map[string]bool)

	for _, load := range loaders {
		found, err := load()
		if err != nil {
			return nil, err
		}
		for _, spec := range found {
			if err := spec.Validate(); err != nil {
				return nil, err
			}
			if seen[spec.ID] {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateServer, spec.ID)
			}
			seen[spec.ID] = true
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

// FileLoader reads server specs from a YAML file shaped as
//
//	servers:
//	  - id: github
//	    type: stdio
//	    image: ghcr.io/github/github-mcp-server
//
// A missing path yields no specs rather than an error, so a file loader
// can sit in the default loader chain.
func FileLoader(path string) Loader {
	return func() ([]ServerSpec, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}

		var file struct {
			Servers []ServerSpec `yaml:"servers"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		return file.Servers, nil
	}
}

// GitHubFromEnv configures the GitHub server when
// GITHUB_PERSONAL_ACCESS_TOKEN is set.
func GitHubFromEnv() ([]ServerSpec, error) {
	token := os.Getenv("GITHUB_PERSONAL_ACCESS_TOKEN")
	if token == "" {
		return nil, nil
	}
	return []ServerSpec{{
		ID:    "github",
		Type:  TypeStdio,
		Image: "ghcr.io/github/github-mcp-server",
		DockerArgs: []string{
			"-e", "GITHUB_PERSONAL_ACCESS_TOKEN=" + token,
			"-e", "GITHUB_TOOLSETS=all",
		},
	}}, nil
}

// BraveSearchFromEnv configures the Brave Search server when
// BRAVE_API_KEY is set.
func BraveSearchFromEnv() ([]ServerSpec, error) {
	key := os.Getenv("BRAVE_API_KEY")
	if key == "" {
		return nil, nil
	}
	return []ServerSpec{{
		ID:         "brave-search",
		Type:       TypeStdio,
		Image:      "mcp/brave-search",
		DockerArgs: []string{"-e", "BRAVE_API_KEY=" + key},
	}}, nil
}

// GoogleMapsFromEnv configures the Google Maps server when
// GOOGLE_MAPS_API_KEY is set.
func GoogleMapsFromEnv() ([]ServerSpec, error) {
	key := os.Getenv("GOOGLE_MAPS_API_KEY")
	if key == "" {
		return nil, nil
	}
	return []ServerSpec{{
		ID:         "google-maps",
		Type:       TypeStdio,
		Image:      "mcp/google-maps",
		DockerArgs: []string{"-e", "GOOGLE_MAPS_API_KEY=" + key},
	}}, nil
}

// EnvLoaders is the default chain of environment loaders.
func EnvLoaders() []Loader {
	return []Loader{GitHubFromEnv, BraveSearchFromEnv, GoogleMapsFromEnv}
}
