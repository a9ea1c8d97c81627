package source

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/splax/faasdeck/internal/domain"
)

// Manifest mirrors the docker-faas.yaml fields a build reads.
type Manifest struct {
	Name                   string            `yaml:"name"`
	Runtime                string            `yaml:"runtime"`
	Command                string            `yaml:"command"`
	Dependencies           []string          `yaml:"dependencies"`
	Env                    map[string]string `yaml:"env"`
	Labels                 map[string]string `yaml:"labels"`
	Secrets                []string          `yaml:"secrets"`
	Limits                 *domain.Resources `yaml:"limits"`
	Requests               *domain.Resources `yaml:"requests"`
	ReadOnlyRootFilesystem bool              `yaml:"readOnlyRootFilesystem"`
	Debug                  bool              `yaml:"debug"`
	Network                string            `yaml:"network"`
	Build                  []string          `yaml:"build"`
}

// ParseManifest decodes a docker-faas.yaml document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse docker-faas.yaml: %w", err)
	}
	return &m, nil
}
