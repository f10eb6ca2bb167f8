package compose

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the top-level structure of a compose service descriptor.
// Descriptors are generated per session and removed on cleanup.
type File struct {
	Services map[string]Service     `yaml:"services"`
	Networks map[string]Network     `yaml:"networks,omitempty"`
	Volumes  map[string]*VolumeSpec `yaml:"volumes,omitempty"`
}

// Service describes a single compose service.
type Service struct {
	Image         string   `yaml:"image,omitempty"`
	Build         *Build   `yaml:"build,omitempty"`
	ContainerName string   `yaml:"container_name,omitempty"`
	Environment   []string `yaml:"environment,omitempty"`
	Networks      []string `yaml:"networks,omitempty"`
	Volumes       []string `yaml:"volumes,omitempty"`
	Restart       string   `yaml:"restart,omitempty"`
	Entrypoint    string   `yaml:"entrypoint,omitempty"`
	Command       string   `yaml:"command,omitempty"`
}

// Build points a service at a local image build.
type Build struct {
	Context    string `yaml:"context"`
	Dockerfile string `yaml:"dockerfile,omitempty"`
}

// Network describes a compose network, either created or external.
type Network struct {
	Driver   string `yaml:"driver,omitempty"`
	Name     string `yaml:"name,omitempty"`
	External bool   `yaml:"external,omitempty"`
}

// VolumeSpec is a named volume definition. A nil value yields a default
// volume, which is all the session ever needs.
type VolumeSpec struct{}

// Marshal renders the descriptor as YAML.
func (f *File) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal compose file: %w", err)
	}

	return data, nil
}

// WriteFile renders the descriptor and writes it to path.
func (f *File) WriteFile(path string) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
