package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// File is the optional YAML configuration. Command-line flags win over it
// whenever they are given explicitly.
type File struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
		Encoding  string `yaml:"encoding"`
	} `yaml:"logger"`
	Backend  string `yaml:"backend"`
	Platform *int   `yaml:"platform"`
	Device   *int   `yaml:"device"`
	Runs     int    `yaml:"runs"`

	Dirs struct {
		Kernels string `yaml:"kernels"`
		Inputs  string `yaml:"inputs"`
		Outputs string `yaml:"outputs"`
	} `yaml:"directories"`
	IncludeDirs     []string `yaml:"includeDirs"`
	PreincludeFiles []string `yaml:"preincludeFiles"`
	Defines         []string `yaml:"defines"`
	Manifests       []string `yaml:"manifests"`
	MetricsFile     string   `yaml:"metricsFile"`
}

func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	err = yaml.Unmarshal(data, &f)
	if err != nil {
		return nil, err
	}

	return &f, nil
}
