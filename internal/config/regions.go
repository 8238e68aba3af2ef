package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	RunnerLambda = "lambda"
	RunnerGCR    = "gcr"
)

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

// Region is one entry of the region table: where a region's blobs live and
// how its transcoder is reached.
type Region struct {
	Name    string        `yaml:"name"`
	Storage StorageConfig `yaml:"storage"`
	Runner  string        `yaml:"runner"`
	// Lambda names the transcoder function for lambda runners.
	Lambda string `yaml:"lambda_function"`
	// Queue names the job type for gcr runners.
	Queue string `yaml:"queue"`
}

type Regions struct {
	Regions []Region `yaml:"regions"`
}

func LoadRegions(path string) (*Regions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regions file: %w", err)
	}
	return ParseRegions(data)
}

// ParseRegions decodes and validates a region table. Unknown keys are errors.
// Secrets may reference the environment as ${VAR}.
func ParseRegions(data []byte) (*Regions, error) {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)

	var r Regions
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("parse regions: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Regions) Validate() error {
	if len(r.Regions) == 0 {
		return fmt.Errorf("no regions configured")
	}

	seen := make(map[string]bool, len(r.Regions))
	for i := range r.Regions {
		reg := &r.Regions[i]
		if reg.Name == "" {
			return fmt.Errorf("region %d: name is required", i)
		}
		if seen[reg.Name] {
			return fmt.Errorf("region %s: duplicate name", reg.Name)
		}
		seen[reg.Name] = true

		if reg.Storage.Endpoint == "" || reg.Storage.Bucket == "" {
			return fmt.Errorf("region %s: storage endpoint and bucket are required", reg.Name)
		}
		if reg.Storage.Region == "" {
			reg.Storage.Region = reg.Name
		}

		switch reg.Runner {
		case RunnerLambda:
			if reg.Lambda == "" {
				return fmt.Errorf("region %s: lambda_function is required for the lambda runner", reg.Name)
			}
		case RunnerGCR:
			if reg.Queue == "" {
				reg.Queue = "transcode"
			}
		default:
			return fmt.Errorf("region %s: unknown runner %q", reg.Name, reg.Runner)
		}
	}
	return nil
}

func (r *Regions) Names() []string {
	names := make([]string, len(r.Regions))
	for i, reg := range r.Regions {
		names[i] = reg.Name
	}
	return names
}
