// Package spec defines the resource specification accepted by the
// provisioner: an abstract description of the compute instance and managed
// MySQL database a session should create. Specifications arrive as JSON from
// a local file, an HTTP endpoint or built-in defaults.
package spec

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-retryablehttp"
)

// ComputeSpec describes the requested virtual machine in provider-neutral
// terms. Providers map it onto their closest instance type.
type ComputeSpec struct {
	CPUCores int    `json:"cpu_cores"`
	MemoryGB int    `json:"memory_gb"`
	DiskGB   int    `json:"disk_gb"`
	GPUClass string `json:"gpu_class,omitempty"`
}

// DatabaseSpec describes the requested managed MySQL database.
type DatabaseSpec struct {
	CPUCores      int    `json:"cpu_cores"`
	MemoryMB      int    `json:"memory_mb"`
	StorageGB     int    `json:"storage_gb"`
	EngineVersion string `json:"engine_version"`
}

// ResourceSpec is the full specification for one provisioning session.
// Compute and Database are independently optional; an empty spec provisions
// only the network.
type ResourceSpec struct {
	Region   string        `json:"region"`
	Compute  *ComputeSpec  `json:"compute,omitempty"`
	Database *DatabaseSpec `json:"database,omitempty"`
}

// Default returns the specification used when none is supplied: a small
// general-purpose instance and no database.
func Default() *ResourceSpec {
	return &ResourceSpec{
		Compute: &ComputeSpec{
			CPUCores: 2,
			MemoryGB: 4,
			DiskGB:   50,
		},
	}
}

// Parse decodes a JSON specification and applies validation defaults.
func Parse(data []byte) (*ResourceSpec, error) {
	var rs ResourceSpec
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse resource spec: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Load reads a specification from a local JSON file.
func Load(path string) (*ResourceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource spec: %w", err)
	}
	return Parse(data)
}

// Fetch retrieves a specification from an HTTP endpoint, retrying transient
// failures.
func Fetch(url string) (*ResourceSpec, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch resource spec: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("failed to fetch resource spec: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource spec response: %w", err)
	}
	return Parse(data)
}

// Validate checks ranges and fills defaults for omitted fields.
func (rs *ResourceSpec) Validate() error {
	if c := rs.Compute; c != nil {
		if c.CPUCores <= 0 {
			c.CPUCores = 2
		}
		if c.MemoryGB <= 0 {
			c.MemoryGB = 4
		}
		if c.DiskGB == 0 {
			c.DiskGB = 50
		}
		if c.DiskGB < 20 {
			return fmt.Errorf("compute disk_gb must be at least 20, got %d", c.DiskGB)
		}
	}
	if d := rs.Database; d != nil {
		if d.CPUCores <= 0 {
			d.CPUCores = 2
		}
		if d.MemoryMB <= 0 {
			d.MemoryMB = 4000
		}
		if d.StorageGB <= 0 {
			d.StorageGB = 100
		}
		if d.EngineVersion == "" {
			d.EngineVersion = "8.0"
		}
	}
	return nil
}

// Render returns the spec as indented JSON for session snapshots.
func (rs *ResourceSpec) Render() string {
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Sprintf("unrenderable spec: %v", err)
	}
	return string(data)
}
