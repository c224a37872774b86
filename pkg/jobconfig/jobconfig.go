// Package jobconfig loads the relocation engine's job parameters and
// size-configuration keys from a YAML file.
package jobconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SizeKey names one of the four size-configuration keys the storage
// sizer consults. All values are in bytes; zero means "auto".
type SizeKey string

const (
	MemBufferSize          SizeKey = "MEM_BUFFER_SIZE"
	SecondaryStorageSize   SizeKey = "SECONDARY_STORAGE_SIZE"
	PrimaryStorageExact    SizeKey = "PRIMARY_STORAGE_EXACT_SIZE"
	SecondaryStorageExact  SizeKey = "SECONDARY_STORAGE_EXACT_SIZE"
)

// Config is a relocation job's on-disk configuration.
type Config struct {
	DevicePath   string `yaml:"device_path"`
	LoopFilePath string `yaml:"loop_file_path"`

	MemBufferSize         uint64 `yaml:"mem_buffer_size"`
	SecondaryStorageSize  uint64 `yaml:"secondary_storage_size"`
	PrimaryStorageExact   uint64 `yaml:"primary_storage_exact_size"`
	SecondaryStorageExact uint64 `yaml:"secondary_storage_exact_size"`

	SecondaryStoragePath string `yaml:"secondary_storage_path"`
	Verbose              bool   `yaml:"verbose"`
}

// Size returns the configured value for key, or 0 ("auto") if unset.
func (c *Config) Size(key SizeKey) uint64 {
	switch key {
	case MemBufferSize:
		return c.MemBufferSize
	case SecondaryStorageSize:
		return c.SecondaryStorageSize
	case PrimaryStorageExact:
		return c.PrimaryStorageExact
	case SecondaryStorageExact:
		return c.SecondaryStorageExact
	default:
		return 0
	}
}

// SetSize sets the configured value for key; the devices'
// SetJobStorageSize forwards here.
func (c *Config) SetSize(key SizeKey, value uint64) {
	switch key {
	case MemBufferSize:
		c.MemBufferSize = value
	case SecondaryStorageSize:
		c.SecondaryStorageSize = value
	case PrimaryStorageExact:
		c.PrimaryStorageExact = value
	case SecondaryStorageExact:
		c.SecondaryStorageExact = value
	}
}

// Load reads and parses a job configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing job config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling job config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
