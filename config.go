package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tonysebion/medallion-foundry-sub003/pipeline"
	"github.com/tonysebion/medallion-foundry-sub003/silver"
	"github.com/tonysebion/medallion-foundry-sub003/watermark"
)

// Config holds all configuration for the medallion foundry service.
type Config struct {
	Service   ServiceConfig    `yaml:"service"`
	Storage   StorageConfig    `yaml:"storage"`
	State     StateConfig      `yaml:"state"`
	Integrity IntegrityConfig  `yaml:"integrity"`
	Silver    SilverConfig     `yaml:"silver"`
	Datasets  []DatasetConfig  `yaml:"datasets"`
}

// ServiceConfig contains service-level settings.
type ServiceConfig struct {
	Name               string `yaml:"name"`
	Environment        string `yaml:"environment"`
	HealthPort         string `yaml:"health_port"`
	RunIntervalMinutes int    `yaml:"run_interval_minutes"`
	RunOnce            bool   `yaml:"run_once"`
}

// StorageConfig selects the state persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // "local" or "s3"

	Local struct {
		Dir string `yaml:"dir"`
	} `yaml:"local"`

	S3 struct {
		Bucket   string `yaml:"bucket"`
		Prefix   string `yaml:"prefix"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"s3"`
}

// StateConfig tunes the watermark and checkpoint stores.
type StateConfig struct {
	WatermarkPrefix  string `yaml:"watermark_prefix"`
	CheckpointPrefix string `yaml:"checkpoint_prefix"`
	LeaseTTLMinutes  int    `yaml:"lease_ttl_minutes"`
	KeepCheckpoints  int    `yaml:"keep_checkpoints"`
}

// IntegrityConfig tunes the verification gate and quarantine.
type IntegrityConfig struct {
	VerifyInput          bool   `yaml:"verify_input"`
	QuarantineEnabled    bool   `yaml:"quarantine_enabled"`
	FreshnessSkipSeconds int    `yaml:"freshness_skip_seconds"`
	ManifestName         string `yaml:"manifest_name"`
	WriteOutputManifests bool   `yaml:"write_output_manifests"`
}

// SilverConfig tunes the transformation runner.
type SilverConfig struct {
	OutputDir string `yaml:"output_dir"`
	Workers   int    `yaml:"workers"`
}

// DatasetConfig declares one dataset's Silver intent plus where its Bronze
// partitions live.
type DatasetConfig struct {
	SourceKey    string `yaml:"source_key"`
	Domain       string `yaml:"domain"`
	Entity       string `yaml:"entity"`
	SourceSystem string `yaml:"source_system"`
	Owner        string `yaml:"owner"`

	EntityKind string `yaml:"entity_kind"`
	HistoryMode string `yaml:"history_mode"`
	InputMode   string `yaml:"input_mode"`
	DeleteMode  string `yaml:"delete_mode"`
	SchemaMode  string `yaml:"schema_mode"`

	NaturalKeys      []string `yaml:"natural_keys"`
	EventTSColumn    string   `yaml:"event_ts_column"`
	ChangeTSColumn   string   `yaml:"change_ts_column"`
	Attributes       []string `yaml:"attributes"`
	SoftDeleteColumn string   `yaml:"soft_delete_column"`

	PartitionBy         []string `yaml:"partition_by"`
	RecordTimeColumn    string   `yaml:"record_time_column"`
	RecordTimePartition string   `yaml:"record_time_partition"`

	RequireChecksum bool `yaml:"require_checksum"`

	WatermarkColumn string `yaml:"watermark_column"`
	WatermarkType   string `yaml:"watermark_type"`

	// Partitions lists explicit partition directories; PartitionRoot scans
	// immediate subdirectories instead. Either works, both combine.
	Partitions    []string `yaml:"partitions"`
	PartitionRoot string   `yaml:"partition_root"`
}

// LoadConfig loads configuration from a YAML file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults sets default values.
func (c *Config) ApplyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "medallion-foundry"
	}
	if c.Service.Environment == "" {
		c.Service.Environment = "dev"
	}
	if c.Service.HealthPort == "" {
		c.Service.HealthPort = "8099"
	}
	if c.Service.RunIntervalMinutes == 0 {
		c.Service.RunIntervalMinutes = 15
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.Local.Dir == "" {
		c.Storage.Local.Dir = "./state"
	}
	if c.State.LeaseTTLMinutes == 0 {
		c.State.LeaseTTLMinutes = 30
	}
	if c.Silver.Workers == 0 {
		c.Silver.Workers = 4
	}
	if c.Silver.OutputDir == "" {
		c.Silver.OutputDir = "./silver"
	}
}

// Validate checks the configuration, including every dataset intent.
// Invalid intents are rejected here, at definition time, not mid-transform.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if len(c.Datasets) == 0 {
		return fmt.Errorf("at least one dataset is required")
	}
	for i := range c.Datasets {
		d := &c.Datasets[i]
		if d.SourceKey == "" {
			return fmt.Errorf("datasets[%d]: source_key is required", i)
		}
		if len(d.Partitions) == 0 && d.PartitionRoot == "" {
			return fmt.Errorf("dataset %s: partitions or partition_root is required", d.SourceKey)
		}
		if _, err := d.ToIntent(); err != nil {
			return err
		}
	}
	return nil
}

// LeaseTTL returns the checkpoint lease TTL as a duration.
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.State.LeaseTTLMinutes) * time.Minute
}

// RunInterval returns the loop interval as a duration.
func (c *Config) RunInterval() time.Duration {
	return time.Duration(c.Service.RunIntervalMinutes) * time.Minute
}

// ToIntent builds and validates the dataset's Silver intent.
func (d *DatasetConfig) ToIntent() (*silver.Intent, error) {
	kind, err := silver.ParseEntityKind(d.EntityKind)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", d.SourceKey, err)
	}

	intent := &silver.Intent{
		Domain:              d.Domain,
		Entity:              d.Entity,
		SourceSystem:        d.SourceSystem,
		Owner:               d.Owner,
		EntityKind:          kind,
		NaturalKeys:         d.NaturalKeys,
		EventTSColumn:       d.EventTSColumn,
		ChangeTSColumn:      d.ChangeTSColumn,
		Attributes:          d.Attributes,
		SoftDeleteColumn:    d.SoftDeleteColumn,
		PartitionBy:         d.PartitionBy,
		RecordTimeColumn:    d.RecordTimeColumn,
		RecordTimePartition: d.RecordTimePartition,
		RequireChecksum:     d.RequireChecksum,
	}

	// Modes are parsed only when declared; the intent's own validation
	// applies kind-appropriate defaults.
	if d.HistoryMode != "" {
		if intent.HistoryMode, err = silver.ParseHistoryMode(d.HistoryMode); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", d.SourceKey, err)
		}
	}
	if d.InputMode != "" {
		if intent.InputMode, err = silver.ParseInputMode(d.InputMode); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", d.SourceKey, err)
		}
	}
	if intent.DeleteMode, err = silver.ParseDeleteMode(d.DeleteMode); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", d.SourceKey, err)
	}
	if intent.SchemaMode, err = silver.ParseSchemaMode(d.SchemaMode); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", d.SourceKey, err)
	}

	if err := intent.Validate(); err != nil {
		return nil, err
	}
	return intent, nil
}

// DiscoverTasks expands every dataset into per-partition tasks.
func (c *Config) DiscoverTasks() ([]pipeline.Task, error) {
	var tasks []pipeline.Task

	for i := range c.Datasets {
		d := &c.Datasets[i]

		intent, err := d.ToIntent()
		if err != nil {
			return nil, err
		}

		wmType := watermark.TypeTimestamp
		if d.WatermarkType != "" {
			if wmType, err = watermark.ParseType(d.WatermarkType); err != nil {
				return nil, fmt.Errorf("dataset %s: %w", d.SourceKey, err)
			}
		}

		partitions := append([]string(nil), d.Partitions...)
		if d.PartitionRoot != "" {
			entries, err := os.ReadDir(d.PartitionRoot)
			if err != nil {
				return nil, fmt.Errorf("dataset %s: failed to scan partition root: %w", d.SourceKey, err)
			}
			for _, e := range entries {
				if e.IsDir() && e.Name() != "_quarantine" {
					partitions = append(partitions, filepath.Join(d.PartitionRoot, e.Name()))
				}
			}
		}
		sort.Strings(partitions)

		for _, p := range partitions {
			tasks = append(tasks, pipeline.Task{
				SourceKey:       d.SourceKey,
				PartitionPath:   p,
				Intent:          intent,
				WatermarkColumn: d.WatermarkColumn,
				WatermarkType:   wmType,
			})
		}
	}
	return tasks, nil
}
