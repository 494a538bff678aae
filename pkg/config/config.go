package config

import (
	"fmt"
	"time"
)

// Config is the top-level tallyd configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Counter CounterConfig `yaml:"counter"`
	Filter  FilterConfig  `yaml:"filter"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Dedup   DedupConfig   `yaml:"dedup"`
	Metrics MetricsConfig `yaml:"metrics"`
	Audit   AuditConfig   `yaml:"audit"`
	Gateway GatewayConfig `yaml:"gateway"`
}

// StoreConfig configures the badger-backed counter store.
type StoreConfig struct {
	Path     string        `yaml:"path"`      // badger directory; default "/var/lib/tallyd"
	InMemory bool          `yaml:"in_memory"` // ephemeral store, for local runs only
	GCEvery  time.Duration `yaml:"gc_every"`  // value-log GC interval; default 10m
}

// CounterConfig names the single tracked counter.
type CounterConfig struct {
	Table string `yaml:"table"` // logical table/collection name; default "counters"
	ID    string `yaml:"id"`    // fixed counter record id; default "visit_count"
	Field string `yaml:"field"` // numeric field to add to; default "count"
}

// FilterConfig is the match rule for inbound audit events.
type FilterConfig struct {
	Bucket    string `yaml:"bucket"`     // monitored container name (required)
	Source    string `yaml:"source"`     // audit channel; default "aws.s3"
	EventName string `yaml:"event_name"` // read-access kind; default "GetObject"
}

// IngestConfig configures the event ingest HTTP server.
type IngestConfig struct {
	Addr string `yaml:"addr"` // default ":8080"
}

// DedupConfig enables idempotent counting keyed on event ids.
// Off by default: without it, at-least-once delivery double-counts.
type DedupConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"` // dedup marker lifetime; default 24h
}

// MetricsConfig configures the Prometheus metrics and health endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"` // pointer to distinguish unset from false; default true
	Addr    string `yaml:"addr"`    // listen address; default ":9090"
}

// MetricsEnabled returns whether the metrics server should run.
func (m MetricsConfig) MetricsEnabled() bool {
	if m.Enabled == nil {
		return true // default: enabled
	}
	return *m.Enabled
}

// AuditConfig configures the audit-event collector used by event producers
// (the gateway, or anything embedding the collector).
type AuditConfig struct {
	Sink          string        `yaml:"sink"` // "http", "stdout", "file", "nop"
	FilePath      string        `yaml:"file_path"`
	IngestAddr    string        `yaml:"ingest_addr"` // base URL of the tallyd ingest server
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"` // HTTP delivery retries per batch
}

// GatewayConfig configures the object gateway.
type GatewayConfig struct {
	Addr        string            `yaml:"addr"`    // default ":8081"
	BackendType string            `yaml:"backend"` // rclone backend type: "local", "s3", "azureblob", ...
	Root        string            `yaml:"root"`    // bucket/container + optional prefix
	Bucket      string            `yaml:"bucket"`  // container name reported in audit events; default filter.bucket
	Params      map[string]string `yaml:"params"`  // rclone config keys
}

func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = "/var/lib/tallyd"
	}
	if c.Store.GCEvery <= 0 {
		c.Store.GCEvery = 10 * time.Minute
	}
	if c.Counter.Table == "" {
		c.Counter.Table = "counters"
	}
	if c.Counter.ID == "" {
		c.Counter.ID = "visit_count"
	}
	if c.Counter.Field == "" {
		c.Counter.Field = "count"
	}
	if c.Filter.Source == "" {
		c.Filter.Source = "aws.s3"
	}
	if c.Filter.EventName == "" {
		c.Filter.EventName = "GetObject"
	}
	if c.Ingest.Addr == "" {
		c.Ingest.Addr = ":8080"
	}
	if c.Dedup.TTL <= 0 {
		c.Dedup.TTL = 24 * time.Hour
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Audit.Sink == "" {
		c.Audit.Sink = "http"
	}
	if c.Audit.IngestAddr == "" {
		c.Audit.IngestAddr = "http://localhost:8080"
	}
	if c.Audit.BatchSize <= 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval <= 0 {
		c.Audit.FlushInterval = 2 * time.Second
	}
	if c.Audit.MaxRetries < 0 {
		c.Audit.MaxRetries = 0
	}
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = ":8081"
	}
	if c.Gateway.Bucket == "" {
		c.Gateway.Bucket = c.Filter.Bucket
	}
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	if c.Filter.Bucket == "" {
		return fmt.Errorf("config: filter.bucket is required (the monitored container)")
	}
	if c.Counter.ID == "" {
		return fmt.Errorf("config: counter.id cannot be empty")
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("config: store.path is required unless store.in_memory is set")
	}
	if c.Dedup.Enabled && c.Dedup.TTL <= 0 {
		return fmt.Errorf("config: dedup.ttl must be positive, got %s", c.Dedup.TTL)
	}
	switch c.Audit.Sink {
	case "", "http", "stdout", "file", "nop":
	default:
		return fmt.Errorf("config: unknown audit sink %q", c.Audit.Sink)
	}
	if c.Audit.Sink == "file" && c.Audit.FilePath == "" {
		return fmt.Errorf("config: audit.file_path is required for the file sink")
	}
	if c.Gateway.BackendType != "" && c.Gateway.Root == "" {
		return fmt.Errorf("config: gateway.root is required when gateway.backend is set")
	}
	return nil
}
