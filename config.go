package venator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root engine configuration, per spec.md §6.4. It keeps the
// YAML tags and defaulting method of the teacher's app.Config in one flat
// struct (no per-concern nested structs) and drops the flag.FlagSet
// registration surface: command-line parsing belongs to the host
// application, not the engine.
type Config struct {
	// DatasetPath is the SQLite file backing persistence. Empty means
	// memory-only: ingestion and query run exactly the same, but nothing
	// survives a restart.
	DatasetPath string `yaml:"dataset_path,omitempty"`

	// IndexedAttributes names the attributes given a standing attribute
	// index, per §9's eager-on-configured-list decision.
	IndexedAttributes []string `yaml:"indexed_attributes,omitempty"`

	PendingParentCapacity int           `yaml:"pending_parent_capacity,omitempty"`
	PendingParentTTL      time.Duration `yaml:"pending_parent_ttl,omitempty"`

	PersistBatchBytes   int           `yaml:"persist_batch_bytes,omitempty"`
	PersistBatchMaxAge  time.Duration `yaml:"persist_batch_max_age,omitempty"`
	PersistQueueDepth   int           `yaml:"persist_queue_depth,omitempty"`

	// LiveSubscriberBuffer bounds the per-subscriber channel subscribe_live
	// hands back; a slow consumer has its oldest unread record dropped
	// rather than blocking ingestion.
	LiveSubscriberBuffer int `yaml:"live_subscriber_buffer,omitempty"`
}

// RegisterDefaults fills any zero-valued field with its default, matching
// the teacher's defaultConfig idiom (tempodb/pool.defaultConfig) applied
// per-field instead of whole-struct, since a host may only override a few
// knobs from a zero-value Config.
func (c *Config) RegisterDefaults() {
	if c.PendingParentCapacity <= 0 {
		c.PendingParentCapacity = 10000
	}
	if c.PendingParentTTL <= 0 {
		c.PendingParentTTL = 30 * time.Second
	}
	if c.PersistBatchBytes <= 0 {
		c.PersistBatchBytes = 8 << 20
	}
	if c.PersistBatchMaxAge <= 0 {
		c.PersistBatchMaxAge = 100 * time.Millisecond
	}
	if c.PersistQueueDepth <= 0 {
		c.PersistQueueDepth = 4096
	}
	if c.LiveSubscriberBuffer <= 0 {
		c.LiveSubscriberBuffer = 256
	}
}

// Validate reports whether the config can be used to build an Engine.
func (c *Config) Validate() error {
	if c.PendingParentCapacity < 0 {
		return errConfig("pending_parent_capacity must be >= 0")
	}
	if c.PersistBatchBytes < 0 {
		return errConfig("persist_batch_bytes must be >= 0")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfig(msg string) error { return configError(msg) }

// LoadConfig reads a YAML config file and applies defaults, mirroring how
// the teacher's app.Config is loaded from a file before flag overrides are
// applied — here there is no flag layer, so this is the whole load path.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("venator: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("venator: parse config %s: %w", path, err)
	}
	cfg.RegisterDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
