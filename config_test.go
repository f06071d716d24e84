package venator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDefaultsFillsZeroFieldsOnly(t *testing.T) {
	cfg := Config{PendingParentCapacity: 5}
	cfg.RegisterDefaults()

	assert.Equal(t, 5, cfg.PendingParentCapacity)
	assert.Equal(t, 30*time.Second, cfg.PendingParentTTL)
	assert.Equal(t, 8<<20, cfg.PersistBatchBytes)
	assert.Equal(t, 100*time.Millisecond, cfg.PersistBatchMaxAge)
	assert.Equal(t, 4096, cfg.PersistQueueDepth)
	assert.Equal(t, 256, cfg.LiveSubscriberBuffer)
}

func TestValidateRejectsNegativeValues(t *testing.T) {
	cfg := Config{PendingParentCapacity: -1}
	assert.Error(t, cfg.Validate())

	cfg = Config{PersistBatchBytes: -1}
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigReadsYAMLAndAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "dataset_path: /tmp/venator.db\nindexed_attributes:\n  - http.status\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/venator.db", cfg.DatasetPath)
	assert.Equal(t, []string{"http.status"}, cfg.IndexedAttributes)
	assert.Equal(t, 30*time.Second, cfg.PendingParentTTL) // default applied
}

func TestLoadConfigMissingFileErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
