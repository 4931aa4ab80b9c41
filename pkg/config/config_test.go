package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	_, err := Load("/nonexistent/path/tierkv.yaml")
	require.Error(t, err, "expected error for nonexistent path")

	// Load with empty path uses default search (may use defaults if no config file)
	cfg, _ := Load("")
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ":9090", cfg.Server.TCPAddr)
	assert.Equal(t, 16, cfg.Storage.ShardCount)
	assert.Equal(t, "cold.db", cfg.Storage.ColdFile)
	assert.Equal(t, 1, cfg.Storage.DestroyDelayCycles)
	assert.Equal(t, time.Second, cfg.Eviction.Interval)
	assert.True(t, cfg.Checkpoint.SaveVersion)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	content := `
server:
  addr: ":9000"
  tcp_addr: ":9001"
storage:
  path: "test_data"
  shard_count: 8
  total_dims: 16
  memory_limit_bytes: 1048576
  destroy_delay_cycles: 2
eviction:
  hot_capacity: 500
  interval: 250ms
  keys_per_sec: 100
checkpoint:
  min_frequency: 3
log:
  level: debug
  development: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Storage.ShardCount)
	assert.Equal(t, int64(16), cfg.Storage.TotalDims)
	assert.Equal(t, int64(1048576), cfg.Storage.MemoryLimitBytes)
	assert.Equal(t, 2, cfg.Storage.DestroyDelayCycles)
	assert.Equal(t, int64(500), cfg.Eviction.HotCapacity)
	assert.Equal(t, 250*time.Millisecond, cfg.Eviction.Interval)
	assert.Equal(t, 100, cfg.Eviction.KeysPerSec)
	assert.Equal(t, int64(3), cfg.Checkpoint.MinFrequency)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)

	// untouched keys keep their defaults
	assert.Equal(t, 32, cfg.Storage.BTreeDegree)
	assert.Equal(t, 1000, cfg.Eviction.BatchSize)
	assert.Equal(t, "lfu", cfg.Eviction.Policy)
}
