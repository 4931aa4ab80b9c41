package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Eviction   EvictionConfig   `yaml:"eviction"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`     // HTTP Listen Address (e.g. :8080)
	TCPAddr string `yaml:"tcp_addr"` // TCP Listen Address (e.g. :9090)
}

// StorageConfig is fixed once a store is built.
type StorageConfig struct {
	Path               string  `yaml:"path"`
	ColdFile           string  `yaml:"cold_file"`
	ShardCount         int     `yaml:"shard_count"`
	BTreeDegree        int     `yaml:"btree_degree"`
	TotalDims          int64   `yaml:"total_dims"`
	BloomSize          uint    `yaml:"bloom_size"`
	BloomFalseProb     float64 `yaml:"bloom_false_prob"`
	MemoryLimitBytes   int64   `yaml:"memory_limit_bytes"` // 0 = unlimited
	DestroyDelayCycles int     `yaml:"destroy_delay_cycles"`
}

type EvictionConfig struct {
	Enabled     bool          `yaml:"enabled"`
	HotCapacity int64         `yaml:"hot_capacity"`
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	KeysPerSec  int           `yaml:"keys_per_sec"` // 0 = unthrottled
	Policy      string        `yaml:"policy"`       // lfu | version
}

// CheckpointConfig is handed to checkpoint filter policies.
type CheckpointConfig struct {
	Dir           string `yaml:"dir"`
	MinFrequency  int64  `yaml:"min_frequency"`
	SaveVersion   bool   `yaml:"save_version"`
	SaveFrequency bool   `yaml:"save_frequency"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    ":8080",
			TCPAddr: ":9090",
		},
		Storage: StorageConfig{
			Path:               "tier_data",
			ColdFile:           "cold.db",
			ShardCount:         16,
			BTreeDegree:        32,
			BloomSize:          100000,
			BloomFalseProb:     0.01,
			DestroyDelayCycles: 1,
		},
		Eviction: EvictionConfig{
			Enabled:     true,
			HotCapacity: 100000,
			Interval:    time.Second,
			BatchSize:   1000,
			Policy:      "lfu",
		},
		Checkpoint: CheckpointConfig{
			Dir:           "checkpoints",
			SaveVersion:   true,
			SaveFrequency: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range []string{"configs/tierkv.yaml", "tierkv.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, err
				}
				applyDefaults(cfg)
				return cfg, nil
			}
		}
		applyDefaults(cfg)
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "tier_data"
	}
	if cfg.Storage.ColdFile == "" {
		cfg.Storage.ColdFile = "cold.db"
	}
	if cfg.Storage.ShardCount <= 0 {
		cfg.Storage.ShardCount = 16
	}
	if cfg.Storage.BTreeDegree < 2 {
		cfg.Storage.BTreeDegree = 32
	}
	if cfg.Storage.BloomSize == 0 {
		cfg.Storage.BloomSize = 100000
	}
	if cfg.Storage.BloomFalseProb <= 0 || cfg.Storage.BloomFalseProb >= 1 {
		cfg.Storage.BloomFalseProb = 0.01
	}
	if cfg.Storage.DestroyDelayCycles <= 0 {
		cfg.Storage.DestroyDelayCycles = 1
	}
	if cfg.Eviction.Interval <= 0 {
		cfg.Eviction.Interval = time.Second
	}
	if cfg.Eviction.BatchSize <= 0 {
		cfg.Eviction.BatchSize = 1000
	}
	if cfg.Eviction.Policy == "" {
		cfg.Eviction.Policy = "lfu"
	}
	if cfg.Checkpoint.Dir == "" {
		cfg.Checkpoint.Dir = "checkpoints"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
