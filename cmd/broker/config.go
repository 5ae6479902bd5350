// Copyright 2026 The Lakestream Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lakestream-io/lakestream/pkg/acl"
)

const (
	backendObject   = "object"
	backendPostgres = "postgres"
)

type s3Settings struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	KMSKeyARN      string `yaml:"kms_key_arn"`
}

type healthSettings struct {
	WindowSec     int     `yaml:"window_sec"`
	LatencyWarnMs int     `yaml:"latency_warn_ms"`
	LatencyCritMs int     `yaml:"latency_crit_ms"`
	ErrorRateWarn float64 `yaml:"error_rate_warn"`
	ErrorRateCrit float64 `yaml:"error_rate_crit"`
}

type storageSettings struct {
	BufferMaxBytes        int64 `yaml:"buffer_max_bytes"`
	BufferMaxMessages     int32 `yaml:"buffer_max_messages"`
	BufferMaxBatches      int   `yaml:"buffer_max_batches"`
	BufferFlushMs         int   `yaml:"buffer_flush_ms"`
	IndexIntervalMessages int32 `yaml:"index_interval_messages"`
	CacheBytes            int   `yaml:"cache_bytes"`
	ReadAheadSegments     int   `yaml:"readahead_segments"`
	MaxConcurrentOps      int64 `yaml:"max_concurrent_ops"`
}

type retentionSettings struct {
	MaxAgeMs    int64 `yaml:"max_age_ms"`
	MaxBytes    int64 `yaml:"max_bytes"`
	IntervalSec int   `yaml:"interval_sec"`
}

// brokerConfig is populated from an optional YAML file named by
// LAKESTREAM_CONFIG, then overridden field by field from the environment.
type brokerConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	MetricsAddr    string `yaml:"metrics_addr"`
	AdvertisedHost string `yaml:"advertised_host"`
	AdvertisedPort int    `yaml:"advertised_port"`
	NodeID         int    `yaml:"node_id"`
	ClusterID      string `yaml:"cluster_id"`
	ProxyProtocol  bool   `yaml:"proxy_protocol"`

	Backend     string `yaml:"backend"`
	Namespace   string `yaml:"namespace"`
	PostgresDSN string `yaml:"postgres_dsn"`

	S3 s3Settings `yaml:"s3"`

	AutoCreateTopics     bool  `yaml:"auto_create_topics"`
	AutoCreatePartitions int32 `yaml:"auto_create_partitions"`
	SequencerQueue       int   `yaml:"sequencer_queue"`

	Storage   storageSettings   `yaml:"storage"`
	Health    healthSettings    `yaml:"health"`
	Retention retentionSettings `yaml:"retention"`

	ACL acl.Config `yaml:"acl"`
}

func defaultBrokerConfig() brokerConfig {
	return brokerConfig{
		ListenAddr:           ":9092",
		MetricsAddr:          ":9093",
		AdvertisedHost:       "localhost",
		AdvertisedPort:       9092,
		NodeID:               1,
		ClusterID:            "lakestream",
		Backend:              backendObject,
		Namespace:            "lakestream",
		AutoCreateTopics:     true,
		AutoCreatePartitions: 1,
		SequencerQueue:       64,
		Storage: storageSettings{
			BufferMaxBytes:        4 << 20,
			BufferFlushMs:         500,
			IndexIntervalMessages: 100,
			CacheBytes:            32 << 20,
			ReadAheadSegments:     2,
			MaxConcurrentOps:      8,
		},
		Health: healthSettings{
			WindowSec:     60,
			LatencyWarnMs: 500,
			LatencyCritMs: 3000,
			ErrorRateWarn: 0.2,
			ErrorRateCrit: 0.6,
		},
		Retention: retentionSettings{
			IntervalSec: 300,
		},
	}
}

func loadBrokerConfig() (brokerConfig, error) {
	cfg := defaultBrokerConfig()
	if path := strings.TrimSpace(os.Getenv("LAKESTREAM_CONFIG")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	switch cfg.Backend {
	case backendObject, backendPostgres:
	default:
		return cfg, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if cfg.Backend == backendPostgres && cfg.PostgresDSN == "" {
		return cfg, fmt.Errorf("postgres backend requires a DSN")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *brokerConfig) {
	cfg.ListenAddr = envOrDefault("LAKESTREAM_BROKER_ADDR", cfg.ListenAddr)
	cfg.MetricsAddr = envOrDefault("LAKESTREAM_METRICS_ADDR", cfg.MetricsAddr)
	cfg.AdvertisedHost = envOrDefault("LAKESTREAM_BROKER_HOST", cfg.AdvertisedHost)
	cfg.AdvertisedPort = parseEnvInt("LAKESTREAM_BROKER_PORT", cfg.AdvertisedPort)
	cfg.NodeID = parseEnvInt("LAKESTREAM_BROKER_ID", cfg.NodeID)
	cfg.ClusterID = envOrDefault("LAKESTREAM_CLUSTER_ID", cfg.ClusterID)
	cfg.ProxyProtocol = parseEnvBool("LAKESTREAM_PROXY_PROTOCOL", cfg.ProxyProtocol)

	cfg.Backend = envOrDefault("LAKESTREAM_BACKEND", cfg.Backend)
	cfg.Namespace = envOrDefault("LAKESTREAM_NAMESPACE", cfg.Namespace)
	cfg.PostgresDSN = envOrDefault("LAKESTREAM_POSTGRES_DSN", cfg.PostgresDSN)

	cfg.S3.Bucket = envOrDefault("LAKESTREAM_S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.Region = envOrDefault("LAKESTREAM_S3_REGION", cfg.S3.Region)
	cfg.S3.Endpoint = envOrDefault("LAKESTREAM_S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.ForcePathStyle = parseEnvBool("LAKESTREAM_S3_PATH_STYLE", cfg.S3.ForcePathStyle)
	cfg.S3.KMSKeyARN = envOrDefault("LAKESTREAM_S3_KMS_ARN", cfg.S3.KMSKeyARN)

	cfg.AutoCreateTopics = parseEnvBool("LAKESTREAM_AUTO_CREATE_TOPICS", cfg.AutoCreateTopics)
	cfg.AutoCreatePartitions = int32(parseEnvInt("LAKESTREAM_AUTO_CREATE_PARTITIONS", int(cfg.AutoCreatePartitions)))
	if cfg.AutoCreatePartitions < 1 {
		cfg.AutoCreatePartitions = 1
	}
	cfg.SequencerQueue = parseEnvInt("LAKESTREAM_SEQUENCER_QUEUE", cfg.SequencerQueue)

	cfg.Storage.BufferMaxBytes = parseEnvInt64("LAKESTREAM_BUFFER_MAX_BYTES", cfg.Storage.BufferMaxBytes)
	cfg.Storage.BufferMaxMessages = int32(parseEnvInt("LAKESTREAM_BUFFER_MAX_MESSAGES", int(cfg.Storage.BufferMaxMessages)))
	cfg.Storage.BufferMaxBatches = parseEnvInt("LAKESTREAM_BUFFER_MAX_BATCHES", cfg.Storage.BufferMaxBatches)
	cfg.Storage.BufferFlushMs = parseEnvInt("LAKESTREAM_BUFFER_FLUSH_MS", cfg.Storage.BufferFlushMs)
	cfg.Storage.IndexIntervalMessages = int32(parseEnvInt("LAKESTREAM_INDEX_INTERVAL_MESSAGES", int(cfg.Storage.IndexIntervalMessages)))
	cfg.Storage.CacheBytes = parseEnvInt("LAKESTREAM_CACHE_BYTES", cfg.Storage.CacheBytes)
	cfg.Storage.ReadAheadSegments = parseEnvInt("LAKESTREAM_READAHEAD_SEGMENTS", cfg.Storage.ReadAheadSegments)
	cfg.Storage.MaxConcurrentOps = parseEnvInt64("LAKESTREAM_MAX_CONCURRENT_STORE_OPS", cfg.Storage.MaxConcurrentOps)

	cfg.Health.WindowSec = parseEnvInt("LAKESTREAM_STORE_HEALTH_WINDOW_SEC", cfg.Health.WindowSec)
	cfg.Health.LatencyWarnMs = parseEnvInt("LAKESTREAM_STORE_LATENCY_WARN_MS", cfg.Health.LatencyWarnMs)
	cfg.Health.LatencyCritMs = parseEnvInt("LAKESTREAM_STORE_LATENCY_CRIT_MS", cfg.Health.LatencyCritMs)
	cfg.Health.ErrorRateWarn = parseEnvFloat("LAKESTREAM_STORE_ERROR_RATE_WARN", cfg.Health.ErrorRateWarn)
	cfg.Health.ErrorRateCrit = parseEnvFloat("LAKESTREAM_STORE_ERROR_RATE_CRIT", cfg.Health.ErrorRateCrit)

	cfg.Retention.MaxAgeMs = parseEnvInt64("LAKESTREAM_RETENTION_MAX_AGE_MS", cfg.Retention.MaxAgeMs)
	cfg.Retention.MaxBytes = parseEnvInt64("LAKESTREAM_RETENTION_MAX_BYTES", cfg.Retention.MaxBytes)
	cfg.Retention.IntervalSec = parseEnvInt("LAKESTREAM_RETENTION_INTERVAL_SEC", cfg.Retention.IntervalSec)

	if val := strings.TrimSpace(os.Getenv("LAKESTREAM_ACL_ENABLED")); val != "" {
		cfg.ACL.Enabled = parseEnvBool("LAKESTREAM_ACL_ENABLED", cfg.ACL.Enabled)
	}
	if raw := strings.TrimSpace(os.Getenv("LAKESTREAM_ACL_JSON")); raw != "" {
		var parsed acl.Config
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			parsed.Enabled = cfg.ACL.Enabled || parsed.Enabled
			cfg.ACL = parsed
		}
	}
}

func (c brokerConfig) retentionInterval() time.Duration {
	if c.Retention.IntervalSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Retention.IntervalSec) * time.Second
}

func envOrDefault(name, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		return val
	}
	return fallback
}

func parseEnvInt(name string, fallback int) int {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseEnvInt64(name string, fallback int64) int64 {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseEnvFloat(name string, fallback float64) float64 {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseEnvBool(name string, fallback bool) bool {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
