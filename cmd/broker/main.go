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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lakestream-io/lakestream/pkg/acl"
	"github.com/lakestream-io/lakestream/pkg/broker"
	"github.com/lakestream-io/lakestream/pkg/storage"
	"github.com/lakestream-io/lakestream/pkg/storage/object"
	"github.com/lakestream-io/lakestream/pkg/storage/relational"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	cfg, err := loadBrokerConfig()
	if err != nil {
		logger.Error("config error", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := broker.NewMetrics(registry)
	health := broker.NewStoreHealthMonitor(broker.StoreHealthConfig{
		Window:      time.Duration(cfg.Health.WindowSec) * time.Second,
		LatencyWarn: time.Duration(cfg.Health.LatencyWarnMs) * time.Millisecond,
		LatencyCrit: time.Duration(cfg.Health.LatencyCritMs) * time.Millisecond,
		ErrorWarn:   cfg.Health.ErrorRateWarn,
		ErrorCrit:   cfg.Health.ErrorRateCrit,
	})

	engine, err := buildEngine(ctx, cfg, health, metrics, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	sequencer := storage.NewSequencer(engine, cfg.SequencerQueue, logger)
	defer sequencer.Close()

	policy := storage.RetentionPolicy{
		MaxAge:   time.Duration(cfg.Retention.MaxAgeMs) * time.Millisecond,
		MaxBytes: cfg.Retention.MaxBytes,
		Interval: cfg.retentionInterval(),
	}
	go storage.RunRetention(ctx, engine, policy, logger)

	dispatcher, err := broker.NewDispatcher(broker.DispatcherConfig{
		Engine:               engine,
		Sequencer:            sequencer,
		Authorizer:           acl.NewAuthorizer(cfg.ACL),
		Health:               health,
		Metrics:              metrics,
		Logger:               logger,
		ClusterID:            cfg.ClusterID,
		NodeID:               int32(cfg.NodeID),
		AdvertisedHost:       cfg.AdvertisedHost,
		AdvertisedPort:       int32(cfg.AdvertisedPort),
		AutoCreateTopics:     cfg.AutoCreateTopics,
		AutoCreatePartitions: cfg.AutoCreatePartitions,
	})
	if err != nil {
		logger.Error("dispatcher init failed", "error", err)
		os.Exit(1)
	}

	startMetricsServer(ctx, cfg.MetricsAddr, registry, health, logger)

	srv := &broker.Server{
		Addr:          cfg.ListenAddr,
		Handler:       dispatcher,
		Logger:        logger,
		ProxyProtocol: cfg.ProxyProtocol,
	}
	logger.Info("broker starting", "addr", cfg.ListenAddr, "backend", cfg.Backend, "cluster_id", cfg.ClusterID)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("broker server error", "error", err)
		os.Exit(1)
	}
	srv.Wait()
}

func buildEngine(ctx context.Context, cfg brokerConfig, health *broker.StoreHealthMonitor, metrics *broker.Metrics, logger *slog.Logger) (storage.Engine, error) {
	switch cfg.Backend {
	case backendPostgres:
		backend, err := relational.New(ctx, relational.Config{
			DSN:               cfg.PostgresDSN,
			DefaultPartitions: cfg.AutoCreatePartitions,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		client := buildObjectClient(ctx, cfg, logger)
		backend, err := object.New(ctx, client, object.Config{
			Namespace: cfg.Namespace,
			Buffer: object.WriteBufferConfig{
				MaxBytes:      cfg.Storage.BufferMaxBytes,
				MaxMessages:   cfg.Storage.BufferMaxMessages,
				MaxBatches:    cfg.Storage.BufferMaxBatches,
				FlushInterval: time.Duration(cfg.Storage.BufferFlushMs) * time.Millisecond,
			},
			Segment: object.SegmentWriterConfig{
				IndexIntervalMessages: cfg.Storage.IndexIntervalMessages,
			},
			CacheBytes:        cfg.Storage.CacheBytes,
			ReadAheadSegments: cfg.Storage.ReadAheadSegments,
			MaxConcurrentOps:  cfg.Storage.MaxConcurrentOps,
			DefaultPartitions: cfg.AutoCreatePartitions,
			Logger:            logger,
			OnStoreOp: func(op string, d time.Duration, err error) {
				health.RecordOperation(op, d, err)
				metrics.ObserveStoreOp(op, d, err)
			},
		})
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
}

func buildObjectClient(ctx context.Context, cfg brokerConfig, logger *slog.Logger) object.Client {
	if cfg.S3.Bucket == "" || cfg.S3.Region == "" {
		logger.Warn("missing S3 configuration; falling back to in-memory client")
		return object.NewMemoryClient()
	}
	client, err := object.NewS3Client(ctx, object.S3Config{
		Bucket:         cfg.S3.Bucket,
		Region:         cfg.S3.Region,
		Endpoint:       cfg.S3.Endpoint,
		ForcePathStyle: cfg.S3.ForcePathStyle,
		KMSKeyARN:      cfg.S3.KMSKeyARN,
	})
	if err != nil {
		logger.Error("failed to create S3 client; using in-memory", "error", err)
		return object.NewMemoryClient()
	}
	return client
}

func startMetricsServer(ctx context.Context, addr string, registry *prometheus.Registry, health *broker.StoreHealthMonitor, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ok state=%s\n", health.State())
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		snap := health.Snapshot()
		if snap.State == broker.StoreStateUnavailable {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "not ready state=%s\n", snap.State)
			return
		}
		fmt.Fprintf(w, "ready state=%s\n", snap.State)
	})
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LAKESTREAM_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return slog.New(handler).With("component", "broker")
}
