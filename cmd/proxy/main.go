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
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/lakestream-io/lakestream/pkg/proxy"
)

const (
	defaultListenAddr = ":9092"
	defaultUpstream   = "localhost:19092"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	listenAddr := envOrDefault("LAKESTREAM_PROXY_ADDR", defaultListenAddr)
	upstreams := splitCSV(os.Getenv("LAKESTREAM_PROXY_UPSTREAMS"))
	if upstreams == nil {
		upstreams = []string{defaultUpstream}
	}
	advertisedHost := envOrDefault("LAKESTREAM_PROXY_ADVERTISED_HOST", "localhost")
	advertisedPort := envPort("LAKESTREAM_PROXY_ADVERTISED_PORT", portFromAddr(listenAddr, 9092))

	p, err := proxy.New(proxy.Config{
		ListenAddr:     listenAddr,
		Upstreams:      upstreams,
		AdvertisedHost: advertisedHost,
		AdvertisedPort: advertisedPort,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("proxy init failed", "error", err)
		os.Exit(1)
	}
	if err := p.ListenAndServe(ctx); err != nil {
		logger.Error("proxy server error", "error", err)
		os.Exit(1)
	}
	p.Wait()
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
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("component", "proxy")
}

func envOrDefault(name, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		return val
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func envPort(name string, fallback int32) int32 {
	port := envInt(name, int(fallback))
	if port <= 0 || port > 65535 {
		return fallback
	}
	return int32(port)
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func portFromAddr(addr string, fallback int32) int32 {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fallback
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return fallback
	}
	return int32(port)
}
