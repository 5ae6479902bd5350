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

// Package proxy implements a thin wire-level forwarder. Frames pass through
// untouched except for Metadata responses, whose advertised broker addresses
// are rewritten so clients keep connecting through the proxy.
package proxy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lakestream-io/lakestream/pkg/protocol"
)

const maxFrameBytes = 64 << 20

// Config configures a Proxy. ListenAddr and at least one upstream are
// required.
type Config struct {
	ListenAddr     string
	Upstreams      []string
	AdvertisedHost string
	AdvertisedPort int32
	DialTimeout    time.Duration
	Logger         *slog.Logger
}

// Proxy accepts client connections and relays them to upstream brokers,
// one upstream connection per client connection.
type Proxy struct {
	cfg    Config
	logger *slog.Logger
	pool   *connPool
	next   atomic.Uint32

	mu    sync.Mutex
	lis   net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// New validates cfg and returns a proxy ready to serve.
func New(cfg Config) (*Proxy, error) {
	if len(cfg.Upstreams) == 0 {
		return nil, errors.New("proxy: at least one upstream is required")
	}
	if cfg.AdvertisedHost == "" {
		cfg.AdvertisedHost = "localhost"
	}
	if cfg.AdvertisedPort == 0 {
		cfg.AdvertisedPort = 9092
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Proxy{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "proxy"),
		pool:   newConnPool(cfg.DialTimeout),
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", p.cfg.ListenAddr, err)
	}
	return p.Serve(ctx, lis)
}

// Serve accepts connections from lis until ctx is cancelled.
func (p *Proxy) Serve(ctx context.Context, lis net.Listener) error {
	p.mu.Lock()
	p.lis = lis
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = lis.Close()
		p.pool.Close()
		p.mu.Lock()
		for conn := range p.conns {
			_ = conn.Close()
		}
		p.mu.Unlock()
	}()

	p.logger.Info("listening", "addr", lis.Addr().String(), "upstreams", p.cfg.Upstreams)
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		p.mu.Lock()
		p.conns[conn] = struct{}{}
		p.mu.Unlock()
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer func() {
				p.mu.Lock()
				delete(p.conns, conn)
				p.mu.Unlock()
				_ = conn.Close()
			}()
			p.handleConn(ctx, conn)
		}()
	}
}

// BoundAddr returns the listener address, for callers that bound port 0.
func (p *Proxy) BoundAddr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lis == nil {
		return ""
	}
	return p.lis.Addr().String()
}

// Wait blocks until every connection goroutine has finished.
func (p *Proxy) Wait() {
	p.wg.Wait()
}

func (p *Proxy) pickUpstream() string {
	n := p.next.Add(1) - 1
	return p.cfg.Upstreams[int(n)%len(p.cfg.Upstreams)]
}

func (p *Proxy) handleConn(ctx context.Context, client net.Conn) {
	logger := p.logger.With("remote", client.RemoteAddr().String())
	addr := p.pickUpstream()
	upstream, err := p.pool.Borrow(ctx, addr)
	if err != nil {
		logger.Warn("upstream dial failed", "upstream", addr, "error", err)
		return
	}
	clean := false
	defer func() {
		if clean {
			p.pool.Return(addr, upstream)
		} else {
			_ = upstream.Close()
		}
	}()

	for {
		payload, err := readFrame(client)
		if err != nil {
			clean = errors.Is(err, io.EOF)
			return
		}
		if len(payload) < 8 {
			logger.Warn("short request frame", "size", len(payload))
			return
		}
		apiKey := int16(binary.BigEndian.Uint16(payload[0:2]))
		version := int16(binary.BigEndian.Uint16(payload[2:4]))

		expectResponse := true
		if apiKey == protocol.APIKeyProduce {
			msg, err := protocol.DecodeRequest(payload)
			if err != nil {
				logger.Warn("undecodable produce request", "error", err)
				return
			}
			expectResponse = msg.Body.Int16("acks") != 0
		}

		if err := writeFrame(upstream, payload); err != nil {
			logger.Warn("upstream write failed", "upstream", addr, "error", err)
			return
		}
		if !expectResponse {
			continue
		}
		respPayload, err := readFrame(upstream)
		if err != nil {
			logger.Warn("upstream read failed", "upstream", addr, "error", err)
			return
		}
		if apiKey == protocol.APIKeyMetadata {
			rewritten, err := p.rewriteMetadata(respPayload, version)
			if err != nil {
				logger.Warn("metadata rewrite failed", "error", err)
				return
			}
			respPayload = rewritten
		}
		if err := writeFrame(client, respPayload); err != nil {
			return
		}
	}
}

// rewriteMetadata points every advertised broker at the proxy while leaving
// topic and partition layout, including error codes, untouched.
func (p *Proxy) rewriteMetadata(payload []byte, version int16) ([]byte, error) {
	msg, err := protocol.DecodeResponse(payload, protocol.APIKeyMetadata, version)
	if err != nil {
		return nil, fmt.Errorf("decode metadata response: %w", err)
	}
	for _, broker := range msg.Body.Structs("brokers") {
		broker.Set("host", p.cfg.AdvertisedHost)
		broker.Set("port", p.cfg.AdvertisedPort)
	}
	out, err := protocol.EncodeResponse(msg)
	if err != nil {
		return nil, fmt.Errorf("encode metadata response: %w", err)
	}
	return out, nil
}

func readFrame(conn net.Conn) ([]byte, error) {
	sizeBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, sizeBuf); err != nil {
		return nil, err
	}
	size := int32(binary.BigEndian.Uint32(sizeBuf))
	if size <= 0 || size > maxFrameBytes {
		return nil, fmt.Errorf("invalid frame size %d", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeFrame(conn net.Conn, payload []byte) error {
	frame, err := protocol.EncodeFrame(payload)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}
