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

package broker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/lakestream-io/lakestream/pkg/protocol"
)

const defaultMaxFrameBytes = 64 << 20

// Handler processes one decoded request frame. A nil response means the
// request elicits no response frame.
type Handler interface {
	Handle(ctx context.Context, msg *protocol.Message) (*protocol.Message, error)
}

// Server accepts client connections and runs the size-prefixed frame loop.
// Requests on one connection are handled in order; connections are
// independent.
type Server struct {
	Addr    string
	Handler Handler
	Logger  *slog.Logger
	// MaxFrameBytes caps a single request frame. Zero means the default.
	MaxFrameBytes int32
	// ProxyProtocol requires a PROXY v1/v2 header on every connection.
	ProxyProtocol bool

	mu    sync.Mutex
	lis   net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// ListenAndServe binds Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections from lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	logger := s.logger()
	s.mu.Lock()
	s.lis = lis
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = lis.Close()
		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
	}()

	logger.Info("listening", "addr", lis.Addr().String())
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		}()
	}
}

// BoundAddr returns the listener address, for callers that bound port 0.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Wait blocks until every connection goroutine has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger.With("component", "server")
	}
	return slog.Default().With("component", "server")
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) maxFrame() int32 {
	if s.MaxFrameBytes > 0 {
		return s.MaxFrameBytes
	}
	return defaultMaxFrameBytes
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	logger := s.logger().With("remote", conn.RemoteAddr().String())
	info := &ConnContext{RemoteAddr: conn.RemoteAddr().String()}
	if s.ProxyProtocol {
		wrapped, proxyInfo, err := ReadProxyProtocol(conn)
		if err != nil {
			logger.Warn("proxy header rejected", "error", err)
			return
		}
		conn = wrapped
		if proxyInfo != nil && !proxyInfo.Local {
			info.ProxyAddr = info.RemoteAddr
			info.RemoteAddr = proxyInfo.SourceAddr
		}
	}
	ctx = ContextWithConnInfo(ctx, info)

	sizeBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, sizeBuf); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Debug("connection read ended", "error", err)
			}
			return
		}
		size := int32(binary.BigEndian.Uint32(sizeBuf))
		if size <= 0 || size > s.maxFrame() {
			logger.Warn("invalid frame size", "size", size)
			return
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(conn, payload); err != nil {
			logger.Warn("truncated frame", "error", err)
			return
		}

		msg, err := protocol.DecodeRequest(payload)
		if err != nil {
			if errors.Is(err, protocol.ErrUnsupportedVersion) && s.writeUnsupportedVersion(conn, payload) {
				continue
			}
			logger.Warn("undecodable request", "error", err)
			return
		}
		resp, err := s.Handler.Handle(ctx, msg)
		if err != nil {
			logger.Error("request failed", "api", apiName(msg.APIKey), "error", err)
			return
		}
		if resp == nil {
			continue
		}
		out, err := protocol.EncodeResponse(resp)
		if err != nil {
			logger.Error("encode response", "api", apiName(msg.APIKey), "error", err)
			return
		}
		frame, err := protocol.EncodeFrame(out)
		if err != nil {
			logger.Error("frame response", "api", apiName(msg.APIKey), "error", err)
			return
		}
		if _, err := conn.Write(frame); err != nil {
			logger.Debug("connection write ended", "error", err)
			return
		}
	}
}

// writeUnsupportedVersion answers an ApiVersions request from a future
// client with a v0 response carrying UNSUPPORTED_VERSION, the negotiation
// path Kafka clients expect. Other APIs at unknown versions close the
// connection.
func (s *Server) writeUnsupportedVersion(conn net.Conn, payload []byte) bool {
	if len(payload) < 8 {
		return false
	}
	apiKey := int16(binary.BigEndian.Uint16(payload[0:2]))
	if apiKey != protocol.APIKeyApiVersion {
		return false
	}
	correlationID := int32(binary.BigEndian.Uint32(payload[4:8]))
	keys := make([]*protocol.Struct, 0, 8)
	for _, v := range protocol.SupportedVersions() {
		keys = append(keys, protocol.NewStruct().
			Set("api_key", v.APIKey).
			Set("min_version", v.MinVersion).
			Set("max_version", v.MaxVersion))
	}
	resp := &protocol.Message{
		APIKey:     protocol.APIKeyApiVersion,
		APIVersion: 0,
		Header:     protocol.RequestHeader{CorrelationID: correlationID},
		Body: protocol.NewStruct().
			Set("error_code", protocol.UNSUPPORTED_VERSION).
			Set("api_keys", keys),
	}
	out, err := protocol.EncodeResponse(resp)
	if err != nil {
		return false
	}
	frame, err := protocol.EncodeFrame(out)
	if err != nil {
		return false
	}
	_, err = conn.Write(frame)
	return err == nil
}
