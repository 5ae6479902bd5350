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

package proxy

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/lakestream-io/lakestream/pkg/broker"
	"github.com/lakestream-io/lakestream/pkg/protocol"
	"github.com/lakestream-io/lakestream/pkg/storage/object"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRewriteMetadataResponse(t *testing.T) {
	p := &Proxy{cfg: Config{AdvertisedHost: "proxy.example.com", AdvertisedPort: 9092}}

	resp := &protocol.Message{
		APIKey:     protocol.APIKeyMetadata,
		APIVersion: 2,
		Header:     protocol.RequestHeader{CorrelationID: 12},
		Body: protocol.NewStruct().
			Set("brokers", []*protocol.Struct{
				protocol.NewStruct().
					Set("node_id", int32(1)).
					Set("host", "broker-1").
					Set("port", int32(19092)).
					Set("rack", nil),
			}).
			Set("cluster_id", "test-cluster").
			Set("controller_id", int32(1)).
			Set("topics", []*protocol.Struct{
				protocol.NewStruct().
					Set("error_code", protocol.UNKNOWN_TOPIC_OR_PARTITION).
					Set("name", "missing").
					Set("is_internal", false).
					Set("partitions", []*protocol.Struct{}),
			}),
	}
	payload, err := protocol.EncodeResponse(resp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	rewritten, err := p.rewriteMetadata(payload, 2)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	decoded, err := protocol.DecodeResponse(rewritten, protocol.APIKeyMetadata, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	brokers := decoded.Body.Structs("brokers")
	if len(brokers) != 1 {
		t.Fatalf("expected 1 broker, got %d", len(brokers))
	}
	if host := brokers[0].String("host"); host != "proxy.example.com" {
		t.Fatalf("expected rewritten host, got %q", host)
	}
	if port := brokers[0].Int32("port"); port != 9092 {
		t.Fatalf("expected rewritten port, got %d", port)
	}
	if id := brokers[0].Int32("node_id"); id != 1 {
		t.Fatalf("node id must be preserved, got %d", id)
	}
	topics := decoded.Body.Structs("topics")
	if len(topics) != 1 || topics[0].Int16("error_code") != protocol.UNKNOWN_TOPIC_OR_PARTITION {
		t.Fatalf("topic errors must be preserved: %+v", topics)
	}
}

func TestConnPoolBorrowReturn(t *testing.T) {
	pool := newConnPool(5 * time.Second)
	defer pool.Close()

	fakeConn := &fakeNetConn{}
	pool.Return("addr1", fakeConn)

	conn, err := pool.Borrow(context.Background(), "addr1")
	if err != nil {
		t.Fatalf("borrow should succeed for pooled conn: %v", err)
	}
	if conn != fakeConn {
		t.Fatalf("borrow should return the pooled conn")
	}
	if _, ok := pool.conns["addr1"]; ok {
		t.Fatalf("pool should be empty for addr1 after borrow")
	}

	pool.Return("addr1", fakeConn)
	pool.Close()
	if !fakeConn.closed {
		t.Fatalf("pool.Close should close all connections")
	}
}

func TestConnPoolReturnAfterClose(t *testing.T) {
	pool := newConnPool(time.Second)
	pool.Close()
	fakeConn := &fakeNetConn{}
	pool.Return("addr1", fakeConn)
	if !fakeConn.closed {
		t.Fatalf("returns after close must close the connection")
	}
}

// fakeNetConn is a minimal net.Conn for pool tests.
type fakeNetConn struct {
	closed bool
}

func (c *fakeNetConn) Read(b []byte) (int, error)       { return 0, nil }
func (c *fakeNetConn) Write(b []byte) (int, error)      { return len(b), nil }
func (c *fakeNetConn) Close() error                     { c.closed = true; return nil }
func (c *fakeNetConn) LocalAddr() net.Addr              { return nil }
func (c *fakeNetConn) RemoteAddr() net.Addr             { return nil }
func (c *fakeNetConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeNetConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeNetConn) SetWriteDeadline(time.Time) error { return nil }

func startBroker(t *testing.T) (addr string, shutdown func()) {
	t.Helper()
	backend, err := object.New(context.Background(), object.NewMemoryClient(), object.Config{
		Namespace: "test",
		Segment:   object.SegmentWriterConfig{IndexIntervalMessages: 1},
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("object.New: %v", err)
	}
	dispatcher, err := broker.NewDispatcher(broker.DispatcherConfig{
		Engine:         backend,
		ClusterID:      "test-cluster",
		NodeID:         1,
		AdvertisedHost: "broker-internal",
		AdvertisedPort: 19092,
		Logger:         testLogger(),
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := &broker.Server{Handler: dispatcher, Logger: testLogger()}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, lis)
	}()
	return lis.Addr().String(), func() {
		cancel()
		<-done
		srv.Wait()
		_ = backend.Close()
	}
}

func startProxy(t *testing.T, upstream string) (addr string, shutdown func()) {
	t.Helper()
	p, err := New(Config{
		Upstreams:      []string{upstream},
		AdvertisedHost: "proxy.example.com",
		AdvertisedPort: 9092,
		Logger:         testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Serve(ctx, lis)
	}()
	return lis.Addr().String(), func() {
		cancel()
		<-done
		p.Wait()
	}
}

func roundTrip(t *testing.T, conn net.Conn, msg *protocol.Message) *protocol.Message {
	t.Helper()
	payload, err := protocol.EncodeRequest(msg)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	if err := writeFrame(conn, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	sizeBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, sizeBuf); err != nil {
		t.Fatalf("read frame size: %v", err)
	}
	respPayload := make([]byte, binary.BigEndian.Uint32(sizeBuf))
	if _, err := io.ReadFull(conn, respPayload); err != nil {
		t.Fatalf("read frame payload: %v", err)
	}
	resp, err := protocol.DecodeResponse(respPayload, msg.APIKey, msg.APIVersion)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestProxyForwardsAndRewritesMetadata(t *testing.T) {
	brokerAddr, stopBroker := startBroker(t)
	defer stopBroker()
	proxyAddr, stopProxy := startProxy(t, brokerAddr)
	defer stopProxy()

	conn, err := net.DialTimeout("tcp", proxyAddr, time.Second)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()
	clientID := "proxy-test"

	createTopic := protocol.NewStruct().
		Set("name", "orders").
		Set("num_partitions", int32(1)).
		Set("replication_factor", int16(1)).
		Set("assignments", []*protocol.Struct{}).
		Set("configs", []*protocol.Struct{})
	createResp := roundTrip(t, conn, &protocol.Message{
		APIKey:     protocol.APIKeyCreateTopics,
		APIVersion: 1,
		Header:     protocol.RequestHeader{APIKey: protocol.APIKeyCreateTopics, APIVersion: 1, CorrelationID: 1, ClientID: &clientID},
		Body: protocol.NewStruct().
			Set("topics", []*protocol.Struct{createTopic}).
			Set("timeout_ms", int32(5000)).
			Set("validate_only", false),
	})
	if code := createResp.Body.Structs("topics")[0].Int16("error_code"); code != protocol.NONE {
		t.Fatalf("create topic through proxy: error %d", code)
	}

	metaResp := roundTrip(t, conn, &protocol.Message{
		APIKey:     protocol.APIKeyMetadata,
		APIVersion: 2,
		Header:     protocol.RequestHeader{APIKey: protocol.APIKeyMetadata, APIVersion: 2, CorrelationID: 2, ClientID: &clientID},
		Body:       protocol.NewStruct().Set("topics", []any(nil)),
	})
	brokers := metaResp.Body.Structs("brokers")
	if len(brokers) != 1 {
		t.Fatalf("expected 1 broker, got %d", len(brokers))
	}
	if host := brokers[0].String("host"); host != "proxy.example.com" {
		t.Fatalf("expected proxy host in metadata, got %q", host)
	}
	if port := brokers[0].Int32("port"); port != 9092 {
		t.Fatalf("expected proxy port in metadata, got %d", port)
	}
	topics := metaResp.Body.Structs("topics")
	if len(topics) != 1 || topics[0].String("name") != "orders" {
		t.Fatalf("expected orders topic through proxy, got %+v", topics)
	}
}
