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
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
)

func TestProxyProtocolV1Unknown(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	payload := []byte("PROXY UNKNOWN\r\nping")
	go func() {
		_, _ = peer.Write(payload)
	}()

	wrapped, info, err := ReadProxyProtocol(conn)
	if err != nil {
		t.Fatalf("ReadProxyProtocol: %v", err)
	}
	if info == nil || !info.Local {
		t.Fatalf("expected local proxy info, got %+v", info)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(wrapped, buf); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if !bytes.Equal(buf, []byte("ping")) {
		t.Fatalf("unexpected payload %q", string(buf))
	}
}

func TestProxyProtocolV1TCP4(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	payload := []byte("PROXY TCP4 203.0.113.7 10.0.0.1 55321 9092\r\nping")
	go func() {
		_, _ = peer.Write(payload)
	}()

	wrapped, info, err := ReadProxyProtocol(conn)
	if err != nil {
		t.Fatalf("ReadProxyProtocol: %v", err)
	}
	if info == nil || info.Local {
		t.Fatalf("expected proxied info, got %+v", info)
	}
	if info.SourceAddr != "203.0.113.7:55321" {
		t.Fatalf("unexpected source addr %q", info.SourceAddr)
	}
	if info.DestAddr != "10.0.0.1:9092" {
		t.Fatalf("unexpected dest addr %q", info.DestAddr)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(wrapped, buf); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if !bytes.Equal(buf, []byte("ping")) {
		t.Fatalf("unexpected payload %q", string(buf))
	}
}

func TestProxyProtocolV1Malformed(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	go func() {
		_, _ = peer.Write([]byte("PROXY TCP4 only-three-fields\r\n"))
	}()

	if _, _, err := ReadProxyProtocol(conn); err == nil {
		t.Fatalf("expected error for malformed v1 header")
	}
}

func TestProxyProtocolV2Local(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	header := append([]byte{}, proxyV2Signature...)
	header = append(header, 0x20)       // v2 + LOCAL
	header = append(header, 0x00)       // UNSPEC
	header = append(header, 0x00, 0x00) // length 0
	payload := append(header, []byte("pong")...)

	go func() {
		_, _ = peer.Write(payload)
	}()

	wrapped, info, err := ReadProxyProtocol(conn)
	if err != nil {
		t.Fatalf("ReadProxyProtocol: %v", err)
	}
	if info == nil || !info.Local {
		t.Fatalf("expected local proxy info, got %+v", info)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(wrapped, buf); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if !bytes.Equal(buf, []byte("pong")) {
		t.Fatalf("unexpected payload %q", string(buf))
	}
}

func TestProxyProtocolV2TCP4(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	body := make([]byte, 12)
	copy(body[0:4], net.IPv4(203, 0, 113, 7).To4())
	copy(body[4:8], net.IPv4(10, 0, 0, 1).To4())
	binary.BigEndian.PutUint16(body[8:10], 55321)
	binary.BigEndian.PutUint16(body[10:12], 9092)

	header := append([]byte{}, proxyV2Signature...)
	header = append(header, 0x21) // v2 + PROXY
	header = append(header, 0x11) // AF_INET stream
	header = append(header, 0x00, 0x0c)
	payload := append(header, body...)
	payload = append(payload, []byte("pong")...)

	go func() {
		_, _ = peer.Write(payload)
	}()

	wrapped, info, err := ReadProxyProtocol(conn)
	if err != nil {
		t.Fatalf("ReadProxyProtocol: %v", err)
	}
	if info == nil || info.Local {
		t.Fatalf("expected proxied info, got %+v", info)
	}
	if info.SourceAddr != "203.0.113.7:55321" {
		t.Fatalf("unexpected source addr %q", info.SourceAddr)
	}
	if info.DestAddr != "10.0.0.1:9092" {
		t.Fatalf("unexpected dest addr %q", info.DestAddr)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(wrapped, buf); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if !bytes.Equal(buf, []byte("pong")) {
		t.Fatalf("unexpected payload %q", string(buf))
	}
}
