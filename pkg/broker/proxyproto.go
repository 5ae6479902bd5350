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
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
)

// PROXY protocol support (v1 and v2) for deployments that front the broker
// with a load balancer. Only the header is consumed; the payload stream that
// follows is handed back untouched.

var proxyV2Signature = []byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}

const proxyV1Prefix = "PROXY "

// ProxyInfo describes the connection as reported by the proxy header.
// Local marks health-check style connections that carry no client address.
type ProxyInfo struct {
	Local      bool
	SourceAddr string
	DestAddr   string
}

// proxyConn reads from the buffered reader that already consumed the proxy
// header, and delegates everything else to the underlying connection.
type proxyConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *proxyConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// ReadProxyProtocol consumes a PROXY protocol v1 or v2 header from conn and
// returns a connection that reads the remaining stream, plus the parsed
// client info. A connection that does not start with a proxy header is an
// error; callers enable this per listener, so a bare connection is a
// misconfigured balancer.
func ReadProxyProtocol(conn net.Conn) (net.Conn, *ProxyInfo, error) {
	r := bufio.NewReader(conn)
	peek, err := r.Peek(len(proxyV2Signature))
	if err != nil {
		return nil, nil, fmt.Errorf("peek proxy header: %w", err)
	}
	var info *ProxyInfo
	if bytes.Equal(peek, proxyV2Signature) {
		info, err = readProxyV2(r)
	} else if strings.HasPrefix(string(peek[:len(proxyV1Prefix)]), proxyV1Prefix) {
		info, err = readProxyV1(r)
	} else {
		return nil, nil, fmt.Errorf("connection does not start with a proxy header")
	}
	if err != nil {
		return nil, nil, err
	}
	return &proxyConn{Conn: conn, r: r}, info, nil
}

func readProxyV1(r *bufio.Reader) (*ProxyInfo, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read proxy v1 line: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, fmt.Errorf("malformed proxy v1 line %q", line)
	}
	if fields[1] == "UNKNOWN" {
		return &ProxyInfo{Local: true}, nil
	}
	if len(fields) != 6 {
		return nil, fmt.Errorf("malformed proxy v1 line %q", line)
	}
	return &ProxyInfo{
		SourceAddr: net.JoinHostPort(fields[2], fields[4]),
		DestAddr:   net.JoinHostPort(fields[3], fields[5]),
	}, nil
}

func readProxyV2(r *bufio.Reader) (*ProxyInfo, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read proxy v2 header: %w", err)
	}
	verCmd := header[12]
	if verCmd>>4 != 2 {
		return nil, fmt.Errorf("unsupported proxy v2 version %d", verCmd>>4)
	}
	family := header[13]
	length := binary.BigEndian.Uint16(header[14:16])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read proxy v2 addresses: %w", err)
	}
	if verCmd&0x0F == 0 {
		// LOCAL command: the proxy itself originated the connection.
		return &ProxyInfo{Local: true}, nil
	}
	switch family >> 4 {
	case 1: // AF_INET
		if len(body) < 12 {
			return nil, fmt.Errorf("short proxy v2 inet addresses")
		}
		src := net.IP(body[0:4])
		dst := net.IP(body[4:8])
		sport := binary.BigEndian.Uint16(body[8:10])
		dport := binary.BigEndian.Uint16(body[10:12])
		return &ProxyInfo{
			SourceAddr: fmt.Sprintf("%s:%d", src, sport),
			DestAddr:   fmt.Sprintf("%s:%d", dst, dport),
		}, nil
	case 2: // AF_INET6
		if len(body) < 36 {
			return nil, fmt.Errorf("short proxy v2 inet6 addresses")
		}
		src := net.IP(body[0:16])
		dst := net.IP(body[16:32])
		sport := binary.BigEndian.Uint16(body[32:34])
		dport := binary.BigEndian.Uint16(body[34:36])
		return &ProxyInfo{
			SourceAddr: net.JoinHostPort(src.String(), fmt.Sprintf("%d", sport)),
			DestAddr:   net.JoinHostPort(dst.String(), fmt.Sprintf("%d", dport)),
		}, nil
	default:
		return &ProxyInfo{Local: true}, nil
	}
}
