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
	"net"
	"sync"
	"time"
)

// connPool keeps at most one idle upstream connection per address. Client
// connections are long-lived, so the pool only smooths reconnect churn.
type connPool struct {
	dialTimeout time.Duration

	mu     sync.Mutex
	conns  map[string]net.Conn
	closed bool
}

func newConnPool(dialTimeout time.Duration) *connPool {
	return &connPool{
		dialTimeout: dialTimeout,
		conns:       make(map[string]net.Conn),
	}
}

// Borrow returns a pooled connection for addr or dials a new one.
func (p *connPool) Borrow(ctx context.Context, addr string) (net.Conn, error) {
	p.mu.Lock()
	if conn, ok := p.conns[addr]; ok {
		delete(p.conns, addr)
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	dialer := &net.Dialer{Timeout: p.dialTimeout}
	return dialer.DialContext(ctx, "tcp", addr)
}

// Return puts a healthy connection back; if the slot for addr is already
// occupied or the pool is closed, the connection is closed instead.
func (p *connPool) Return(addr string, conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = conn.Close()
		return
	}
	if _, ok := p.conns[addr]; ok {
		_ = conn.Close()
		return
	}
	p.conns[addr] = conn
}

// Close closes every idle connection and rejects future returns.
func (p *connPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for addr, conn := range p.conns {
		_ = conn.Close()
		delete(p.conns, addr)
	}
}
