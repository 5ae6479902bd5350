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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the broker-side Prometheus collectors. A nil *Metrics
// is valid and records nothing, so tests can run without a registry.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestErrors   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	bytesProduced   prometheus.Counter
	bytesFetched    prometheus.Counter
	authzDenied     *prometheus.CounterVec
	storeOpDuration *prometheus.HistogramVec
	storeOpErrors   *prometheus.CounterVec
}

// NewMetrics registers the broker collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lakestream_requests_total",
			Help: "Requests handled, by API name.",
		}, []string{"api"}),
		requestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lakestream_request_errors_total",
			Help: "Requests that produced a protocol-level error, by API name.",
		}, []string{"api"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lakestream_request_duration_seconds",
			Help:    "Request handling latency, by API name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"api"}),
		bytesProduced: factory.NewCounter(prometheus.CounterOpts{
			Name: "lakestream_produced_bytes_total",
			Help: "Record batch bytes accepted by produce requests.",
		}),
		bytesFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "lakestream_fetched_bytes_total",
			Help: "Record batch bytes returned by fetch requests.",
		}),
		authzDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lakestream_authz_denied_total",
			Help: "Authorization denials, by action and resource.",
		}, []string{"action", "resource"}),
		storeOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lakestream_store_op_duration_seconds",
			Help:    "Object store call latency, by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		storeOpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lakestream_store_op_errors_total",
			Help: "Failed object store calls, by operation.",
		}, []string{"op"}),
	}
}

func (m *Metrics) observeRequest(api string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(api).Inc()
	m.requestDuration.WithLabelValues(api).Observe(d.Seconds())
	if failed {
		m.requestErrors.WithLabelValues(api).Inc()
	}
}

func (m *Metrics) addProducedBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesProduced.Add(float64(n))
}

func (m *Metrics) addFetchedBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesFetched.Add(float64(n))
}

func (m *Metrics) recordDenied(action, resource string) {
	if m == nil {
		return
	}
	m.authzDenied.WithLabelValues(action, resource).Inc()
}

// ObserveStoreOp adapts the metrics to the storage backend's operation hook.
func (m *Metrics) ObserveStoreOp(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.storeOpDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		m.storeOpErrors.WithLabelValues(op).Inc()
	}
}
