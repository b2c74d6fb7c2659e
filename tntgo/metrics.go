package tntgo

import (
	"fmt"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// ConnectorStats exposes a Connector's counters, backed by a private
// VictoriaMetrics/metrics.Set so multiple Connectors in one process
// don't collide on metric names.
type ConnectorStats struct {
	set *metrics.Set

	requestsSent    *metrics.Counter
	responsesRead   *metrics.Counter
	bytesWritten    *metrics.Counter
	bytesRead       *metrics.Counter
	decodeErrors    *metrics.Counter
	activeConns     *metrics.Gauge
	activeConnsVal  int64
}

// newConnectorStats creates a fresh, independently-registered stats set
// tagged with name (so Stats from several Connectors in one process
// don't collide when written out by metrics.Set.WritePrometheus).
func newConnectorStats(name string) *ConnectorStats {
	set := metrics.NewSet()
	s := &ConnectorStats{
		set:           set,
		requestsSent:  set.NewCounter(fmt.Sprintf(`tntgo_requests_sent_total{connector=%q}`, name)),
		responsesRead: set.NewCounter(fmt.Sprintf(`tntgo_responses_read_total{connector=%q}`, name)),
		bytesWritten:  set.NewCounter(fmt.Sprintf(`tntgo_bytes_written_total{connector=%q}`, name)),
		bytesRead:     set.NewCounter(fmt.Sprintf(`tntgo_bytes_read_total{connector=%q}`, name)),
		decodeErrors:  set.NewCounter(fmt.Sprintf(`tntgo_decode_errors_total{connector=%q}`, name)),
	}
	s.activeConns = set.NewGauge(fmt.Sprintf(`tntgo_active_connections{connector=%q}`, name), func() float64 {
		return float64(atomic.LoadInt64(&s.activeConnsVal))
	})
	return s
}

func (s *ConnectorStats) adjustActive(delta int64) {
	atomic.AddInt64(&s.activeConnsVal, delta)
}

// RequestsSent reports how many requests have been encoded and queued
// for sending.
func (s *ConnectorStats) RequestsSent() uint64 { return s.requestsSent.Get() }

// ResponsesRead reports how many responses have been fully decoded.
func (s *ConnectorStats) ResponsesRead() uint64 { return s.responsesRead.Get() }

// BytesWritten reports the cumulative bytes written to connections.
func (s *ConnectorStats) BytesWritten() uint64 { return s.bytesWritten.Get() }

// BytesRead reports the cumulative bytes read from connections.
func (s *ConnectorStats) BytesRead() uint64 { return s.bytesRead.Get() }

// DecodeErrors reports how many responses failed to decode (taxonomy
// item 3: a malformed message that does not end the connection).
func (s *ConnectorStats) DecodeErrors() uint64 { return s.decodeErrors.Get() }

// ActiveConnections reports how many connections are currently open.
func (s *ConnectorStats) ActiveConnections() int64 {
	return atomic.LoadInt64(&s.activeConnsVal)
}

// WritePrometheus writes every counter in Prometheus exposition format,
// delegating directly to the underlying metrics.Set.
func (s *ConnectorStats) WritePrometheus(w interface{ Write([]byte) (int, error) }) {
	s.set.WritePrometheus(w)
}
