// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for frame and session traffic.

package control

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wsengine"

// Metrics groups the collectors updated by sessions. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	FramesReceived *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec
	BytesReceived  prometheus.Counter
	BytesSent      prometheus.Counter
	Closes         *prometheus.CounterVec
	ProtocolErrors prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when reg
// is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
			Help: "Frames read from peers, by opcode.",
		}, []string{"opcode"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_sent_total",
			Help: "Frames written to peers, by opcode.",
		}, []string{"opcode"}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "received_bytes_total",
			Help: "Bytes read from transports.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sent_bytes_total",
			Help: "Frame bytes handed to transports.",
		}),
		Closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_closed_total",
			Help: "Closed sessions, by close code.",
		}, []string{"code"}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "protocol_errors_total",
			Help: "Connections failed for protocol violations.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.FramesReceived, m.FramesSent, m.BytesReceived, m.BytesSent, m.Closes, m.ProtocolErrors} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) FrameReceived(opcode string) {
	if m != nil {
		m.FramesReceived.WithLabelValues(opcode).Inc()
	}
}

func (m *Metrics) FrameSent(opcode string) {
	if m != nil {
		m.FramesSent.WithLabelValues(opcode).Inc()
	}
}

func (m *Metrics) Received(n int) {
	if m != nil && n > 0 {
		m.BytesReceived.Add(float64(n))
	}
}

func (m *Metrics) Sent(n int) {
	if m != nil && n > 0 {
		m.BytesSent.Add(float64(n))
	}
}

func (m *Metrics) Closed(code uint16) {
	if m != nil {
		m.Closes.WithLabelValues(strconv.Itoa(int(code))).Inc()
	}
}

func (m *Metrics) ProtocolError() {
	if m != nil {
		m.ProtocolErrors.Inc()
	}
}
