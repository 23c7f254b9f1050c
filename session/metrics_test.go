package session_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/control"
	"github.com/momentics/wsengine/fake"
	"github.com/momentics/wsengine/protocol"
	"github.com/momentics/wsengine/session"
)

func TestSessionMetrics(t *testing.T) {
	m, err := control.NewMetrics(prometheus.NewRegistry())
	assert.NilError(t, err)
	s, ch, _ := start(t, api.RoleServer, session.WithMetrics(m), session.WithID("metrics"))
	assert.Check(t, is.Equal(s.ID(), "metrics"))
	texts := make(chan string, 1)
	s.OnText(func(text string) { texts <- text })

	input := [][]byte{
		fake.Text("counted", true),
		fake.Ping([]byte("hi"), true),
		fake.Close(protocol.CloseReason{Code: protocol.CloseGoingAway}, true),
	}
	total := 0
	for _, b := range input {
		total += len(b)
	}
	ch.Feed(input...)
	recv(t, texts)
	waitDone(t, s)

	assert.Check(t, is.Equal(testutil.ToFloat64(m.FramesReceived.WithLabelValues("text")), 1.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.FramesReceived.WithLabelValues("ping")), 1.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.FramesReceived.WithLabelValues("close")), 1.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.BytesReceived), float64(total)))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.FramesSent.WithLabelValues("pong")), 1.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.FramesSent.WithLabelValues("close")), 1.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.BytesSent), float64(len(ch.Written()))))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.Closes.WithLabelValues("1001")), 1.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.ProtocolErrors), 0.0))
}

func TestProtocolErrorMetric(t *testing.T) {
	m, err := control.NewMetrics(nil)
	assert.NilError(t, err)
	s, ch, _ := start(t, api.RoleServer, session.WithMetrics(m))

	ch.Feed(fake.Text("unmasked", false))
	waitDone(t, s)
	assert.Check(t, is.Equal(testutil.ToFloat64(m.ProtocolErrors), 1.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.Closes.WithLabelValues("1002")), 1.0))
}
