package control_test

import (
	"strings"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/momentics/wsengine/control"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := control.Load(strings.NewReader(`{
		"input_buffer_size": "16KiB",
		"max_binary_message_buffer_size": 1048576,
		"close_timeout": "5s",
		"async_send_timeout": "2s",
		"max_idle_timeout": "1m",
		"batching_allowed": true
	}`))
	assert.NilError(t, err)
	assert.Check(t, is.Equal(cfg.InputBufferSize, control.ByteSize(16*1024)))
	assert.Check(t, is.Equal(cfg.MaxBinaryMessageBufferSize, control.ByteSize(1<<20)))
	assert.Check(t, is.Equal(time.Duration(cfg.CloseTimeout), 5*time.Second))
	assert.Check(t, is.Equal(time.Duration(cfg.AsyncSendTimeout), 2*time.Second))
	assert.Check(t, is.Equal(time.Duration(cfg.MaxIdleTimeout), time.Minute))
	assert.Check(t, cfg.BatchingAllowed)
	// untouched fields keep their defaults
	assert.Check(t, is.Equal(cfg.OutputBufferSize, control.ByteSize(control.DefaultBufferSize)))
	assert.Check(t, is.Equal(time.Duration(cfg.BlockingSendTimeout), control.DefaultBlockingSendTimeout))
}

func TestLoadConfigEmpty(t *testing.T) {
	cfg, err := control.Load(strings.NewReader(""))
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(cfg, control.Default()))
}

func TestLoadConfigRejects(t *testing.T) {
	for _, doc := range []string{
		`{"input_buffer_size": "64"}`,
		`{"unknown": 1}`,
		`{"close_timeout": 5}`,
		`{"max_text_message_buffer_size": "lots"}`,
		`{"max_idle_timeout": "-1s"}`,
		`{"async_send_timeout": "-5ms"}`,
	} {
		_, err := control.Load(strings.NewReader(doc))
		assert.Check(t, errdefs.IsInvalidArgument(err), doc)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := control.NewMetrics(reg)
	assert.NilError(t, err)

	m.FrameReceived("text")
	m.FrameReceived("text")
	m.Sent(10)
	m.Closed(1000)
	assert.Check(t, is.Equal(testutil.ToFloat64(m.FramesReceived.WithLabelValues("text")), 2.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.BytesSent), 10.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.Closes.WithLabelValues("1000")), 1.0))

	_, err = control.NewMetrics(reg)
	assert.Check(t, err != nil, "duplicate registration must fail")

	var none *control.Metrics
	none.FrameSent("ping") // nil metrics are a no-op
}
