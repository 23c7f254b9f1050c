// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Engine configuration with defaults and file loading.

package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/containerd/errdefs"
	units "github.com/docker/go-units"
)

const (
	DefaultBufferSize          = 8 * 1024
	DefaultBlockingSendTimeout = 20 * time.Second
	DefaultCloseTimeout        = 30 * time.Second

	// MinInputBufferSize leaves room for a maximal header after the read
	// cursor is compacted.
	MinInputBufferSize = 256
)

// Config holds per-session engine settings. AsyncSendTimeout bounds an
// asynchronous send from the call to its completion. MaxIdleTimeout
// closes a session once nothing has been read or written for that long.
// Zero turns either off.
type Config struct {
	InputBufferSize            ByteSize `json:"input_buffer_size"`
	OutputBufferSize           ByteSize `json:"output_buffer_size"`
	MaxTextMessageBufferSize   ByteSize `json:"max_text_message_buffer_size"`
	MaxBinaryMessageBufferSize ByteSize `json:"max_binary_message_buffer_size"`
	BlockingSendTimeout        Duration `json:"blocking_send_timeout"`
	AsyncSendTimeout           Duration `json:"async_send_timeout"`
	CloseTimeout               Duration `json:"close_timeout"`
	MaxIdleTimeout             Duration `json:"max_idle_timeout"`
	BatchingAllowed            bool     `json:"batching_allowed"`
}

// Default returns the engine defaults.
func Default() Config {
	return Config{
		InputBufferSize:            DefaultBufferSize,
		OutputBufferSize:           DefaultBufferSize,
		MaxTextMessageBufferSize:   DefaultBufferSize,
		MaxBinaryMessageBufferSize: DefaultBufferSize,
		BlockingSendTimeout:        Duration(DefaultBlockingSendTimeout),
		CloseTimeout:               Duration(DefaultCloseTimeout),
	}
}

// Validate checks the settings for values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.InputBufferSize < MinInputBufferSize {
		errs = append(errs, fmt.Errorf("input_buffer_size %d is below %d", c.InputBufferSize, MinInputBufferSize))
	}
	if c.OutputBufferSize < 16 {
		errs = append(errs, fmt.Errorf("output_buffer_size %d is below 16", c.OutputBufferSize))
	}
	if c.MaxTextMessageBufferSize < 4 {
		errs = append(errs, fmt.Errorf("max_text_message_buffer_size %d cannot hold a character", c.MaxTextMessageBufferSize))
	}
	if c.MaxBinaryMessageBufferSize < 1 {
		errs = append(errs, fmt.Errorf("max_binary_message_buffer_size must be positive"))
	}
	if c.BlockingSendTimeout < 0 || c.CloseTimeout < 0 || c.AsyncSendTimeout < 0 || c.MaxIdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("timeouts must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w: %w", errors.Join(errs...), errdefs.ErrInvalidArgument)
	}
	return nil
}

// Load reads a JSON config on top of the defaults.
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decoding config: %w: %w", err, errdefs.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ByteSize is a byte count that unmarshals from a number or a size string
// such as "64KiB".
type ByteSize int

func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("size must be a number or a string: %w", err)
	}
	v, err := units.RAMInBytes(s)
	if err != nil {
		return err
	}
	*b = ByteSize(v)
	return nil
}

func (b ByteSize) String() string { return units.BytesSize(float64(b)) }

// Duration unmarshals from a Go duration string.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
