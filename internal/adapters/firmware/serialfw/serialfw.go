// Package serialfw reaches the sensor hub over a UART. Commands are written as
// newline terminated ASCII lines and replies arrive as raw frames.
package serialfw

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"

	"github.com/ghalamif/sensorhub/internal/errs"
	"github.com/ghalamif/sensorhub/internal/ports"
)

type Config struct {
	Device      string        `yaml:"device"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.Baud == 0 {
		c.Baud = 115200
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 500 * time.Millisecond
	}
}

func (c Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("firmware.serial.device is required")
	}
	if c.Baud < 0 {
		return fmt.Errorf("firmware.serial.baud must be positive")
	}
	return nil
}

// Channel is a ports.Firmware over any byte stream.
type Channel struct {
	port       io.ReadWriteCloser
	timedReads bool

	writeMu sync.Mutex
	closed  atomic.Bool
}

func Open(cfg Config) (*Channel, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errs.WrapInvalid(err, "serialfw", "Open", "validate config")
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, errs.WrapFatal(err, "serialfw", "Open", "open "+cfg.Device)
	}
	return New(p, cfg.ReadTimeout > 0), nil
}

// New wraps an open stream. With timedReads an empty read is a timeout, not EOF.
func New(port io.ReadWriteCloser, timedReads bool) *Channel {
	return &Channel{port: port, timedReads: timedReads}
}

func (c *Channel) Send(cmd []byte) error {
	line := make([]byte, 0, len(cmd)+1)
	line = append(line, cmd...)
	line = append(line, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.port.Write(line); err != nil {
		return errs.WrapTransient(fmt.Errorf("%w: %v", errs.ErrFirmwareIO, err), "serialfw", "Send", string(cmd))
	}
	return nil
}

func (c *Channel) Read(p []byte) (int, error) {
	for {
		if c.closed.Load() {
			return 0, os.ErrClosed
		}
		n, err := c.port.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == nil || (c.timedReads && errors.Is(err, io.EOF)) {
			continue
		}
		if c.closed.Load() {
			return 0, os.ErrClosed
		}
		return 0, errs.WrapFatal(err, "serialfw", "Read", "read port")
	}
}

func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.port.Close()
}

var _ ports.Firmware = (*Channel)(nil)
