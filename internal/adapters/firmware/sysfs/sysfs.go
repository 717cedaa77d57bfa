// Package sysfs talks to a sensor hub exposed as a hwmon device: commands go to the
// control attribute, replies are read from data once data_size reports bytes.
package sysfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/sensorhub/internal/errs"
	"github.com/ghalamif/sensorhub/internal/ports"
	"github.com/ghalamif/sensorhub/internal/protocol/fwproto"
)

type Config struct {
	Root        string        `yaml:"root"`
	DeviceDir   string        `yaml:"device_dir"`
	Match       []string      `yaml:"match"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.Root == "" {
		c.Root = "/sys/class/hwmon"
	}
	if c.DeviceDir == "" {
		c.DeviceDir = "device"
	}
	if len(c.Match) == 0 {
		c.Match = []string{"11A4", "psh", "SMO91D0"}
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 500 * time.Millisecond
	}
}

// Find returns the device directory whose modalias contains one of the match strings.
func Find(cfg Config) (string, error) {
	entries, err := os.ReadDir(cfg.Root)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", cfg.Root, err)
	}
	for _, e := range entries {
		dir := filepath.Join(cfg.Root, e.Name(), cfg.DeviceDir)
		alias, err := os.ReadFile(filepath.Join(dir, "modalias"))
		if err != nil {
			continue
		}
		for _, m := range cfg.Match {
			if strings.Contains(string(alias), m) {
				return dir, nil
			}
		}
	}
	return "", fmt.Errorf("no hwmon device under %s matches %v", cfg.Root, cfg.Match)
}

// Channel is a ports.Firmware over the control, data and data_size attributes.
type Channel struct {
	dir         string
	pollTimeout time.Duration

	writeMu  sync.Mutex
	control  *os.File
	data     *os.File
	dataSize *os.File

	pending []byte
	closed  atomic.Bool
}

func Open(cfg Config) (*Channel, error) {
	cfg.ApplyDefaults()
	dir, err := Find(cfg)
	if err != nil {
		return nil, errs.WrapFatal(err, "sysfs", "Open", "locate device")
	}

	ch := &Channel{dir: dir, pollTimeout: cfg.PollTimeout}
	if ch.control, err = os.OpenFile(filepath.Join(dir, "control"), os.O_WRONLY, 0); err != nil {
		return nil, errs.WrapFatal(err, "sysfs", "Open", "open control")
	}
	if ch.data, err = os.Open(filepath.Join(dir, "data")); err != nil {
		ch.control.Close()
		return nil, errs.WrapFatal(err, "sysfs", "Open", "open data")
	}
	if ch.dataSize, err = os.Open(filepath.Join(dir, "data_size")); err != nil {
		ch.control.Close()
		ch.data.Close()
		return nil, errs.WrapFatal(err, "sysfs", "Open", "open data_size")
	}
	return ch, nil
}

// Dir returns the matched device directory.
func (c *Channel) Dir() string { return c.dir }

// Send writes one command in a single write, as the attribute store expects.
func (c *Channel) Send(cmd []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.control.Write(cmd); err != nil {
		return errs.WrapTransient(fmt.Errorf("%w: %v", errs.ErrFirmwareIO, err), "sysfs", "Send", string(cmd))
	}
	return nil
}

// Read blocks until the data attribute has bytes. It waits for an attribute
// change on data_size and re-checks after every poll timeout.
func (c *Channel) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		if c.closed.Load() {
			return 0, os.ErrClosed
		}
		size, err := c.readSize()
		if err != nil {
			return 0, err
		}
		if size > 0 {
			if err := c.readData(size); err != nil {
				return 0, err
			}
			break
		}
		if err := waitReady(c.dataSize, c.pollTimeout); err != nil {
			if c.closed.Load() {
				return 0, os.ErrClosed
			}
			return 0, errs.WrapFatal(err, "sysfs", "Read", "poll data_size")
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *Channel) readSize() (int, error) {
	var buf [16]byte
	n, err := c.dataSize.ReadAt(buf[:], 0)
	if err != nil && !errors.Is(err, io.EOF) {
		if c.closed.Load() {
			return 0, os.ErrClosed
		}
		return 0, errs.WrapFatal(err, "sysfs", "Read", "read data_size")
	}
	v, err := strconv.Atoi(string(bytes.TrimSpace(buf[:n])))
	if err != nil {
		return 0, nil
	}
	if v > fwproto.MaxBuffered {
		return 0, errs.WrapFatal(fmt.Errorf("data_size %d exceeds %d", v, fwproto.MaxBuffered), "sysfs", "Read", "read data_size")
	}
	return v, nil
}

// readData drains size bytes; the attribute returns at most a page per read.
func (c *Channel) readData(size int) error {
	buf := make([]byte, size)
	off := 0
	for off < size {
		n, err := c.data.ReadAt(buf[off:], int64(off))
		off += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return errs.WrapFatal(err, "sysfs", "Read", "read data")
		}
		if n == 0 {
			break
		}
	}
	c.pending = buf[:off]
	return nil
}

func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return errors.Join(c.control.Close(), c.data.Close(), c.dataSize.Close())
}

var _ ports.Firmware = (*Channel)(nil)
