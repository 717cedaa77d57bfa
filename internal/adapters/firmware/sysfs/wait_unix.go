//go:build unix

package sysfs

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// waitReady blocks until the attribute signals a change or the timeout passes.
func waitReady(f *os.File, timeout time.Duration) error {
	fds := []unix.PollFd{{Fd: int32(f.Fd()), Events: unix.POLLPRI | unix.POLLERR}}
	for {
		_, err := unix.Poll(fds, int(timeout/time.Millisecond))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return err
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			return os.ErrClosed
		}
		return nil
	}
}
