package ports

// Firmware is the byte-stream peer behind the broker. Send writes one ASCII
// control command; Read blocks until reply frames are available.
type Firmware interface {
	Send(cmd []byte) error
	Read(p []byte) (int, error)
	Close() error
}
