package ports

import "time"

type Policy struct {
	MaxOutboxLen  int           `yaml:"max_outbox_len"`
	MaxEventQueue int           `yaml:"max_event_queue"`
	MaxBatchSize  int           `yaml:"max_batch_size"`
	IdleSleep     time.Duration `yaml:"idle_sleep"`

	OnOutboxFull string `yaml:"on_outbox_full"` // "drop", "disconnect"
}

// DisconnectOnFull reports whether a full control outbox closes the client.
func (p Policy) DisconnectOnFull() bool { return p.OnOutboxFull == "disconnect" }
