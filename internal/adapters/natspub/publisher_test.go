package natspub

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ghalamif/sensorhub/internal/domain"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs   []published
	err    error
	closed bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

func TestPublisherSubjects(t *testing.T) {
	conn := &fakeConn{}
	pub := New(conn, "hub.events.")

	events := []domain.HubEvent{
		{Kind: domain.EventSessionOpened, Resource: "ACCEL", SessionID: 4},
		{Kind: domain.EventFirmwareRestart, BootID: "b2"},
	}
	if err := pub.WriteBatch(events); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if len(conn.msgs) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(conn.msgs))
	}
	if conn.msgs[0].subject != "hub.events.session_opened" || conn.msgs[1].subject != "hub.events.firmware_restart" {
		t.Fatalf("unexpected subjects %q %q", conn.msgs[0].subject, conn.msgs[1].subject)
	}

	var got domain.HubEvent
	if err := json.Unmarshal(conn.msgs[0].data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Resource != "ACCEL" || got.SessionID != 4 {
		t.Fatalf("unexpected payload %+v", got)
	}

	pub.Close()
	if !conn.closed {
		t.Fatalf("expected connection to be closed")
	}
}

func TestPublisherError(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	pub := New(conn, "sensorhub.events")
	if err := pub.WriteBatch([]domain.HubEvent{{Kind: domain.EventCalibration}}); err == nil {
		t.Fatalf("expected publish error to surface")
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.SubjectPrefix != "sensorhub.events" || cfg.MaxReconnects != -1 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}
