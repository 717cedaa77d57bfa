// Package natspub mirrors hub events onto NATS subjects.
package natspub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/ports"
)

type Config struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	ClientName    string        `yaml:"client_name"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "sensorhub.events"
	}
	if c.ClientName == "" {
		c.ClientName = "sensorhubd"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
}

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Publisher is an EventSink that publishes each event as JSON on <prefix>.<kind>.
type Publisher struct {
	conn   Conn
	prefix string
}

// Connect dials the server with reconnect options and wraps the connection.
func Connect(cfg Config, obs ports.Observability) (*Publisher, error) {
	cfg.ApplyDefaults()
	if obs == nil {
		obs = ports.NopObservability{}
	}
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				obs.LogError("nats_disconnected", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			obs.LogInfo("nats_reconnected", ports.Field{Key: "url", Value: nc.ConnectedUrl()})
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	return New(nc, cfg.SubjectPrefix), nil
}

func New(conn Conn, prefix string) *Publisher {
	return &Publisher{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject an event of kind is published on.
func (p *Publisher) Subject(kind domain.HubEventKind) string {
	return p.prefix + "." + string(kind)
}

func (p *Publisher) Name() string { return "nats" }

func (p *Publisher) WriteBatch(events []domain.HubEvent) error {
	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := p.conn.Publish(p.Subject(ev.Kind), b); err != nil {
			return fmt.Errorf("publish %s: %w", ev.Kind, err)
		}
	}
	return nil
}

func (p *Publisher) Close() {
	p.conn.Close()
}

var (
	_ ports.EventSink = (*Publisher)(nil)
	_ Conn            = (*nats.Conn)(nil)
)
