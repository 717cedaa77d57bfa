package sink

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/ports"
)

// JournalSink appends hub events to a Postgres table:
//
//	CREATE TABLE hub_events (boot_id TEXT, at TIMESTAMPTZ, kind TEXT, resource TEXT,
//	    session_id BIGINT, rate INT, delay_ms INT, wake BOOLEAN, calibration TEXT, detail TEXT,
//	    UNIQUE (boot_id, at, kind, session_id))
type JournalSink struct {
	db        *sql.DB
	tableName string
}

func NewJournalSink(db *sql.DB, table string) *JournalSink {
	return &JournalSink{db: db, tableName: table}
}

func (j *JournalSink) Name() string { return "postgres_journal" }

const journalColumns = 10

func (j *JournalSink) WriteBatch(events []domain.HubEvent) error {
	if len(events) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(j.tableName)
	b.WriteString(" (boot_id, at, kind, resource, session_id, rate, delay_ms, wake, calibration, detail) VALUES ")

	args := make([]any, 0, len(events)*journalColumns)
	for i, ev := range events {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for c := 1; c <= journalColumns; c++ {
			if c > 1 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d", len(args)+c)
		}
		b.WriteString(")")

		args = append(args,
			ev.BootID,
			ev.At,
			string(ev.Kind),
			ev.Resource,
			int64(ev.SessionID),
			ev.Rate,
			ev.Delay,
			ev.Wake,
			ev.Calibration,
			ev.Detail,
		)
	}

	// replayed batches are idempotent
	b.WriteString(" ON CONFLICT (boot_id, at, kind, session_id) DO NOTHING")

	_, err := j.db.Exec(b.String(), args...)
	return err
}

var _ ports.EventSink = (*JournalSink)(nil)
