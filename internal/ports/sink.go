package ports

import "github.com/ghalamif/sensorhub/internal/domain"

// EventSink receives batches of hub events drained by the event pipeline.
type EventSink interface {
	WriteBatch(events []domain.HubEvent) error
	Name() string
}
