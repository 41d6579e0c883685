package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/solhist/service/history"
)

// SnapshotEvent is published to "history.{address}" each time a newer
// reconciled history of an address has been stored.
type SnapshotEvent struct {
	Address      string    `json:"address"`
	Network      string    `json:"network"`
	ReconciledAt time.Time `json:"reconciled_at"`

	Events      []EventPayload `json:"events"`
	Skipped     int            `json:"skipped"`
	DroppedLegs int            `json:"dropped_legs,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// EventPayload is a transfer event with its explorer link.
type EventPayload struct {
	history.TransferEvent
	ExplorerURL string `json:"explorer_url"`
}

// Subject returns the NATS subject the event is published on.
func (e *SnapshotEvent) Subject() string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, e.Address)
}

// FromReport converts a reconciliation report to a SnapshotEvent for publishing.
func FromReport(report *history.Report, network string) *SnapshotEvent {
	event := &SnapshotEvent{
		Address:      report.Subject,
		Network:      network,
		ReconciledAt: report.ReconciledAt,
		Events:       make([]EventPayload, len(report.Events)),
		Skipped:      len(report.Skipped),
		DroppedLegs:  report.DroppedLegs,
		PublishedAt:  time.Now().UTC(),
	}
	for i, ev := range report.Events {
		event.Events[i] = EventPayload{
			TransferEvent: ev,
			ExplorerURL:   history.ExplorerURL(ev.Signature, network),
		}
	}
	return event
}
