package streaming

import (
	"github.com/florin-systems/finflow/internal/committer"
	"github.com/florin-systems/finflow/internal/importer"
)

// Publisher adapts the hub to the importer's event sink so import runs can
// fan progress out to SSE clients without knowing about the transport.
type Publisher struct {
	hub *StreamHub
}

// NewPublisher wraps a hub.
func NewPublisher(hub *StreamHub) *Publisher {
	return &Publisher{hub: hub}
}

// ImportProgress forwards one progress event to the job's followers.
func (p *Publisher) ImportProgress(jobID string, prog committer.Progress) {
	p.hub.Broadcast(jobID, NewEvent(EventTypeProgress, prog))
}

// ImportCompleted forwards the final summary. Failed runs go out as error
// events so clients can distinguish them without parsing the payload.
func (p *Publisher) ImportCompleted(jobID string, s importer.Summary) {
	eventType := EventTypeComplete
	if !s.Success {
		eventType = EventTypeError
	}
	p.hub.Broadcast(jobID, NewEvent(eventType, s))
}

var _ importer.Events = (*Publisher)(nil)
