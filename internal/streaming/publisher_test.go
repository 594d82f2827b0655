package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/florin-systems/finflow/internal/committer"
	"github.com/florin-systems/finflow/internal/importer"
)

func TestPublisherForwardsProgress(t *testing.T) {
	hub := NewStreamHub()
	pub := NewPublisher(hub)

	client := hub.Register(context.Background(), "job-1")
	defer hub.Unregister("job-1", client)

	pub.ImportProgress("job-1", committer.Progress{File: "jan.csv", Percent: 40})

	select {
	case event := <-client.Events:
		if event.Type != EventTypeProgress {
			t.Errorf("Expected EventTypeProgress, got %s", event.Type)
		}
		prog, ok := event.Data.(committer.Progress)
		if !ok {
			t.Fatalf("Expected committer.Progress payload, got %T", event.Data)
		}
		if prog.Percent != 40 {
			t.Errorf("Expected percent 40, got %d", prog.Percent)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for progress event")
	}
}

func TestPublisherCompletionEventType(t *testing.T) {
	tests := []struct {
		name    string
		summary importer.Summary
		want    EventType
	}{
		{"success", importer.Summary{Success: true, JobID: "job-1"}, EventTypeComplete},
		{"failure", importer.Summary{Success: false, JobID: "job-1"}, EventTypeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewStreamHub()
			pub := NewPublisher(hub)
			client := hub.Register(context.Background(), "job-1")

			pub.ImportCompleted("job-1", tt.summary)

			select {
			case event := <-client.Events:
				if event.Type != tt.want {
					t.Errorf("Expected %s, got %s", tt.want, event.Type)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Timeout waiting for completion event")
			}
		})
	}
}
