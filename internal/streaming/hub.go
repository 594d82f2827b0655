package streaming

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Delivery deadlines for terminal events. Progress events are droppable,
// so they never block; complete/error events wait this long before the
// slow consumer is given up on.
const (
	terminalEnqueueTimeout = 100 * time.Millisecond
	terminalDeliverTimeout = 50 * time.Millisecond
)

// terminal reports whether an event ends the stream.
func terminal(event SSEEvent) bool {
	return event.Type == EventTypeComplete || event.Type == EventTypeError
}

// Client is one SSE connection's view of a job stream. The handler drains
// Events until it closes; the broadcaster closes it on shutdown.
type Client struct {
	Events chan SSEEvent
}

// NewClient allocates a client with a small buffer so a momentarily slow
// connection does not stall the fan-out loop.
func NewClient() *Client {
	return &Client{Events: make(chan SSEEvent, 10)}
}

// JobBroadcaster fans events for one import job out to its watchers.
type JobBroadcaster struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	inbox    chan SSEEvent
	log      *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  bool
}

// NewJobBroadcaster creates a broadcaster bound to ctx. Call Start to run
// the fan-out loop.
func NewJobBroadcaster(ctx context.Context, log *slog.Logger) *JobBroadcaster {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &JobBroadcaster{
		clients: make(map[*Client]struct{}),
		inbox:   make(chan SSEEvent, 100),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a watcher.
func (b *JobBroadcaster) Register(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = struct{}{}
	b.log.Debug("stream client registered", "clients", len(b.clients))
}

// Unregister removes a watcher and closes its channel. Stop closes all
// client channels itself, so a stopped broadcaster must not close again.
func (b *JobBroadcaster) Unregister(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; !ok {
		return
	}
	delete(b.clients, client)
	if !b.stopped {
		close(client.Events)
	}
	b.log.Debug("stream client unregistered", "clients", len(b.clients))
}

// ClientCount returns the number of registered watchers.
func (b *JobBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast queues an event for fan-out. Progress events are dropped when
// the inbox is full; terminal events get a grace period beyond that, since
// losing them leaves watchers hanging until their heartbeat times out.
func (b *JobBroadcaster) Broadcast(event SSEEvent) {
	b.mu.RLock()
	stopped := b.stopped
	b.mu.RUnlock()
	if stopped {
		return
	}

	if terminal(event) {
		select {
		case b.inbox <- event:
		case <-b.ctx.Done():
		case <-time.After(terminalEnqueueTimeout):
			b.log.Error("dropping terminal stream event, inbox full",
				"event", event.Type, "capacity", cap(b.inbox))
		}
		return
	}

	select {
	case b.inbox <- event:
	case <-b.ctx.Done():
	default:
		b.log.Warn("dropping stream event, inbox full", "event", event.Type)
	}
}

// Stop shuts the broadcaster down and closes every client channel.
func (b *JobBroadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		for client := range b.clients {
			close(client.Events)
			delete(b.clients, client)
		}
		b.mu.Unlock()
		b.cancel()
		close(b.inbox)
	})
}

// Start runs the fan-out loop until the context is cancelled or a terminal
// event is delivered.
func (b *JobBroadcaster) Start() {
	go func() {
		defer b.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case event, ok := <-b.inbox:
				if !ok {
					return
				}
				b.fanOut(event)
				if terminal(event) {
					// Give handlers a beat to drain before channels close.
					time.Sleep(100 * time.Millisecond)
					return
				}
			}
		}
	}()
}

func (b *JobBroadcaster) fanOut(event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		if terminal(event) {
			select {
			case client.Events <- event:
			case <-time.After(terminalDeliverTimeout):
				b.log.Error("stream client too slow for terminal event",
					"event", event.Type, "capacity", cap(client.Events))
			}
			continue
		}
		select {
		case client.Events <- event:
		default:
			// Slow watcher; it will catch up on the next progress tick.
		}
	}
}

// StreamHub routes events to per-job broadcasters, creating them on the
// first watcher and tearing them down with the last.
type StreamHub struct {
	mu           sync.RWMutex
	broadcasters map[string]*JobBroadcaster
	log          *slog.Logger
}

// NewStreamHub creates an empty hub.
func NewStreamHub() *StreamHub {
	return &StreamHub{
		broadcasters: make(map[string]*JobBroadcaster),
		log:          slog.Default(),
	}
}

// Register attaches a new client to the job's broadcaster, starting one if
// this is the job's first watcher.
func (h *StreamHub) Register(ctx context.Context, jobID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.broadcasters[jobID]
	if !ok {
		b = NewJobBroadcaster(ctx, h.log.With("job_id", jobID))
		h.broadcasters[jobID] = b
		b.Start()
		h.log.Debug("started job broadcaster", "job_id", jobID)
	}

	client := NewClient()
	b.Register(client)
	return client
}

// Unregister detaches a client. The last client leaving stops the
// broadcaster and removes it from the hub.
func (h *StreamHub) Unregister(jobID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.broadcasters[jobID]
	if !ok {
		return
	}
	b.Unregister(client)

	if b.ClientCount() == 0 {
		b.Stop()
		delete(h.broadcasters, jobID)
		h.log.Debug("stopped job broadcaster", "job_id", jobID)
	}
}

// Broadcast sends an event to all clients following a job. Broadcasts for
// jobs nobody is watching are dropped silently; progress is still recorded
// in the job registry.
func (h *StreamHub) Broadcast(jobID string, event SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if b, ok := h.broadcasters[jobID]; ok {
		b.Broadcast(event)
	}
}

// IsRunning reports whether a broadcaster exists for the job.
func (h *StreamHub) IsRunning(jobID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.broadcasters[jobID]
	return ok
}
