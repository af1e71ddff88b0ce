package homeassistant

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hasl-sensors/hasl/pkg/types"
)

const queueSize = 256

// StateWriter is the subset of Client used by Publisher.
type StateWriter interface {
	SetState(ctx context.Context, ent *types.Entity) error
	RemoveState(ctx context.Context, entityID string) error
}

type job struct {
	ent    *types.Entity
	remove string
}

// Publisher pushes entity updates to Home Assistant from a single goroutine
// so a slow host never blocks a refresh.
type Publisher struct {
	w       StateWriter
	timeout time.Duration
	queue   chan job

	mu        sync.Mutex
	published map[string]map[string]struct{} // entry id -> entity ids
}

// NewPublisher creates a Publisher writing through w.
func NewPublisher(w StateWriter, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Publisher{
		w:         w,
		timeout:   timeout,
		queue:     make(chan job, queueSize),
		published: make(map[string]map[string]struct{}),
	}
}

// Put queues ent for publishing. Updates are dropped when the queue is full.
func (p *Publisher) Put(ent *types.Entity) {
	p.mu.Lock()
	ids, ok := p.published[ent.EntryID]
	if !ok {
		ids = make(map[string]struct{})
		p.published[ent.EntryID] = ids
	}
	ids[ent.EntityID] = struct{}{}
	p.mu.Unlock()

	p.enqueue(job{ent: ent})
}

// DeleteEntry queues removal of every host entity published for entryID.
func (p *Publisher) DeleteEntry(entryID string) {
	p.mu.Lock()
	ids := p.published[entryID]
	delete(p.published, entryID)
	p.mu.Unlock()

	for id := range ids {
		p.enqueue(job{remove: id})
	}
}

func (p *Publisher) enqueue(j job) {
	select {
	case p.queue <- j:
	default:
		slog.Warn("homeassistant: publish queue full, dropping update")
	}
}

// Run drains the queue until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.queue:
			p.handle(ctx, j)
		}
	}
}

func (p *Publisher) handle(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if j.ent == nil {
		if err := p.w.RemoveState(ctx, j.remove); err != nil {
			slog.Warn("homeassistant: remove state failed", "entity", j.remove, "err", err)
		}
		return
	}
	if err := p.w.SetState(ctx, j.ent); err != nil {
		slog.Warn("homeassistant: publish failed", "entity", j.ent.EntityID, "err", err)
		return
	}
	slog.Debug("homeassistant: published", "entity", j.ent.EntityID, "state", j.ent.StateString())
}
