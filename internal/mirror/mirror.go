// Package mirror copies broadcast events to external sinks. Sinks are
// observers only: session state is never read back from them.
package mirror

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one accepted broadcast.
type Event struct {
	Kind        string // relay message type
	Participant string // originating participant, empty for none
	Payload     []byte // encoded wire message
	At          time.Time
}

// Sink receives mirrored events.
type Sink interface {
	Name() string
	Write(ctx context.Context, ev Event) error
	Close() error
}

// Async feeds events to sinks from a single worker so callers never block.
type Async struct {
	sinks   []Sink
	queue   chan Event
	timeout time.Duration
	log     *zap.Logger
	done    chan struct{}

	mu     sync.RWMutex // guards closed and sends on queue
	closed bool
}

// NewAsync starts the worker that feeds sinks from a queue of the given
// capacity.
func NewAsync(log *zap.Logger, queue int, sinks ...Sink) *Async {
	a := &Async{
		sinks:   sinks,
		queue:   make(chan Event, queue),
		timeout: 5 * time.Second,
		log:     log,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish enqueues ev. It returns false if the queue is full, the mirror
// has no sinks or Close has been called.
func (a *Async) Publish(ev Event) bool {
	if a == nil || len(a.sinks) == 0 {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false
	}
	select {
	case a.queue <- ev:
		return true
	default:
		return false
	}
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		for _, s := range a.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
			if err := s.Write(ctx, ev); err != nil {
				a.log.Warn("mirror write failed", zap.String("sink", s.Name()), zap.String("kind", ev.Kind), zap.Error(err))
			}
			cancel()
		}
	}
}

// Close drains queued events and closes every sink. Later calls to Publish
// return false and later calls to Close do nothing.
func (a *Async) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	for _, s := range a.sinks {
		if err := s.Close(); err != nil {
			a.log.Warn("mirror close failed", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}
