// Package events forwards game analytics without blocking the caller.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Nera26/pokerhub-sub001/apps/server/internal/coord"
	"go.uber.org/zap"
)

// GameEvent is one accepted action as seen by analytics.
type GameEvent struct {
	Name     string    `json:"name"`
	TableID  string    `json:"tableId"`
	HandID   string    `json:"handId,omitempty"`
	ActionID string    `json:"actionId,omitempty"`
	PlayerID string    `json:"playerId,omitempty"`
	Type     string    `json:"type,omitempty"`
	Tick     uint64    `json:"tick,omitempty"`
	At       time.Time `json:"at"`
	Payload  any       `json:"payload,omitempty"`
}

type Sink interface {
	Record(ctx context.Context, ev GameEvent)
	// Emit sends a named event whose body is an arbitrary payload.
	Emit(ctx context.Context, name string, payload any)
}

type nopSink struct{}

func (nopSink) Record(context.Context, GameEvent) {}
func (nopSink) Emit(context.Context, string, any) {}

func Nop() Sink { return nopSink{} }

const (
	queueSize      = 1024
	publishTimeout = 2 * time.Second
)

// Publisher pushes events onto the coordination store's analytics channel
// from its own goroutine. Events beyond the queue, or sent after Close, are
// dropped.
type Publisher struct {
	store  coord.Store
	logger *zap.Logger
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
	queue  chan GameEvent
}

func NewPublisher(store coord.Store, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		store:  store,
		logger: logger.Named("events"),
		queue:  make(chan GameEvent, queueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) Record(_ context.Context, ev GameEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Debug("publisher closed; dropping event", zap.String("name", ev.Name), zap.String("table_id", ev.TableID))
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.logger.Warn("analytics queue full; dropping event", zap.String("name", ev.Name), zap.String("table_id", ev.TableID))
	}
}

func (p *Publisher) Emit(ctx context.Context, name string, payload any) {
	p.Record(ctx, GameEvent{Name: name, Payload: payload})
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		raw, err := json.Marshal(ev)
		if err != nil {
			p.logger.Warn("marshal event failed", zap.String("name", ev.Name), zap.Error(err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.store.Publish(ctx, coord.EventsChannel, raw); err != nil {
			p.logger.Warn("publish event failed", zap.String("name", ev.Name), zap.Error(err))
		}
		cancel()
		p.logger.Debug("event", zap.String("name", ev.Name), zap.String("table_id", ev.TableID), zap.Uint64("tick", ev.Tick))
	}
}

// Close flushes queued events. It is safe to call more than once.
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}
