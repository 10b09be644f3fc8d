package gateway

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/Nera26/pokerhub-sub001/apps/server/internal/events"
)

func itoa(i int) string { return strconv.Itoa(i) }

func httpHandler(g *Gateway) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.HandleWebSocket)
	mux.HandleFunc("/spectate", g.HandleSpectator)
	return mux
}

// recordingSink keeps emitted analytics events for assertions.
type recordingSink struct {
	mu      sync.Mutex
	emitted map[string][]any
}

func newRecordingSink() *recordingSink {
	return &recordingSink{emitted: make(map[string][]any)}
}

func (r *recordingSink) Record(ctx context.Context, ev events.GameEvent) {
	r.Emit(ctx, ev.Name, ev)
}

func (r *recordingSink) Emit(_ context.Context, name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted[name] = append(r.emitted[name], payload)
}

func (r *recordingSink) named(name string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.emitted[name]...)
}
