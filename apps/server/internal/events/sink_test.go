package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Nera26/pokerhub-sub001/apps/server/internal/coord"
)

func TestPublisherForwardsToChannel(t *testing.T) {
	store := coord.NewMemory()
	defer store.Close()
	sub, err := store.Subscribe(context.Background(), coord.EventsChannel)
	if err != nil {
		t.Fatalf("subscribe err: %v", err)
	}
	defer sub.Close()

	p := NewPublisher(store, nil)
	p.Record(context.Background(), GameEvent{Name: "action", TableID: "t1", ActionID: "a1", Tick: 4})
	p.Close()

	select {
	case raw := <-sub.Messages():
		var ev GameEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("decode err: %v", err)
		}
		if ev.ActionID != "a1" || ev.Tick != 4 || ev.At.IsZero() {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not published")
	}
}

func TestEmitCarriesPayload(t *testing.T) {
	store := coord.NewMemory()
	defer store.Close()
	sub, err := store.Subscribe(context.Background(), coord.EventsChannel)
	if err != nil {
		t.Fatalf("subscribe err: %v", err)
	}
	defer sub.Close()

	p := NewPublisher(store, nil)
	p.Emit(context.Background(), "hand_settled", map[string]any{"handId": "t1-1"})
	p.Close()

	select {
	case raw := <-sub.Messages():
		var ev struct {
			Name    string         `json:"name"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("decode err: %v", err)
		}
		if ev.Name != "hand_settled" || ev.Payload["handId"] != "t1-1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not published")
	}
}

func TestRecordAfterCloseIsDropped(t *testing.T) {
	store := coord.NewMemory()
	defer store.Close()

	p := NewPublisher(store, nil)
	p.Close()
	p.Record(context.Background(), GameEvent{Name: "action", TableID: "t1"})
	p.Emit(context.Background(), "late", nil)
	p.Close()
}

func TestNopSink(t *testing.T) {
	s := Nop()
	s.Record(context.Background(), GameEvent{Name: "action"})
	s.Emit(context.Background(), "hand_settled", struct{}{})
}
