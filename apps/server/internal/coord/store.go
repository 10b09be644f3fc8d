// Package coord is the coordination store shared by gateways and room
// workers: key/value with TTL, hashes, windowed counters and pub/sub.
package coord

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("coord: store closed")

// Store is the coordination contract. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key, field, value string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// Incr atomically increments key. The key expires window after the
	// increment that created it, which gives fixed rate windows.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns once the subscription is live: anything published
	// after Subscribe returns is delivered.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Key helpers for the shared layout.
func ActionsKey(tableID string) string   { return "table:" + tableID + ":actions" }
func LogKey(tableID string) string       { return "room:" + tableID + ":log" }
func ConfirmedKey(tableID string) string { return "room:" + tableID + ":confirmed" }
func DiffsChannel(tableID string) string { return "room:" + tableID + ":diffs" }
func SocketRateKey(connID string) string { return "ratelimit:socket:" + connID }

const (
	GlobalRateKey = "ratelimit:global"
	EventsChannel = "events:game"
)
