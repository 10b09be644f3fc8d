package coord

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	value   string
	expires time.Time
}

func (e memEntry) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

// Memory is a single-process Store.
type Memory struct {
	mu     sync.Mutex
	kv     map[string]memEntry
	hashes map[string]map[string]string
	hub    *hub
	now    func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		kv:     make(map[string]memEntry),
		hashes: make(map[string]map[string]string),
		hub:    newHub(),
		now:    time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.kv[key]
	if !ok || !e.live(m.now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.kv[key] = e
	return nil
}

func (m *Memory) HGet(ctx context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.hashes[key][field]
	return v, ok, nil
}

func (m *Memory) HSet(ctx context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hashes[key]
	if h == nil {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e, ok := m.kv[key]
	var n int64
	if ok && e.live(now) {
		n, _ = strconv.ParseInt(e.value, 10, 64)
	} else {
		e = memEntry{}
		if window > 0 {
			e.expires = now.Add(window)
		}
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	m.kv[key] = e
	return n, nil
}

func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	return m.hub.publish(channel, payload)
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub, err := m.hub.subscribe(channel)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (m *Memory) Close() error {
	m.hub.close()
	return nil
}
