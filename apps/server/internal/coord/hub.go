package coord

import "sync"

const subscriberBuffer = 1024

// hub is an in-process fan-out. A subscriber that falls behind loses
// messages rather than blocking publishers.
type hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*hubSub]struct{}
	closed bool
}

type hubSub struct {
	h       *hub
	channel string
	ch      chan []byte
	once    sync.Once
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*hubSub]struct{})}
}

func (h *hub) subscribe(channel string) (*hubSub, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	s := &hubSub{h: h, channel: channel, ch: make(chan []byte, subscriberBuffer)}
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*hubSub]struct{})
	}
	h.subs[channel][s] = struct{}{}
	return s, nil
}

func (h *hub) publish(channel string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for s := range h.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
		}
	}
	h.subs = nil
}

func (s *hubSub) Messages() <-chan []byte { return s.ch }

func (s *hubSub) Close() error {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	if set := s.h.subs[s.channel]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(s.h.subs, s.channel)
		}
	}
	s.once.Do(func() { close(s.ch) })
	return nil
}
