// Package clock is the timer service: periodic ticks for clients and one
// action deadline per player per table.
package clock

import (
	"sync"
	"time"
)

// Key identifies a deadline. Timers of different tables never collide.
type Key struct {
	TableID  string
	PlayerID string
}

type timer struct {
	gen uint64
	t   *time.Timer
}

type Service struct {
	interval time.Duration

	mu      sync.Mutex
	timers  map[Key]timer
	gen     uint64
	onTick  []func(time.Time)
	stopped bool

	stopOnce sync.Once
	done     chan struct{}
}

// New starts a service that calls OnTick listeners every interval. A zero
// interval disables ticks; deadlines still work.
func New(interval time.Duration) *Service {
	s := &Service{
		interval: interval,
		timers:   make(map[Key]timer),
		done:     make(chan struct{}),
	}
	if interval > 0 {
		go s.run()
	}
	return s
}

func (s *Service) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.mu.Lock()
			listeners := append([]func(time.Time){}, s.onTick...)
			s.mu.Unlock()
			for _, fn := range listeners {
				fn(now)
			}
		case <-s.done:
			return
		}
	}
}

// OnTick registers a tick listener. Listeners run on the ticker goroutine.
func (s *Service) OnTick(fn func(now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = append(s.onTick, fn)
}

// Set arms a deadline for key, replacing any existing one.
func (s *Service) Set(key Key, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[key]; ok {
		old.t.Stop()
	}
	s.gen++
	gen := s.gen
	s.timers[key] = timer{gen: gen, t: time.AfterFunc(d, func() { s.fire(key, gen, fn) })}
}

// fire runs fn only if the timer identified by gen is still the current one
// for key. AfterFunc may already be running when Stop is called, so the
// generation check is what guarantees a cleared deadline stays silent.
func (s *Service) fire(key Key, gen uint64, fn func()) {
	s.mu.Lock()
	cur, ok := s.timers[key]
	if !ok || cur.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.mu.Unlock()
	fn()
}

// Clear cancels the deadline for key if one is armed.
func (s *Service) Clear(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.timers[key]; ok {
		cur.t.Stop()
		delete(s.timers, key)
	}
}

// ClearTable cancels every deadline belonging to tableID.
func (s *Service) ClearTable(tableID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, cur := range s.timers {
		if k.TableID == tableID {
			cur.t.Stop()
			delete(s.timers, k)
		}
	}
}

func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stopped = true
		for k, cur := range s.timers {
			cur.t.Stop()
			delete(s.timers, k)
		}
	})
}
