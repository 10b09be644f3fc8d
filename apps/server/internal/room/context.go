package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Nera26/pokerhub-sub001/apps/server/internal/coord"
	"github.com/Nera26/pokerhub-sub001/holdem"
	"go.uber.org/zap"
)

const storeTimeout = 3 * time.Second

type requestKind int

const (
	requestApply requestKind = iota
	requestState
	requestReplay
	requestResume
	requestHandLog
	requestSnapshot
)

type request struct {
	kind   requestKind
	action holdem.Action
	from   uint64
	reply  chan response
}

type response struct {
	state       holdem.State
	checkpoints []Checkpoint
	handLog     HandLog
	snapshot    *seed
	err         error
}

// seed is the full copy a context is started from.
type seed struct {
	state         holdem.State
	lastConfirmed uint64
	applied       map[string]struct{}
	handStart     holdem.State
	handActions   []holdem.Action
	checkpoints   []Checkpoint
}

type promoteRequest struct {
	target uint64
	reply  chan error
}

// execContext owns one copy of the room state. Exactly one context per
// worker is primary; followers replay the primary's entries in seq order.
type execContext struct {
	id      uint64
	tableID string
	engine  holdem.Engine
	store   coord.Store
	logger  *zap.Logger

	role          atomic.Value // Role
	lastConfirmed atomic.Uint64

	state       holdem.State
	applied     map[string]struct{}
	handStart   holdem.State
	handActions []holdem.Action
	checkpoints []Checkpoint

	sub      coord.Subscription
	requests chan request
	promote  chan promoteRequest
	kill     chan struct{}
	stop     chan struct{}
	halt     sync.Once
	done     chan struct{}
	err      error
}

func newContext(id uint64, tableID string, role Role, s seed, opts Options, sub coord.Subscription) *execContext {
	c := &execContext{
		id:          id,
		tableID:     tableID,
		engine:      opts.Engine,
		store:       opts.Store,
		logger:      opts.Logger.With(zap.Uint64("context_id", id), zap.String("table_id", tableID)),
		state:       s.state.Clone(),
		applied:     maps.Clone(s.applied),
		handStart:   s.handStart.Clone(),
		handActions: slices.Clone(s.handActions),
		checkpoints: slices.Clone(s.checkpoints),
		sub:         sub,
		requests:    make(chan request),
		promote:     make(chan promoteRequest),
		kill:        make(chan struct{}),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if c.applied == nil {
		c.applied = make(map[string]struct{})
	}
	c.role.Store(role)
	c.lastConfirmed.Store(s.lastConfirmed)
	return c
}

func (c *execContext) Role() Role { return c.role.Load().(Role) }

func (c *execContext) run() {
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("%w: panic: %v", ErrWorkerFailed, r)
			c.logger.Error("execution context panicked", zap.Any("panic", r))
		}
		if c.sub != nil {
			_ = c.sub.Close()
		}
		close(c.done)
	}()

	for {
		var diffs <-chan []byte
		if c.Role() == RoleFollower && c.sub != nil {
			diffs = c.sub.Messages()
		}
		select {
		case req := <-c.requests:
			c.handle(req)
		case msg, ok := <-diffs:
			if !ok {
				c.err = fmt.Errorf("%w: replication stream closed", errDiverged)
				return
			}
			if err := c.replicate(msg); err != nil {
				c.err = err
				return
			}
		case p := <-c.promote:
			err := c.becomePrimary(p.target)
			p.reply <- err
			if err != nil {
				c.err = err
				return
			}
		case <-c.kill:
			c.err = errKilled
			return
		case <-c.stop:
			c.err = ErrClosed
			return
		}
	}
}

func (c *execContext) handle(req request) {
	var res response
	switch req.kind {
	case requestApply:
		res.state, res.err = c.apply(req.action)
	case requestState:
		res.state = c.state.Clone()
	case requestReplay:
		res.state, res.err = c.replay()
	case requestResume:
		for _, cp := range c.checkpoints {
			if cp.Seq >= req.from {
				res.checkpoints = append(res.checkpoints, Checkpoint{Seq: cp.Seq, State: cp.State.Clone()})
			}
		}
	case requestHandLog:
		res.handLog = HandLog{
			TableID:     c.tableID,
			HandID:      c.handStart.HandID,
			Start:       c.handStart.Clone(),
			Actions:     slices.Clone(c.handActions),
			Checkpoints: slices.Clone(c.checkpoints),
		}
	case requestSnapshot:
		res.snapshot = c.snapshot()
	}
	req.reply <- res
}

func (c *execContext) snapshot() *seed {
	return &seed{
		state:         c.state.Clone(),
		lastConfirmed: c.lastConfirmed.Load(),
		applied:       maps.Clone(c.applied),
		handStart:     c.handStart.Clone(),
		handActions:   slices.Clone(c.handActions),
		checkpoints:   slices.Clone(c.checkpoints),
	}
}

func (c *execContext) apply(a holdem.Action) (holdem.State, error) {
	if _, ok := c.applied[a.ActionID]; ok {
		return c.state.Clone(), ErrAlreadyApplied
	}
	next, err := c.engine.Apply(c.state, a)
	if err != nil {
		return c.state.Clone(), err
	}
	seq := c.lastConfirmed.Load() + 1
	next.Tick = seq
	entry := Entry{Seq: seq, ActionID: a.ActionID, Action: a, Tick: seq}
	payload, err := json.Marshal(entry)
	if err != nil {
		return c.state.Clone(), fmt.Errorf("marshal entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.store.HSet(ctx, coord.LogKey(c.tableID), strconv.FormatUint(seq, 10), string(payload)); err != nil {
		return c.state.Clone(), fmt.Errorf("%w: record entry: %v", ErrWorkerFailed, err)
	}
	c.commit(next, entry)
	if err := c.store.Set(ctx, coord.ConfirmedKey(c.tableID), strconv.FormatUint(seq, 10), 0); err != nil {
		c.logger.Warn("confirmed marker write failed", zap.Uint64("seq", seq), zap.Error(err))
	}
	if err := c.store.Publish(ctx, coord.DiffsChannel(c.tableID), payload); err != nil {
		c.logger.Warn("replication publish failed", zap.Uint64("seq", seq), zap.Error(err))
	}
	return next.Clone(), nil
}

// commit records an accepted entry; next.Tick must already equal entry.Seq.
func (c *execContext) commit(next holdem.State, e Entry) {
	if next.HandNumber != c.state.HandNumber {
		c.handStart = next.Clone()
		c.handActions = nil
		c.checkpoints = nil
	} else {
		c.handActions = append(c.handActions, e.Action)
	}
	c.checkpoints = append(c.checkpoints, Checkpoint{Seq: e.Seq, State: next.Clone()})
	c.state = next
	c.applied[e.ActionID] = struct{}{}
	c.lastConfirmed.Store(e.Seq)
}

// replay folds the engine over the current hand's log.
func (c *execContext) replay() (holdem.State, error) {
	s := c.handStart.Clone()
	for _, a := range c.handActions {
		next, err := c.engine.Apply(s, a)
		if err != nil {
			return c.state.Clone(), fmt.Errorf("replay %s: %w", a.ActionID, err)
		}
		s = next
	}
	s.Tick = c.lastConfirmed.Load()
	return s, nil
}

func (c *execContext) replicate(msg []byte) error {
	var e Entry
	if err := json.Unmarshal(msg, &e); err != nil {
		c.logger.Warn("undecodable replication entry", zap.Error(err))
		return nil
	}
	return c.follow(e)
}

// follow applies e, first filling any gap from the table log.
func (c *execContext) follow(e Entry) error {
	last := c.lastConfirmed.Load()
	if e.Seq <= last {
		return nil
	}
	if e.Seq > last+1 {
		if err := c.catchUp(e.Seq - 1); err != nil {
			return err
		}
	}
	return c.applyEntry(e)
}

func (c *execContext) applyEntry(e Entry) error {
	next, err := c.engine.Apply(c.state, e.Action)
	if err != nil {
		return fmt.Errorf("%w: seq %d: %v", errDiverged, e.Seq, err)
	}
	next.Tick = c.lastConfirmed.Load() + 1
	if next.Tick != e.Tick {
		return fmt.Errorf("%w: seq %d tick %d != %d", errDiverged, e.Seq, next.Tick, e.Tick)
	}
	c.commit(next, e)
	return nil
}

// catchUp applies logged entries until lastConfirmed reaches target.
func (c *execContext) catchUp(target uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	for seq := c.lastConfirmed.Load() + 1; seq <= target; seq++ {
		raw, ok, err := c.store.HGet(ctx, coord.LogKey(c.tableID), strconv.FormatUint(seq, 10))
		if err != nil {
			return fmt.Errorf("%w: read log seq %d: %v", errDiverged, seq, err)
		}
		if !ok {
			return fmt.Errorf("%w: log seq %d missing", errDiverged, seq)
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return fmt.Errorf("%w: decode log seq %d: %v", errDiverged, seq, err)
		}
		if err := c.applyEntry(e); err != nil {
			return err
		}
	}
	return nil
}

// becomePrimary drains replication and the table log up to target, then
// switches role. Entries beyond target never existed as acknowledged state.
func (c *execContext) becomePrimary(target uint64) error {
	for draining := true; draining; {
		select {
		case msg, ok := <-c.subMessages():
			if !ok {
				draining = false
				break
			}
			var e Entry
			if err := json.Unmarshal(msg, &e); err != nil || e.Seq > target {
				continue
			}
			if err := c.follow(e); err != nil {
				return err
			}
		default:
			draining = false
		}
	}
	if c.lastConfirmed.Load() < target {
		if err := c.catchUp(target); err != nil {
			return err
		}
	}
	if c.sub != nil {
		_ = c.sub.Close()
		c.sub = nil
	}
	c.role.Store(RolePrimary)
	c.logger.Info("promoted to primary", zap.Uint64("last_confirmed", c.lastConfirmed.Load()))
	return nil
}

func (c *execContext) subMessages() <-chan []byte {
	if c.sub == nil {
		return nil
	}
	return c.sub.Messages()
}

// call sends req to the context and waits for its reply.
func (c *execContext) call(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)
	select {
	case c.requests <- req:
	case <-c.done:
		return response{}, errNotReceived
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-c.done:
		if errors.Is(c.err, ErrClosed) {
			return response{}, ErrClosed
		}
		return response{}, fmt.Errorf("%w: %v", ErrWorkerFailed, c.err)
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

var errNotReceived = errors.New("room: context exited before receiving")

func (c *execContext) Kill() { c.halt.Do(func() { close(c.kill) }) }

func (c *execContext) Stop() { c.halt.Do(func() { close(c.stop) }) }
