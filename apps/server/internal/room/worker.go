package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Nera26/pokerhub-sub001/apps/server/internal/coord"
	"github.com/Nera26/pokerhub-sub001/holdem"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultRecoveryTimeout = 5 * time.Second

type Options struct {
	Engine holdem.Engine
	Store  coord.Store
	Logger *zap.Logger
	// Followers keeps a hot standby per table.
	Followers bool
	// RecoveryTimeout bounds promotion and how long callers wait for a
	// primary.
	RecoveryTimeout time.Duration
	Metrics         *Metrics
	Tracer          trace.Tracer
}

// Worker hosts one table: a primary context, an optional follower and the
// supervisor that replaces whichever of them exits.
type Worker struct {
	tableID string
	opts    Options
	logger  *zap.Logger

	mu         sync.Mutex
	primary    *execContext
	follower   *execContext
	ready      chan struct{}
	nextID     uint64
	promotions uint64
	closed     bool

	wake      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
}

func newWorker(tableID string, opts Options) *Worker {
	w := &Worker{
		tableID: tableID,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("table_id", tableID)),
		ready:   make(chan struct{}),
		wake:    make(chan struct{}, 1),
		closing: make(chan struct{}),
		stopped: make(chan struct{}),
	}

	// Subscribe before the primary exists so the first follower misses nothing.
	var sub coord.Subscription
	if opts.Followers {
		var err error
		sub, err = opts.Store.Subscribe(context.Background(), coord.DiffsChannel(tableID))
		if err != nil {
			w.logger.Warn("follower subscribe failed; running without standby", zap.Error(err))
		}
	}

	start := w.restore()
	w.primary = w.spawn(RolePrimary, start, nil)
	close(w.ready)
	if sub != nil {
		w.follower = w.spawn(RoleFollower, start, sub)
	}
	go w.supervise()
	return w
}

// restore rebuilds table state from the durable log, so a restarted
// process continues the sequence instead of overwriting it.
func (w *Worker) restore() seed {
	fresh := w.opts.Engine.NewState(w.tableID)
	tmp := newContext(0, w.tableID, RoleFollower, seed{state: fresh, handStart: fresh}, w.opts, nil)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	raw, err := w.opts.Store.HGetAll(ctx, coord.LogKey(w.tableID))
	if err != nil {
		w.logger.Warn("read table log failed; starting fresh", zap.Error(err))
		return *tmp.snapshot()
	}
	if len(raw) == 0 {
		return *tmp.snapshot()
	}
	seqs := make([]uint64, 0, len(raw))
	for k := range raw {
		if n, err := strconv.ParseUint(k, 10, 64); err == nil {
			seqs = append(seqs, n)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		var e Entry
		if err := json.Unmarshal([]byte(raw[strconv.FormatUint(seq, 10)]), &e); err != nil {
			w.logger.Warn("stopping log recovery at undecodable entry", zap.Uint64("seq", seq), zap.Error(err))
			break
		}
		if err := tmp.applyEntry(e); err != nil {
			w.logger.Warn("stopping log recovery", zap.Uint64("seq", seq), zap.Error(err))
			break
		}
	}
	w.logger.Info("recovered table from log", zap.Uint64("last_confirmed", tmp.lastConfirmed.Load()))
	return *tmp.snapshot()
}

func (w *Worker) spawn(role Role, s seed, sub coord.Subscription) *execContext {
	w.nextID++
	c := newContext(w.nextID, w.tableID, role, s, w.opts, sub)
	go c.run()
	return c
}

func (w *Worker) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) supervise() {
	defer close(w.stopped)
	for {
		w.mu.Lock()
		primary, follower := w.primary, w.follower
		w.mu.Unlock()

		var followerDone <-chan struct{}
		if follower != nil {
			followerDone = follower.done
		}
		select {
		case <-w.closing:
			return
		case <-w.wake:
		case <-primary.done:
			w.failover(primary)
		case <-followerDone:
			w.followerLost(follower)
		}
	}
}

func (w *Worker) failover(dead *execContext) {
	w.mu.Lock()
	if w.closed || w.primary != dead {
		w.mu.Unlock()
		return
	}
	follower := w.follower
	w.follower = nil
	w.ready = make(chan struct{})
	w.promotions++
	w.mu.Unlock()

	target := dead.lastConfirmed.Load()
	w.logger.Error("primary exited", zap.Uint64("context_id", dead.id), zap.Uint64("last_confirmed", target), zap.Error(dead.err))
	started := time.Now()

	var next *execContext
	if follower != nil {
		ctx, cancel := context.WithTimeout(context.Background(), w.recoveryTimeout())
		err := follower.requestPromotion(ctx, target)
		cancel()
		if err != nil {
			w.logger.Error("follower promotion failed", zap.Uint64("context_id", follower.id), zap.Error(err))
			follower.Stop()
		} else {
			next = follower
			w.opts.Metrics.promoted()
		}
	}
	if next == nil {
		next = w.respawn(dead)
		w.opts.Metrics.respawned()
	}

	w.mu.Lock()
	w.primary = next
	close(w.ready)
	closed := w.closed
	w.mu.Unlock()
	if closed {
		next.Stop()
		return
	}
	w.logger.Info("primary restored",
		zap.Uint64("context_id", next.id),
		zap.Uint64("last_confirmed", next.lastConfirmed.Load()),
		zap.Duration("elapsed", time.Since(started)))

	if w.opts.Followers {
		go w.replaceFollower(next)
	}
}

func (c *execContext) requestPromotion(ctx context.Context, target uint64) error {
	p := promoteRequest{target: target, reply: make(chan error, 1)}
	select {
	case c.promote <- p:
	case <-c.done:
		return fmt.Errorf("%w: follower exited: %v", ErrWorkerFailed, c.err)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-p.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// respawn starts a new primary from the dead context's hand log. The dead
// context's fields are safe to read once its done channel is closed.
func (w *Worker) respawn(dead *execContext) *execContext {
	s := *dead.snapshot()
	replayed, err := safeReplay(dead)
	if err != nil {
		w.logger.Warn("replay failed; reusing last state", zap.Error(err))
	} else {
		s.state = replayed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spawn(RolePrimary, s, nil)
}

func safeReplay(c *execContext) (s holdem.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("replay panic: %v", r)
		}
	}()
	return c.replay()
}

func (w *Worker) followerLost(dead *execContext) {
	w.mu.Lock()
	if w.closed || w.follower != dead {
		w.mu.Unlock()
		return
	}
	w.follower = nil
	primary := w.primary
	w.mu.Unlock()

	w.opts.Metrics.followerLost()
	w.logger.Warn("follower exited", zap.Uint64("context_id", dead.id), zap.Error(dead.err))
	go w.replaceFollower(primary)
}

// replaceFollower subscribes, then seeds from a primary snapshot; entries at
// or below the snapshot's seq are skipped when they arrive.
func (w *Worker) replaceFollower(primary *execContext) {
	sub, err := w.opts.Store.Subscribe(context.Background(), coord.DiffsChannel(w.tableID))
	if err != nil {
		w.logger.Warn("follower subscribe failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.recoveryTimeout())
	defer cancel()
	res, err := primary.call(ctx, request{kind: requestSnapshot})
	if err != nil {
		_ = sub.Close()
		w.logger.Warn("follower snapshot failed", zap.Error(err))
		return
	}

	w.mu.Lock()
	if w.closed || w.primary != primary || w.follower != nil {
		w.mu.Unlock()
		_ = sub.Close()
		return
	}
	w.follower = w.spawn(RoleFollower, *res.snapshot, sub)
	id := w.follower.id
	w.mu.Unlock()
	w.notify()
	w.logger.Info("follower started", zap.Uint64("context_id", id), zap.Uint64("from_seq", res.snapshot.lastConfirmed))
}

func (w *Worker) recoveryTimeout() time.Duration {
	if w.opts.RecoveryTimeout > 0 {
		return w.opts.RecoveryTimeout
	}
	return defaultRecoveryTimeout
}

// primaryCall routes req to the live primary, waiting through a promotion
// for at most the recovery timeout.
func (w *Worker) primaryCall(ctx context.Context, req request) (response, error) {
	deadline := time.NewTimer(w.recoveryTimeout())
	defer deadline.Stop()
	for {
		w.mu.Lock()
		closed, ready := w.closed, w.ready
		w.mu.Unlock()
		if closed {
			return response{}, ErrClosed
		}
		select {
		case <-ready:
		case <-deadline.C:
			return response{}, ErrUnavailable
		case <-ctx.Done():
			return response{}, ctx.Err()
		}
		w.mu.Lock()
		primary := w.primary
		w.mu.Unlock()

		res, err := primary.call(ctx, req)
		if errors.Is(err, errNotReceived) {
			// Died before taking the request; wait for its replacement.
			select {
			case <-deadline.C:
				return response{}, ErrUnavailable
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}
		return res, err
	}
}

// Apply runs a on the primary. ErrAlreadyApplied is returned with the
// current state when the actionId was applied before, including by a
// primary that has since died.
func (w *Worker) Apply(ctx context.Context, a holdem.Action) (holdem.State, error) {
	tracer := w.opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/Nera26/pokerhub-sub001/room")
	}
	ctx, span := tracer.Start(ctx, "room.apply", trace.WithAttributes(
		attribute.String("table.id", w.tableID),
		attribute.String("action.type", string(a.Type)),
		attribute.String("action.id", a.ActionID),
	))
	defer span.End()

	res, err := w.primaryCall(ctx, request{kind: requestApply, action: a})
	if err == nil {
		err = res.err
	}
	if err != nil && !errors.Is(err, ErrAlreadyApplied) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int64("state.tick", int64(res.state.Tick)))
	return res.state, err
}

// State returns the primary's full state, private fields included.
func (w *Worker) State(ctx context.Context) (holdem.State, error) {
	res, err := w.primaryCall(ctx, request{kind: requestState})
	return res.state, err
}

// PublicState returns the last state with private fields removed.
func (w *Worker) PublicState(ctx context.Context) (holdem.State, error) {
	s, err := w.State(ctx)
	if err != nil {
		return holdem.State{}, err
	}
	return w.opts.Engine.Public(s), nil
}

// Replay rebuilds the current hand from its log. It does not mutate the
// live state.
func (w *Worker) Replay(ctx context.Context) (holdem.State, error) {
	res, err := w.primaryCall(ctx, request{kind: requestReplay})
	if err == nil {
		err = res.err
	}
	return res.state, err
}

// Resume returns the current hand's checkpoints with Seq >= from.
func (w *Worker) Resume(ctx context.Context, from uint64) ([]Checkpoint, error) {
	res, err := w.primaryCall(ctx, request{kind: requestResume, from: from})
	return res.checkpoints, err
}

func (w *Worker) HandLog(ctx context.Context) (HandLog, error) {
	res, err := w.primaryCall(ctx, request{kind: requestHandLog})
	return res.handLog, err
}

// Kill terminates the primary's context abruptly. The supervisor fails
// over exactly as it would after a crash.
func (w *Worker) Kill() {
	w.mu.Lock()
	p := w.primary
	w.mu.Unlock()
	if p != nil {
		p.Kill()
	}
}

func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Stats{TableID: w.tableID, Promotions: w.promotions}
	select {
	case <-w.ready:
	default:
		st.Recovering = true
	}
	// Follower first: the primary only moves ahead between the two loads.
	if w.follower != nil {
		st.HasFollower = true
		st.FollowerLastConfirmed = w.follower.lastConfirmed.Load()
	}
	if w.primary != nil {
		st.PrimaryID = w.primary.id
		st.PrimaryLastConfirmed = w.primary.lastConfirmed.Load()
	}
	return st
}

func (w *Worker) TableID() string { return w.tableID }

// close stops every context and the supervisor.
func (w *Worker) close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		primary, follower := w.primary, w.follower
		w.mu.Unlock()
		close(w.closing)
		<-w.stopped
		if primary != nil {
			primary.Stop()
			<-primary.done
		}
		if follower != nil {
			follower.Stop()
			<-follower.done
		}
	})
}
