package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Nera26/pokerhub-sub001/apps/server/internal/clock"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/codec"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/coord"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/events"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/ledger"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/room"
	"github.com/Nera26/pokerhub-sub001/holdem"
	"go.uber.org/zap"
)

const (
	storeTimeout   = 3 * time.Second
	persistTimeout = 5 * time.Second
)

// HandleAction runs one client action through validation, identity,
// idempotency and rate checks, applies it, and fans out the result. Every
// outcome is reported to c; nothing is returned to the caller.
func (g *Gateway) HandleAction(ctx context.Context, c *Connection, a holdem.Action) {
	if err := a.Validate(); err != nil {
		g.fail(c, a, newError(CodeMalformed, "malformed action", err))
		return
	}
	if a.TableID != c.TableID() || (a.PlayerID != "" && a.PlayerID != c.PlayerID()) {
		g.fail(c, a, newError(CodeUnauthorized, "action identity does not match connection", nil))
		return
	}
	if g.answerDuplicate(ctx, c, a) {
		return
	}
	if err := g.allow(ctx, c); err != nil {
		g.fail(c, a, err)
		return
	}
	g.process(ctx, c, a)
}

// answerDuplicate acks a previously applied action without touching the
// engine. The per-connection cache is checked before the durable record.
func (g *Gateway) answerDuplicate(ctx context.Context, c *Connection, a holdem.Action) bool {
	if out, ok := c.seen.Get(a.ActionID); ok {
		g.ackDuplicate(c, a, out)
		return true
	}
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	raw, ok, err := g.store.HGet(sctx, coord.ActionsKey(a.TableID), a.ActionID)
	if err != nil {
		g.logger.Warn("idempotency lookup failed", zap.String("action_id", a.ActionID), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	var out ActionOutcome
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		out = ActionOutcome{ActionID: a.ActionID, TableID: a.TableID, Version: a.Version}
	}
	c.seen.Add(a.ActionID, out)
	g.ackDuplicate(c, a, out)
	return true
}

func (g *Gateway) ackDuplicate(c *Connection, a holdem.Action, out ActionOutcome) {
	g.metrics.duplicates.Inc()
	g.metrics.actions.WithLabelValues("duplicate").Inc()
	c.emit(codec.EventActionAck, codec.Ack{ActionID: a.ActionID, Duplicate: true, Version: out.Version, Tick: out.Tick})
}

// allow enforces the per-socket window, then the global one. A socket over
// its own cap never spends global budget.
func (g *Gateway) allow(ctx context.Context, c *Connection) *Error {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if g.opts.SocketLimit > 0 {
		n, err := g.store.Incr(sctx, coord.SocketRateKey(c.ID), g.opts.RateWindow)
		if err != nil {
			g.logger.Warn("socket rate counter failed", zap.Error(err))
		} else if n > int64(g.opts.SocketLimit) {
			g.metrics.socketLimited.Inc()
			return newError(CodeRateLimited, "rate limit exceeded", nil)
		}
	}
	if g.opts.GlobalLimit > 0 {
		n, err := g.store.Incr(sctx, coord.GlobalRateKey, g.opts.RateWindow)
		if err != nil {
			g.logger.Warn("global rate counter failed", zap.Error(err))
		} else if n > int64(g.opts.GlobalLimit) {
			g.metrics.globalLimited.Inc()
			return newError(CodeRateLimited, "global rate limit exceeded", nil)
		}
	}
	return nil
}

// process applies a and publishes the outcome. c is nil for actions the
// gateway synthesizes itself.
func (g *Gateway) process(ctx context.Context, c *Connection, a holdem.Action) {
	w := g.rooms.Get(a.TableID)
	v := g.view(a.TableID)

	v.mu.Lock()
	defer v.mu.Unlock()

	state, err := w.Apply(ctx, a)
	duplicate := errors.Is(err, room.ErrAlreadyApplied)
	if err != nil && !duplicate {
		gerr := classify(err)
		g.metrics.actions.WithLabelValues(string(gerr.Code)).Inc()
		g.logger.Info("action not applied",
			zap.String("table_id", a.TableID),
			zap.String("action_id", a.ActionID),
			zap.String("code", string(gerr.Code)),
			zap.Error(err))
		if c != nil {
			c.sendError(gerr, a.ActionID)
		}
		return
	}

	out := ActionOutcome{ActionID: a.ActionID, TableID: a.TableID, Version: a.Version, Tick: state.Tick, At: time.Now().UTC()}
	g.recordOutcome(ctx, out)
	if c != nil {
		c.seen.Add(a.ActionID, out)
	}
	if duplicate {
		if c != nil {
			g.ackDuplicate(c, a, out)
		}
		return
	}
	g.metrics.actions.WithLabelValues("applied").Inc()
	if c != nil {
		c.emit(codec.EventActionAck, codec.Ack{ActionID: a.ActionID, Version: a.Version, Tick: state.Tick})
	}

	prev := v.state
	// A snapshot older than the worker log must not hand out a used tick.
	v.tick = max(v.tick+1, state.Tick)
	v.state = state
	v.has = true
	v.dirty = true
	g.fanOut(a.TableID, v.tick, state)
	g.rearmTimers(a, state)

	g.events.Record(ctx, events.GameEvent{
		Name:     "action",
		TableID:  a.TableID,
		HandID:   state.HandID,
		ActionID: a.ActionID,
		PlayerID: a.PlayerID,
		Type:     string(a.Type),
		Tick:     v.tick,
	})
	if state.Settled() && state.Proof != nil && !(prev.Settled() && prev.HandID == state.HandID) {
		g.settleHand(ctx, w, state)
	}
}

func (g *Gateway) recordOutcome(ctx context.Context, out ActionOutcome) {
	raw, err := json.Marshal(out)
	if err != nil {
		g.logger.Error("marshal outcome failed", zap.Error(err))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := g.store.HSet(sctx, coord.ActionsKey(out.TableID), out.ActionID, string(raw)); err != nil {
		g.logger.Warn("idempotency record failed", zap.String("action_id", out.ActionID), zap.Error(err))
	}
}

func (g *Gateway) fail(c *Connection, a holdem.Action, e *Error) {
	g.metrics.actions.WithLabelValues(string(e.Code)).Inc()
	c.sendError(e, a.ActionID)
}

// fanOut sends each player their own view as a tracked frame and
// spectators the public view.
func (g *Gateway) fanOut(tableID string, tick uint64, state holdem.State) {
	players, spectators := g.members(tableID)
	for _, c := range players {
		c.emitTracked(codec.EventState, codec.StatePayload{TableID: tableID, Tick: tick, State: sanitize(state, c.PlayerID())})
	}
	if len(spectators) == 0 {
		return
	}
	public := codec.StatePayload{TableID: tableID, Tick: tick, State: sanitize(state, "")}
	for _, c := range spectators {
		c.emit(codec.EventState, public)
	}
}

// rearmTimers clears the actor's deadline and arms one for whoever acts next.
func (g *Gateway) rearmTimers(a holdem.Action, state holdem.State) {
	if g.opts.ActionTimeout <= 0 {
		return
	}
	if a.PlayerID != "" {
		g.clock.Clear(clock.Key{TableID: a.TableID, PlayerID: a.PlayerID})
	}
	if state.Phase != holdem.PhaseBettingRound || state.ActingPlayerID == "" {
		g.clock.ClearTable(a.TableID)
		return
	}
	tableID, playerID, tick := a.TableID, state.ActingPlayerID, state.Tick
	g.clock.Set(clock.Key{TableID: tableID, PlayerID: playerID}, g.opts.ActionTimeout, func() {
		g.handleTimeout(tableID, playerID, tick)
	})
}

// handleTimeout applies the default action for a player whose deadline
// passed. The id is derived from the state tick so a retried timeout is
// deduplicated like any client action.
func (g *Gateway) handleTimeout(tableID, playerID string, tick uint64) {
	select {
	case <-g.done:
		return
	default:
	}
	a := holdem.Action{
		ActionID: fmt.Sprintf("timeout:%s:%s:%d", tableID, playerID, tick),
		Version:  holdem.ActionVersion,
		TableID:  tableID,
		PlayerID: playerID,
		Type:     g.opts.DefaultAction,
	}
	g.logger.Info("action deadline passed", zap.String("table_id", tableID), zap.String("player_id", playerID), zap.Uint64("tick", tick))
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	sctx, scancel := context.WithTimeout(ctx, storeTimeout)
	_, seen, err := g.store.HGet(sctx, coord.ActionsKey(tableID), a.ActionID)
	scancel()
	if err == nil && seen {
		return
	}
	g.process(ctx, nil, a)
}

// settleHand broadcasts the deck proof and stores the hand off the live path.
func (g *Gateway) settleHand(ctx context.Context, w *room.Worker, state holdem.State) {
	players, spectators := g.members(state.TableID)
	for _, c := range append(players, spectators...) {
		c.emit(codec.EventProof, state.Proof)
	}

	hl, err := w.HandLog(ctx)
	if err != nil {
		g.logger.Warn("hand log unavailable", zap.String("hand_id", state.HandID), zap.Error(err))
		return
	}
	record := ledger.HandRecord{
		HandID:   state.HandID,
		TableID:  state.TableID,
		Start:    hl.Start,
		Actions:  hl.Actions,
		Final:    state,
		Proof:    state.Proof,
		PlayedAt: time.Now().UTC(),
	}
	save := func() {
		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := g.ledger.SaveHand(pctx, record); err != nil {
			g.logger.Warn("save hand failed", zap.String("hand_id", record.HandID), zap.Error(err))
		}
	}
	if !g.goTracked(save) {
		save()
	}
	g.events.Emit(ctx, "hand_settled", HandSettled{
		TableID: state.TableID,
		HandID:  state.HandID,
		Tick:    state.Tick,
		Winners: winners(state),
		Proof:   state.Proof,
	})
}

// HandSettled is the analytics payload emitted once per settled hand.
type HandSettled struct {
	TableID string           `json:"tableId"`
	HandID  string           `json:"handId"`
	Tick    uint64           `json:"tick"`
	Winners map[string]int64 `json:"winners"`
	Proof   *holdem.Proof    `json:"proof,omitempty"`
}

func winners(state holdem.State) map[string]int64 {
	out := make(map[string]int64)
	for _, p := range state.Players {
		if p.Won > 0 {
			out[p.ID] = p.Won
		}
	}
	return out
}

// handleControl acknowledges seat-level requests with the same dedup rule
// as actions.
func (g *Gateway) handleControl(ctx context.Context, c *Connection, event string, req codec.ControlRequest) {
	key := event + ":" + req.ActionID
	ackEvent := codec.AckEvent(event)
	if _, ok := c.seen.Get(key); ok {
		c.emit(ackEvent, codec.Ack{ActionID: req.ActionID, Duplicate: true})
		return
	}
	if err := g.allow(ctx, c); err != nil {
		c.sendError(err, req.ActionID)
		return
	}
	c.seen.Add(key, ActionOutcome{ActionID: req.ActionID, TableID: c.TableID()})
	c.emit(ackEvent, codec.Ack{ActionID: req.ActionID})
	if event == codec.EventJoin {
		g.sendCurrentState(c)
	}
}

// sendCurrentState pushes the table state to a single connection.
func (g *Gateway) sendCurrentState(c *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	state, err := g.rooms.Get(c.TableID()).State(ctx)
	if err != nil {
		c.sendError(classify(err), "")
		return
	}
	v := g.view(c.TableID())
	v.mu.Lock()
	v.tick = max(v.tick, state.Tick)
	tick := v.tick
	v.mu.Unlock()
	if c.Identity.Spectator {
		c.emit(codec.EventState, codec.StatePayload{TableID: c.TableID(), Tick: tick, State: sanitize(state, "")})
		return
	}
	c.emitTracked(codec.EventState, codec.StatePayload{TableID: c.TableID(), Tick: tick, State: sanitize(state, c.PlayerID())})
}

// handleReplay answers a client resync with the state rebuilt from the hand log.
func (g *Gateway) handleReplay(ctx context.Context, c *Connection) {
	state, err := g.rooms.Get(c.TableID()).Replay(ctx)
	if err != nil {
		c.sendError(classify(err), "")
		return
	}
	c.emitTracked(codec.EventState, codec.StatePayload{TableID: c.TableID(), Tick: g.Tick(c.TableID()), State: sanitize(state, c.PlayerID())})
}

func (g *Gateway) handleResume(ctx context.Context, c *Connection, from uint64) {
	cps, err := g.rooms.Get(c.TableID()).Resume(ctx, from)
	if err != nil {
		c.sendError(classify(err), "")
		return
	}
	payload := codec.ResumePayload{TableID: c.TableID(), States: make([]codec.ResumeStateItem, 0, len(cps))}
	for _, cp := range cps {
		payload.States = append(payload.States, codec.ResumeStateItem{Seq: cp.Seq, State: sanitize(cp.State, c.PlayerID())})
	}
	c.emit(codec.EventResumed, payload)
}
