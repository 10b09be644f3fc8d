package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Nera26/pokerhub-sub001/apps/server/internal/coord"
	"github.com/Nera26/pokerhub-sub001/holdem"
)

type panicEngine struct {
	holdem.Engine
	trigger string
}

func (p panicEngine) Apply(s holdem.State, a holdem.Action) (holdem.State, error) {
	if a.ActionID == p.trigger {
		panic("engine exploded")
	}
	return p.Engine.Apply(s, a)
}

func newTestManager(t *testing.T, store coord.Store, followers bool, engine holdem.Engine) *Manager {
	t.Helper()
	if engine == nil {
		g, err := holdem.NewGame(holdem.DefaultConfig())
		if err != nil {
			t.Fatalf("NewGame err: %v", err)
		}
		engine = g
	}
	m, err := NewManager(Options{
		Engine:          engine,
		Store:           store,
		Followers:       followers,
		RecoveryTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewManager err: %v", err)
	}
	t.Cleanup(m.CloseAll)
	return m
}

func act(id, player string, typ holdem.ActionType, amount int64) holdem.Action {
	return holdem.Action{ActionID: id, Version: holdem.ActionVersion, TableID: "t1", PlayerID: player, Type: typ, Amount: amount}
}

func mustApply(t *testing.T, w *Worker, a holdem.Action) holdem.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s, err := w.Apply(ctx, a)
	if err != nil {
		t.Fatalf("Apply %s err: %v", a.ActionID, err)
	}
	return s
}

func postBlinds(t *testing.T, w *Worker) holdem.State {
	t.Helper()
	mustApply(t, w, act("a1", "p1", holdem.ActionPostBlind, 1))
	return mustApply(t, w, act("a2", "p2", holdem.ActionPostBlind, 2))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManagerGetReturnsSameInstance(t *testing.T) {
	m := newTestManager(t, coord.NewMemory(), false, nil)
	if m.Get("t1") != m.Get("t1") {
		t.Fatalf("expected identical worker for same table")
	}
	if m.Get("t1") == m.Get("t2") {
		t.Fatalf("expected distinct workers for distinct tables")
	}
}

func TestManagerCloseForgetsWorker(t *testing.T) {
	m := newTestManager(t, coord.NewMemory(), false, nil)
	w := m.Get("t1")
	m.Close("t1")
	if _, err := w.State(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from closed worker, got %v", err)
	}
	if m.Get("t1") == w {
		t.Fatalf("expected a fresh worker after Close")
	}
}

func TestApplyAdvancesTickByOne(t *testing.T) {
	m := newTestManager(t, coord.NewMemory(), false, nil)
	w := m.Get("t1")

	s1 := mustApply(t, w, act("a1", "p1", holdem.ActionPostBlind, 1))
	s2 := mustApply(t, w, act("a2", "p2", holdem.ActionPostBlind, 2))
	if s1.Tick != 1 || s2.Tick != 2 {
		t.Fatalf("expected ticks 1,2 got %d,%d", s1.Tick, s2.Tick)
	}
	if s2.Pot != 3 {
		t.Fatalf("expected pot 3, got %d", s2.Pot)
	}
}

func TestApplyDuplicateActionID(t *testing.T) {
	m := newTestManager(t, coord.NewMemory(), false, nil)
	w := m.Get("t1")
	postBlinds(t, w)

	s, err := w.Apply(context.Background(), act("a2", "p2", holdem.ActionPostBlind, 2))
	if !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied, got %v", err)
	}
	if s.Tick != 2 || s.Pot != 3 {
		t.Fatalf("duplicate changed state: tick %d pot %d", s.Tick, s.Pot)
	}
}

func TestRejectionLeavesStateUnchanged(t *testing.T) {
	m := newTestManager(t, coord.NewMemory(), false, nil)
	w := m.Get("t1")
	postBlinds(t, w)

	_, err := w.Apply(context.Background(), act("bad", "p2", holdem.ActionCheck, 0))
	if !errors.Is(err, holdem.ErrRejected) {
		t.Fatalf("expected engine rejection, got %v", err)
	}
	s, err := w.State(context.Background())
	if err != nil {
		t.Fatalf("State err: %v", err)
	}
	if s.Tick != 2 {
		t.Fatalf("expected tick 2 after rejection, got %d", s.Tick)
	}
	// A rejected id is not consumed.
	if _, err := w.Apply(context.Background(), act("bad", "p1", holdem.ActionCall, 0)); err != nil {
		t.Fatalf("corrected resend err: %v", err)
	}
}

func TestFailoverPromotesFollower(t *testing.T) {
	m := newTestManager(t, coord.NewMemory(), true, nil)
	w := m.Get("t1")
	s := postBlinds(t, w)
	if s.Street != holdem.StreetPreflop {
		t.Fatalf("expected preflop, got %s", s.Street)
	}
	waitFor(t, "follower to catch up", func() bool { return w.Stats().FollowerLastConfirmed == 2 })
	before := w.Stats().PrimaryID

	w.Kill()
	s = mustApply(t, w, act("n1", "", holdem.ActionNext, 0))
	if s.Street != holdem.StreetFlop {
		t.Fatalf("expected flop after failover, got %s", s.Street)
	}
	if s.Tick != 3 {
		t.Fatalf("expected tick 3, got %d", s.Tick)
	}
	st := w.Stats()
	if st.PrimaryID == before || st.Promotions != 1 {
		t.Fatalf("expected a promotion, got %+v", st)
	}

	waitFor(t, "replacement follower", func() bool { return w.Stats().HasFollower })
	mustApply(t, w, act("n2", "", holdem.ActionNext, 0))
	waitFor(t, "replacement follower to catch up", func() bool { return w.Stats().FollowerLastConfirmed == 4 })
}

func TestAppliedSetSurvivesFailover(t *testing.T) {
	m := newTestManager(t, coord.NewMemory(), true, nil)
	w := m.Get("t1")
	postBlinds(t, w)
	waitFor(t, "follower to catch up", func() bool { return w.Stats().FollowerLastConfirmed == 2 })

	w.Kill()
	_, err := w.Apply(context.Background(), act("a2", "p2", holdem.ActionPostBlind, 2))
	if !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied after failover, got %v", err)
	}
}

func TestPromotionCatchesUpFromLog(t *testing.T) {
	m := newTestManager(t, coord.NewMemory(), false, nil)
	postBlinds(t, m.Get("t1"))

	fresh := m.opts.Engine.NewState("t1")
	c := newContext(99, "t1", RoleFollower, seed{state: fresh, handStart: fresh}, m.opts, nil)
	if err := c.becomePrimary(2); err != nil {
		t.Fatalf("becomePrimary err: %v", err)
	}
	if c.Role() != RolePrimary {
		t.Fatalf("expected primary role, got %s", c.Role())
	}
	if c.lastConfirmed.Load() != 2 || c.state.Pot != 3 {
		t.Fatalf("expected caught up to 2 with pot 3, got %d pot %d", c.lastConfirmed.Load(), c.state.Pot)
	}
	if _, ok := c.applied["a1"]; !ok {
		t.Fatalf("expected replicated action ids in applied set")
	}
}

func TestCatchUpMissingEntryDiverges(t *testing.T) {
	m := newTestManager(t, coord.NewMemory(), false, nil)
	postBlinds(t, m.Get("t1"))

	fresh := m.opts.Engine.NewState("t1")
	c := newContext(99, "t1", RoleFollower, seed{state: fresh, handStart: fresh}, m.opts, nil)
	if err := c.catchUp(5); !errors.Is(err, errDiverged) {
		t.Fatalf("expected divergence on missing log entry, got %v", err)
	}
}

func TestRespawnWithoutFollower(t *testing.T) {
	m := newTestManager(t, coord.NewMemory(), false, nil)
	w := m.Get("t1")
	postBlinds(t, w)

	w.Kill()
	s := mustApply(t, w, act("n1", "", holdem.ActionNext, 0))
	if s.Street != holdem.StreetFlop || s.Tick != 3 {
		t.Fatalf("expected flop at tick 3, got %s at %d", s.Street, s.Tick)
	}
	if _, err := w.Apply(context.Background(), act("a1", "p1", holdem.ActionPostBlind, 1)); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected applied set to survive respawn, got %v", err)
	}
}

func TestEnginePanicFailsInFlightCall(t *testing.T) {
	g, err := holdem.NewGame(holdem.DefaultConfig())
	if err != nil {
		t.Fatalf("NewGame err: %v", err)
	}
	m := newTestManager(t, coord.NewMemory(), true, panicEngine{Engine: g, trigger: "boom"})
	w := m.Get("t1")
	postBlinds(t, w)

	_, err = w.Apply(context.Background(), act("boom", "p1", holdem.ActionCall, 0))
	if !errors.Is(err, ErrWorkerFailed) {
		t.Fatalf("expected ErrWorkerFailed, got %v", err)
	}
	s := mustApply(t, w, act("a3", "p1", holdem.ActionCall, 0))
	if s.Tick != 3 {
		t.Fatalf("expected tick 3 after recovery, got %d", s.Tick)
	}
}

func TestFollowerNeverAheadOfPrimary(t *testing.T) {
	m := newTestManager(t, coord.NewMemory(), true, nil)
	w := m.Get("t1")

	stop := make(chan struct{})
	violations := make(chan Stats, 1)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			st := w.Stats()
			if st.HasFollower && st.FollowerLastConfirmed > st.PrimaryLastConfirmed {
				select {
				case violations <- st:
				default:
				}
			}
		}
	}()

	postBlinds(t, w)
	mustApply(t, w, act("a3", "p1", holdem.ActionCall, 0))
	mustApply(t, w, act("a4", "p2", holdem.ActionCheck, 0))
	mustApply(t, w, act("a5", "", holdem.ActionNext, 0))
	close(stop)

	select {
	case st := <-violations:
		t.Fatalf("follower ahead of primary: %+v", st)
	default:
	}
}

func TestRestartRecoversFromLog(t *testing.T) {
	store := coord.NewMemory()
	first := newTestManager(t, store, false, nil)
	postBlinds(t, first.Get("t1"))
	first.CloseAll()

	second := newTestManager(t, store, false, nil)
	s, err := second.Get("t1").State(context.Background())
	if err != nil {
		t.Fatalf("State err: %v", err)
	}
	if s.Tick != 2 || s.Pot != 3 {
		t.Fatalf("expected recovered tick 2 pot 3, got tick %d pot %d", s.Tick, s.Pot)
	}
	if _, err := second.Get("t1").Apply(context.Background(), act("a1", "p1", holdem.ActionPostBlind, 1)); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected recovered applied set, got %v", err)
	}
}

func TestReplayMatchesLiveState(t *testing.T) {
	m := newTestManager(t, coord.NewMemory(), false, nil)
	w := m.Get("t1")
	postBlinds(t, w)
	live := mustApply(t, w, act("a3", "p1", holdem.ActionCall, 0))

	replayed, err := w.Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay err: %v", err)
	}
	if replayed.Tick != live.Tick || replayed.Pot != live.Pot || replayed.ActingPlayerID != live.ActingPlayerID {
		t.Fatalf("replay mismatch: live %+v replayed %+v", live, replayed)
	}

	cps, err := w.Resume(context.Background(), 2)
	if err != nil {
		t.Fatalf("Resume err: %v", err)
	}
	if len(cps) != 2 || cps[0].Seq != 2 || cps[1].Seq != 3 {
		t.Fatalf("unexpected checkpoints %+v", cps)
	}
}

func TestPublicStateHidesPrivateFields(t *testing.T) {
	m := newTestManager(t, coord.NewMemory(), false, nil)
	w := m.Get("t1")
	postBlinds(t, w)

	s, err := w.PublicState(context.Background())
	if err != nil {
		t.Fatalf("PublicState err: %v", err)
	}
	if s.Deck != nil {
		t.Fatalf("deck exposed")
	}
	for _, p := range s.Players {
		if p.HoleCards != nil {
			t.Fatalf("hole cards of %s exposed", p.ID)
		}
	}
}
