package holdem

import "testing"

func newTestGame(t *testing.T) *Game {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DeckSecret = "holdem-test-deck-secret"
	g, err := NewGame(cfg)
	if err != nil {
		t.Fatalf("NewGame err: %v", err)
	}
	return g
}

func mustApply(t *testing.T, g *Game, s State, a Action) State {
	t.Helper()
	if a.Version == "" {
		a.Version = ActionVersion
	}
	if a.TableID == "" {
		a.TableID = s.TableID
	}
	out, err := g.Apply(s, a)
	if err != nil {
		t.Fatalf("Apply %s(%s) err: %v", a.Type, a.ActionID, err)
	}
	return out
}

// blindsPosted returns a heads-up table in preflop betting.
func blindsPosted(t *testing.T, g *Game) State {
	t.Helper()
	s := g.NewState("t1")
	s = mustApply(t, g, s, Action{ActionID: "a1", PlayerID: "p1", Type: ActionPostBlind, Amount: 1})
	s = mustApply(t, g, s, Action{ActionID: "a2", PlayerID: "p2", Type: ActionPostBlind, Amount: 2})
	return s
}
