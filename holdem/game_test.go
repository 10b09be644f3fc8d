package holdem

import (
	"errors"
	"reflect"
	"testing"
)

func TestPostBlindsStartsPreflop(t *testing.T) {
	g := newTestGame(t)
	s := blindsPosted(t, g)

	if s.Pot != 3 {
		t.Fatalf("expected pot 3, got %d", s.Pot)
	}
	if s.Phase != PhaseBettingRound || s.Street != StreetPreflop {
		t.Fatalf("expected preflop betting, got %s/%s", s.Phase, s.Street)
	}
	if s.CurrentBet != 2 {
		t.Fatalf("expected current bet 2, got %d", s.CurrentBet)
	}
	if s.ActingPlayerID != "p1" {
		t.Fatalf("expected p1 to act, got %q", s.ActingPlayerID)
	}
	for _, p := range s.Players {
		if len(p.HoleCards) != 2 {
			t.Fatalf("player %s expected 2 hole cards, got %d", p.ID, len(p.HoleCards))
		}
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	g := newTestGame(t)
	s := blindsPosted(t, g)
	before := s.Clone()

	_ = mustApply(t, g, s, Action{ActionID: "a3", PlayerID: "p1", Type: ActionCall})
	if !reflect.DeepEqual(before, s) {
		t.Fatalf("input state mutated by Apply")
	}
}

func TestRejections(t *testing.T) {
	g := newTestGame(t)
	s := blindsPosted(t, g)

	cases := []struct {
		name   string
		action Action
		want   error
	}{
		{"out of turn", Action{PlayerID: "p2", Type: ActionCheck}, ErrOutOfTurn},
		{"unknown player", Action{PlayerID: "p9", Type: ActionFold}, ErrUnknownPlayer},
		{"check facing bet", Action{PlayerID: "p1", Type: ActionCheck}, ErrInvalidAmount},
		{"blind after start", Action{PlayerID: "p3", Type: ActionPostBlind, Amount: 1}, ErrWrongPhase},
		{"bet over stack", Action{PlayerID: "p1", Type: ActionBet, Amount: 1000}, ErrInvalidAmount},
	}
	for _, tc := range cases {
		tc.action.ActionID = "x"
		tc.action.Version = ActionVersion
		tc.action.TableID = s.TableID
		_, err := g.Apply(s, tc.action)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("%s: expected rejection, got %v", tc.name, err)
		}
	}
}

func TestDuplicateBlindRejected(t *testing.T) {
	g := newTestGame(t)
	s := g.NewState("t1")
	s = mustApply(t, g, s, Action{ActionID: "a1", PlayerID: "p1", Type: ActionPostBlind, Amount: 1})
	_, err := g.Apply(s, Action{ActionID: "a2", Version: ActionVersion, TableID: "t1", PlayerID: "p1", Type: ActionPostBlind, Amount: 1})
	if !errors.Is(err, ErrBlindPosted) {
		t.Fatalf("expected ErrBlindPosted, got %v", err)
	}
}

func TestStreetProgression(t *testing.T) {
	g := newTestGame(t)
	s := blindsPosted(t, g)
	s = mustApply(t, g, s, Action{ActionID: "a3", PlayerID: "p1", Type: ActionCall})
	s = mustApply(t, g, s, Action{ActionID: "a4", PlayerID: "p2", Type: ActionCheck})

	wantBoard := map[Street]int{StreetFlop: 3, StreetTurn: 4, StreetRiver: 5, StreetShowdown: 5}
	for i, st := range []Street{StreetFlop, StreetTurn, StreetRiver, StreetShowdown} {
		s = mustApply(t, g, s, Action{ActionID: "n" + string(rune('0'+i)), Type: ActionNext})
		if s.Street != st {
			t.Fatalf("expected street %s, got %s", st, s.Street)
		}
		if len(s.CommunityCards) != wantBoard[st] {
			t.Fatalf("street %s expected %d board cards, got %d", st, wantBoard[st], len(s.CommunityCards))
		}
		if s.CurrentBet != 0 {
			t.Fatalf("expected bets reset on %s", st)
		}
	}
	if s.Phase != PhaseShowdown {
		t.Fatalf("expected showdown phase, got %s", s.Phase)
	}

	s = mustApply(t, g, s, Action{ActionID: "settle", Type: ActionNext})
	if !s.Settled() || s.Proof == nil {
		t.Fatalf("expected settled hand with proof")
	}
	var total int64
	for _, p := range s.Players {
		total += p.Stack
	}
	if total != 200 {
		t.Fatalf("chips not conserved: %d", total)
	}

	s = mustApply(t, g, s, Action{ActionID: "newhand", Type: ActionNext})
	if s.Phase != PhaseWaitBlinds || s.HandNumber != 2 || s.Proof != nil {
		t.Fatalf("expected hand 2 waiting for blinds, got %s hand %d", s.Phase, s.HandNumber)
	}
}

func TestFoldSettlesAndDisclosesDeck(t *testing.T) {
	g := newTestGame(t)
	s := blindsPosted(t, g)
	commitment := s.Commitment

	s = mustApply(t, g, s, Action{ActionID: "a3", PlayerID: "p1", Type: ActionFold})
	if !s.Settled() {
		t.Fatalf("expected settle after fold, got %s", s.Phase)
	}
	p2 := s.Players[s.PlayerIndex("p2")]
	if p2.Stack != 101 || p2.Won != 3 {
		t.Fatalf("expected p2 stack 101 won 3, got %d/%d", p2.Stack, p2.Won)
	}
	if s.Proof.Commitment != commitment {
		t.Fatalf("proof commitment differs from hand-start commitment")
	}
	if !VerifyProof(*s.Proof) {
		t.Fatalf("proof does not verify")
	}
	tampered := *s.Proof
	tampered.Deck = append([]Card{tampered.Deck[1], tampered.Deck[0]}, tampered.Deck[2:]...)
	if VerifyProof(tampered) {
		t.Fatalf("tampered proof verified")
	}
}

func TestDeterministicAcrossEngines(t *testing.T) {
	a := blindsPosted(t, newTestGame(t))
	b := blindsPosted(t, newTestGame(t))
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same inputs produced different states")
	}
}

func TestPublicStripsPrivateFields(t *testing.T) {
	g := newTestGame(t)
	s := blindsPosted(t, g)
	pub := g.Public(s)
	if pub.Deck != nil {
		t.Fatalf("deck leaked in public state")
	}
	for _, p := range pub.Players {
		if p.HoleCards != nil {
			t.Fatalf("hole cards of %s leaked", p.ID)
		}
	}
	if len(s.Players[0].HoleCards) != 2 {
		t.Fatalf("Public mutated the source state")
	}
}
