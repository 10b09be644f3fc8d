package holdem

import (
	"slices"
	"testing"
)

func showdownState(board []Card, holes ...[]Card) State {
	s := State{TableID: "t1", CommunityCards: board}
	for i, h := range holes {
		s.Players = append(s.Players, Player{ID: "p" + string(rune('1'+i)), HoleCards: h})
	}
	return s
}

func TestBestHandsRanksMadeHands(t *testing.T) {
	dry := []Card{"2c", "7d", "9h", "Js", "4c"}
	cases := []struct {
		name  string
		board []Card
		holes [][]Card
		want  []int
	}{
		{"pair beats ace high", dry, [][]Card{{"As", "Kd"}, {"3h", "3d"}}, []int{1}},
		{"flush beats straight", []Card{"2s", "7s", "9s", "Jd", "4c"}, [][]Card{{"8s", "Ts"}, {"8d", "Td"}}, []int{0}},
		{"two pair beats pair", dry, [][]Card{{"Ah", "Ad"}, {"7s", "9c"}}, []int{1}},
		{"board plays split", dry, [][]Card{{"3s", "5d"}, {"3h", "5c"}}, []int{0, 1}},
		{"kicker decides", dry, [][]Card{{"Jh", "Kd"}, {"Jd", "Qc"}}, []int{0}},
	}
	for _, tc := range cases {
		s := showdownState(tc.board, tc.holes...)
		got := bestHands(&s)
		if !slices.Equal(got, tc.want) {
			t.Fatalf("%s: expected winners %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestBestHandsIgnoresFolded(t *testing.T) {
	s := showdownState([]Card{"2c", "7d", "9h", "Js", "4c"}, []Card{"As", "Ad"}, []Card{"3h", "5d"})
	s.Players[0].Folded = true
	got := bestHands(&s)
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected folded player excluded, got %v", got)
	}
}

func TestToPokerCardRejectsGarbage(t *testing.T) {
	for _, c := range []Card{"", "A", "1s", "Ax", "Asd"} {
		if _, err := toPokerCard(c); err == nil {
			t.Fatalf("expected %q rejected", c)
		}
	}
	if _, err := toPokerCard("Td"); err != nil {
		t.Fatalf("Td err: %v", err)
	}
}
