package holdem

import (
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/paulhankin/poker"
)

// settle pays the pot to the best remaining hand and discloses the deck.
// A hand that settles before the river goes to the last player standing.
func (g *Game) settle(s *State) {
	winners := bestHands(s)
	if len(winners) > 0 {
		share := s.Pot / int64(len(winners))
		rem := s.Pot % int64(len(winners))
		for n, i := range winners {
			won := share
			if int64(n) < rem {
				won++
			}
			s.Players[i].Stack += won
			s.Players[i].Won = won
		}
	}
	for i := range s.Players {
		s.Players[i].Bet = 0
		if s.Players[i].Stack > 0 {
			s.Players[i].AllIn = false
		}
	}
	s.Pot = 0
	s.SidePots = nil
	s.CurrentBet = 0
	s.ActingPlayerID = ""
	s.Phase = PhaseSettle
	s.Street = StreetShowdown

	var nonce string
	if raw, err := hex.DecodeString(s.Seed); err == nil && len(raw) == 32 {
		nonce = hex.EncodeToString(handNonce([32]byte(raw)))
	}
	s.Proof = &Proof{
		HandID:     s.HandID,
		Seed:       s.Seed,
		Nonce:      nonce,
		Commitment: s.Commitment,
		Deck:       slices.Clone(s.Deck),
	}
}

func bestHands(s *State) []int {
	live := contenders(s)
	if len(live) <= 1 || len(s.CommunityCards) != 5 {
		return live
	}
	var best []int
	var bestScore int16
	for _, i := range live {
		score, err := handScore(s.Players[i].HoleCards, s.CommunityCards)
		if err != nil {
			continue
		}
		switch {
		case best == nil || score > bestScore:
			best = []int{i}
			bestScore = score
		case score == bestScore:
			best = append(best, i)
		}
	}
	if best == nil {
		return live
	}
	return best
}

// handScore ranks the best five of seven cards; higher is better.
func handScore(hole, board []Card) (int16, error) {
	if len(hole) != 2 || len(board) != 5 {
		return 0, fmt.Errorf("need 7 cards, got %d", len(hole)+len(board))
	}
	var seven [7]poker.Card
	for i, c := range append(slices.Clone(hole), board...) {
		pc, err := toPokerCard(c)
		if err != nil {
			return 0, err
		}
		seven[i] = pc
	}
	return poker.Eval7(&seven), nil
}

var pokerSuits = map[byte]poker.Suit{
	's': poker.Spade,
	'h': poker.Heart,
	'd': poker.Diamond,
	'c': poker.Club,
}

// toPokerCard maps "As" style cards onto the evaluator's ace-low rank numbering.
func toPokerCard(c Card) (poker.Card, error) {
	var none poker.Card
	if len(c) != 2 {
		return none, fmt.Errorf("bad card %q", c)
	}
	r := strings.IndexByte(ranks, c[0])
	suit, ok := pokerSuits[c[1]]
	if r < 0 || !ok {
		return none, fmt.Errorf("bad card %q", c)
	}
	rank := r + 2
	if c[0] == 'A' {
		rank = 1
	}
	return poker.MakeCard(suit, poker.Rank(rank))
}
