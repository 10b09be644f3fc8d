package holdem

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Game is the reference Engine. It keeps no per-table state; everything it
// needs lives in State.
type Game struct {
	cfg    Config
	secret []byte
}

var _ Engine = (*Game)(nil)

func NewGame(cfg Config) (*Game, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	secret := []byte(cfg.DeckSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("deck secret: %w", err)
		}
	}
	return &Game{cfg: cfg, secret: secret}, nil
}

func (g *Game) Config() Config { return g.cfg }

// NewState returns an empty table waiting for blinds of hand 1.
func (g *Game) NewState(tableID string) State {
	s := State{
		TableID:        tableID,
		Players:        []Player{},
		CommunityCards: []Card{},
	}
	g.openHand(&s, 1)
	return s
}

func (g *Game) openHand(s *State, handNumber int) {
	// secret length is bounded by validate, so derivation cannot fail.
	seed, _ := handSeed(g.secret, s.TableID, handNumber)
	s.HandNumber = handNumber
	s.HandID = fmt.Sprintf("%s-%d", s.TableID, handNumber)
	s.Phase = PhaseWaitBlinds
	s.Street = StreetPreflop
	s.Pot = 0
	s.SidePots = nil
	s.CurrentBet = 0
	s.ActingPlayerID = ""
	s.CommunityCards = []Card{}
	s.Deck = shuffle(seed)
	s.DeckIndex = 0
	s.Seed = hex.EncodeToString(seed[:])
	s.Commitment = commitment(seed, handNonce(seed), s.Deck)
	s.Proof = nil
	for i := range s.Players {
		p := &s.Players[i]
		p.Bet = 0
		p.Won = 0
		p.Folded = false
		p.AllIn = false
		p.Blinded = false
		p.HoleCards = nil
	}
}

// Public strips every private field: the deck and all hole cards.
func (g *Game) Public(s State) State {
	out := s.Clone()
	out.Deck = nil
	out.Seed = ""
	for i := range out.Players {
		out.Players[i].HoleCards = nil
	}
	return out
}

func (g *Game) Apply(state State, a Action) (State, error) {
	if err := a.Validate(); err != nil {
		return state, err
	}
	if a.TableID != state.TableID {
		return state, fmt.Errorf("%w: table mismatch", ErrRejected)
	}
	s := state.Clone()
	var err error
	switch a.Type {
	case ActionPostBlind:
		err = g.postBlind(&s, a)
	case ActionNext:
		err = g.next(&s)
	default:
		err = g.bettingAction(&s, a)
	}
	if err != nil {
		return state, err
	}
	return s, nil
}

func (g *Game) postBlind(s *State, a Action) error {
	if s.Phase != PhaseWaitBlinds {
		return ErrWrongPhase
	}
	idx := s.PlayerIndex(a.PlayerID)
	if idx < 0 {
		if len(s.Players) >= g.cfg.MaxPlayers {
			return ErrTableFull
		}
		s.Players = append(s.Players, Player{ID: a.PlayerID, Stack: g.cfg.StartingStack})
		idx = len(s.Players) - 1
	}
	p := &s.Players[idx]
	if p.Blinded {
		return ErrBlindPosted
	}
	if p.Stack <= 0 {
		return ErrInvalidAmount
	}
	commit(s, p, a.Amount)
	p.Blinded = true
	if p.Bet > s.CurrentBet {
		s.CurrentBet = p.Bet
	}
	blinded := 0
	for _, q := range s.Players {
		if q.Blinded {
			blinded++
		}
	}
	if blinded >= g.cfg.MinPlayers {
		g.startBetting(s)
	}
	return nil
}

// startBetting deals hole cards to blinded players and sits out the rest.
func (g *Game) startBetting(s *State) {
	s.Phase = PhaseBettingRound
	s.Street = StreetPreflop
	last := -1
	for i := range s.Players {
		p := &s.Players[i]
		if !p.Blinded {
			p.Folded = true
			continue
		}
		p.HoleCards = []Card{s.Deck[s.DeckIndex], s.Deck[s.DeckIndex+1]}
		s.DeckIndex += 2
		last = i
	}
	s.ActingPlayerID = nextActive(s, last)
}

func (g *Game) bettingAction(s *State, a Action) error {
	if s.Phase == PhaseSettle {
		return ErrHandEnded
	}
	if s.Phase != PhaseBettingRound {
		return ErrWrongPhase
	}
	idx := s.PlayerIndex(a.PlayerID)
	if idx < 0 {
		return ErrUnknownPlayer
	}
	if s.ActingPlayerID != a.PlayerID {
		return ErrOutOfTurn
	}
	p := &s.Players[idx]
	toCall := s.CurrentBet - p.Bet
	switch a.Type {
	case ActionCheck:
		if toCall > 0 {
			return fmt.Errorf("%w: cannot check facing %d", ErrInvalidAmount, toCall)
		}
	case ActionCall:
		if a.Amount > 0 && a.Amount != toCall {
			return fmt.Errorf("%w: call is %d", ErrInvalidAmount, toCall)
		}
		commit(s, p, toCall)
	case ActionBet, ActionRaise:
		if a.Amount > p.Stack {
			return fmt.Errorf("%w: stack is %d", ErrInvalidAmount, p.Stack)
		}
		if p.Bet+a.Amount <= s.CurrentBet && a.Amount < p.Stack {
			return fmt.Errorf("%w: bet must raise", ErrInvalidAmount)
		}
		commit(s, p, a.Amount)
		if p.Bet > s.CurrentBet {
			s.CurrentBet = p.Bet
		}
	case ActionFold:
		p.Folded = true
		if len(contenders(s)) == 1 {
			g.settle(s)
			return nil
		}
	}
	s.ActingPlayerID = nextActive(s, idx)
	return nil
}

// commit moves up to amount from the player's stack into the pot.
func commit(s *State, p *Player, amount int64) {
	if amount > p.Stack {
		amount = p.Stack
	}
	p.Stack -= amount
	p.Bet += amount
	s.Pot += amount
	if p.Stack == 0 && !p.AllIn {
		p.AllIn = true
		s.SidePots = append(s.SidePots, p.Bet)
	}
}

func (g *Game) next(s *State) error {
	switch s.Phase {
	case PhaseWaitBlinds:
		return ErrNotEnoughPlayers
	case PhaseSettle:
		g.openHand(s, s.HandNumber+1)
		return nil
	case PhaseShowdown:
		g.settle(s)
		return nil
	}
	for i := range s.Players {
		s.Players[i].Bet = 0
	}
	s.CurrentBet = 0
	pos := 0
	for i, st := range streetOrder {
		if st == s.Street {
			pos = i
		}
	}
	s.Street = streetOrder[min(pos+1, len(streetOrder)-1)]
	for range communityDeal[s.Street] {
		s.CommunityCards = append(s.CommunityCards, s.Deck[s.DeckIndex])
		s.DeckIndex++
	}
	if s.Street == StreetShowdown {
		s.Phase = PhaseShowdown
		s.ActingPlayerID = ""
		return nil
	}
	s.ActingPlayerID = nextActive(s, -1)
	return nil
}

// nextActive returns the first player after seat from who can still act.
func nextActive(s *State, from int) string {
	n := len(s.Players)
	for step := 1; step <= n; step++ {
		p := s.Players[((from+step)%n+n)%n]
		if !p.Folded && !p.AllIn {
			return p.ID
		}
	}
	return ""
}

func contenders(s *State) []int {
	var out []int
	for i, p := range s.Players {
		if !p.Folded {
			out = append(out, i)
		}
	}
	return out
}
