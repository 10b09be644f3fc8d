package holdem

// ActionVersion is the only accepted action schema version.
const ActionVersion = "1"

// ActionType is the wire name of a player or dealer action.
type ActionType string

const (
	ActionPostBlind ActionType = "postBlind"
	ActionBet       ActionType = "bet"
	ActionRaise     ActionType = "raise"
	ActionCall      ActionType = "call"
	ActionCheck     ActionType = "check"
	ActionFold      ActionType = "fold"
	ActionNext      ActionType = "next"
)

var ActionTypeDictionary = map[ActionType]string{
	ActionPostBlind: "POST_BLIND",
	ActionBet:       "BET",
	ActionRaise:     "RAISE",
	ActionCall:      "CALL",
	ActionCheck:     "CHECK",
	ActionFold:      "FOLD",
	ActionNext:      "NEXT",
}

// Phase of the hand lifecycle.
type Phase string

const (
	PhaseWaitBlinds   Phase = "WAIT_BLINDS"
	PhaseBettingRound Phase = "BETTING_ROUND"
	PhaseShowdown     Phase = "SHOWDOWN"
	PhaseSettle       Phase = "SETTLE"
)

// Street is the betting round within a hand.
type Street string

const (
	StreetPreflop  Street = "preflop"
	StreetFlop     Street = "flop"
	StreetTurn     Street = "turn"
	StreetRiver    Street = "river"
	StreetShowdown Street = "showdown"
)

var streetOrder = []Street{StreetPreflop, StreetFlop, StreetTurn, StreetRiver, StreetShowdown}

// communityDeal is how many board cards are dealt when entering a street.
var communityDeal = map[Street]int{
	StreetFlop:  3,
	StreetTurn:  1,
	StreetRiver: 1,
}

// Action is a single client intent. ActionID is the idempotency key and is
// unique per table for the table lifetime.
type Action struct {
	ActionID string     `json:"actionId"`
	Version  string     `json:"version"`
	TableID  string     `json:"tableId"`
	PlayerID string     `json:"playerId,omitempty"`
	Type     ActionType `json:"type"`
	Amount   int64      `json:"amount,omitempty"`
}

// Card is a two character card code, rank then suit ("As", "Td").
type Card string

type Player struct {
	ID        string `json:"id"`
	Stack     int64  `json:"stack"`
	Bet       int64  `json:"bet"`
	Folded    bool   `json:"folded"`
	AllIn     bool   `json:"allIn"`
	Blinded   bool   `json:"blinded,omitempty"`
	Won       int64  `json:"won,omitempty"`
	HoleCards []Card `json:"holeCards,omitempty"`
}

// Proof discloses the deck seed once a hand settles so clients can check
// the commitment published at hand start.
type Proof struct {
	HandID     string `json:"handId"`
	Seed       string `json:"seed"`
	Nonce      string `json:"nonce"`
	Commitment string `json:"commitment"`
	Deck       []Card `json:"deck"`
}

// State is the authoritative room state. Values are treated as immutable:
// transitions return a new State built from Clone.
type State struct {
	TableID        string   `json:"tableId"`
	Tick           uint64   `json:"tick"`
	HandID         string   `json:"handId"`
	HandNumber     int      `json:"handNumber"`
	Phase          Phase    `json:"phase"`
	Street         Street   `json:"street"`
	Pot            int64    `json:"pot"`
	SidePots       []int64  `json:"sidePots,omitempty"`
	CurrentBet     int64    `json:"currentBet"`
	ActingPlayerID string   `json:"actingPlayerId,omitempty"`
	Players        []Player `json:"players"`
	CommunityCards []Card   `json:"communityCards"`
	Deck           []Card   `json:"deck,omitempty"`
	DeckIndex      int      `json:"deckIndex,omitempty"`
	Seed           string   `json:"seed,omitempty"`
	Commitment     string   `json:"commitment,omitempty"`
	Proof          *Proof   `json:"proof,omitempty"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.SidePots = append([]int64(nil), s.SidePots...)
	out.CommunityCards = append([]Card{}, s.CommunityCards...)
	out.Deck = append([]Card(nil), s.Deck...)
	out.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		p.HoleCards = append([]Card(nil), p.HoleCards...)
		out.Players[i] = p
	}
	if s.Proof != nil {
		p := *s.Proof
		p.Deck = append([]Card(nil), s.Proof.Deck...)
		out.Proof = &p
	}
	return out
}

// PlayerIndex returns the index of the player with id, or -1.
func (s State) PlayerIndex(id string) int {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return i
		}
	}
	return -1
}

// Settled reports whether the hand has been paid out.
func (s State) Settled() bool { return s.Phase == PhaseSettle }

// Engine is the rules engine contract consumed by room workers. Apply must be
// deterministic in (state, action); an error means the action was rejected
// and the state is unchanged.
type Engine interface {
	NewState(tableID string) State
	Apply(state State, action Action) (State, error)
	Public(state State) State
}
