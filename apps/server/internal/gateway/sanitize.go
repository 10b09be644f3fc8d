package gateway

import "github.com/Nera26/pokerhub-sub001/holdem"

// sanitize returns the view of s for viewerID: the viewer keeps their own
// hole cards, every other player's are removed, and the deck and its seed
// never leave the server. An empty viewerID yields the spectator view.
func sanitize(s holdem.State, viewerID string) holdem.State {
	out := s.Clone()
	out.Deck = nil
	out.DeckIndex = 0
	out.Seed = ""
	for i := range out.Players {
		if viewerID == "" || out.Players[i].ID != viewerID {
			out.Players[i].HoleCards = nil
		}
	}
	return out
}
