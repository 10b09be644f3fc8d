package holdem

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math/rand/v2"

	"golang.org/x/crypto/blake2b"
)

const (
	ranks = "23456789TJQKA"
	suits = "shdc"
)

func fullDeck() []Card {
	deck := make([]Card, 0, len(ranks)*len(suits))
	for _, s := range suits {
		for _, r := range ranks {
			deck = append(deck, Card(string(r)+string(s)))
		}
	}
	return deck
}

// handSeed derives the deck seed for one hand of one table.
func handSeed(secret []byte, tableID string, handNumber int) ([32]byte, error) {
	var seed [32]byte
	h, err := blake2b.New256(secret)
	if err != nil {
		return seed, err
	}
	h.Write([]byte(tableID))
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(handNumber))
	h.Write(n[:])
	copy(seed[:], h.Sum(nil))
	return seed, nil
}

func shuffle(seed [32]byte) []Card {
	deck := fullDeck()
	r := rand.New(rand.NewChaCha8(seed))
	r.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	return deck
}

func handNonce(seed [32]byte) []byte {
	sum := blake2b.Sum256(append(seed[:], []byte("nonce")...))
	return sum[:16]
}

func commitment(seed [32]byte, nonce []byte, deck []Card) string {
	var buf bytes.Buffer
	buf.Write(seed[:])
	buf.Write(nonce)
	for _, c := range deck {
		buf.WriteString(string(c))
	}
	sum := blake2b.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// VerifyProof recomputes the commitment from the disclosed seed and deck.
func VerifyProof(p Proof) bool {
	raw, err := hex.DecodeString(p.Seed)
	if err != nil || len(raw) != 32 {
		return false
	}
	nonce, err := hex.DecodeString(p.Nonce)
	if err != nil {
		return false
	}
	var seed [32]byte
	copy(seed[:], raw)
	expected := shuffle(seed)
	if len(expected) != len(p.Deck) {
		return false
	}
	for i := range expected {
		if expected[i] != p.Deck[i] {
			return false
		}
	}
	return commitment(seed, nonce, p.Deck) == p.Commitment
}
