// Package auth binds a connection to a player and table at upgrade time.
// Tokens are issued elsewhere; this package only verifies them.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingIdentity = errors.New("tableId and playerId are required")
	ErrMissingToken    = errors.New("token required")
	ErrInvalidToken    = errors.New("invalid token")
	ErrIdentityClaim   = errors.New("token does not match requested identity")
)

// Identity is fixed for the lifetime of a connection.
type Identity struct {
	TableID   string
	PlayerID  string
	Spectator bool
}

type Claims struct {
	TableID string `json:"tid,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks handshake credentials. A zero secret accepts the query
// identity as-is, which is only meant for local play.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(strings.TrimSpace(secret))}
}

func (v *Verifier) Enabled() bool { return v != nil && len(v.secret) > 0 }

// PlayerFromRequest reads tableId, playerId and token from the handshake.
func (v *Verifier) PlayerFromRequest(r *http.Request) (Identity, error) {
	q := r.URL.Query()
	id := Identity{
		TableID:  strings.TrimSpace(q.Get("tableId")),
		PlayerID: strings.TrimSpace(q.Get("playerId")),
	}
	if id.TableID == "" || id.PlayerID == "" {
		return Identity{}, ErrMissingIdentity
	}
	if !v.Enabled() {
		return id, nil
	}
	token := q.Get("token")
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	claims, err := v.parse(token)
	if err != nil {
		return Identity{}, err
	}
	if claims.Subject != id.PlayerID {
		return Identity{}, ErrIdentityClaim
	}
	if claims.TableID != "" && claims.TableID != id.TableID {
		return Identity{}, ErrIdentityClaim
	}
	return id, nil
}

// SpectatorFromRequest needs only a table.
func (v *Verifier) SpectatorFromRequest(r *http.Request) (Identity, error) {
	tableID := strings.TrimSpace(r.URL.Query().Get("tableId"))
	if tableID == "" {
		return Identity{}, fmt.Errorf("tableId is required")
	}
	return Identity{TableID: tableID, Spectator: true}, nil
}

func (v *Verifier) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Issue signs a handshake token. Used by tests and the dev token command.
func Issue(secret, playerID, tableID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TableID: tableID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
