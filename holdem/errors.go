package holdem

import (
	"errors"
	"fmt"
)

// ErrRejected is wrapped by every rule rejection returned from Apply.
var ErrRejected = errors.New("action rejected")

var (
	ErrHandEnded        = fmt.Errorf("%w: hand already ended", ErrRejected)
	ErrOutOfTurn        = fmt.Errorf("%w: action out of turn", ErrRejected)
	ErrUnknownPlayer    = fmt.Errorf("%w: unknown player", ErrRejected)
	ErrInvalidAmount    = fmt.Errorf("%w: invalid amount", ErrRejected)
	ErrBlindPosted      = fmt.Errorf("%w: blind already posted", ErrRejected)
	ErrTableFull        = fmt.Errorf("%w: table full", ErrRejected)
	ErrNotEnoughPlayers = fmt.Errorf("%w: not enough players", ErrRejected)
	ErrWrongPhase       = fmt.Errorf("%w: not allowed in this phase", ErrRejected)
)

// MalformedActionError reports an action that fails schema validation.
type MalformedActionError string

func (e MalformedActionError) Error() string { return "malformed action: " + string(e) }

func ErrMalformed(msg string) error { return MalformedActionError(msg) }

// IsMalformed reports whether err came from Action.Validate.
func IsMalformed(err error) bool {
	var m MalformedActionError
	return errors.As(err, &m)
}
