package room

import (
	"errors"
	"fmt"

	"github.com/Nera26/pokerhub-sub001/holdem"
)

var (
	ErrWorkerFailed   = errors.New("room: worker failed")
	ErrAlreadyApplied = errors.New("room: action already applied")
	ErrClosed         = errors.New("room: worker closed")
	ErrUnavailable    = errors.New("room: no primary available")
	errKilled         = fmt.Errorf("%w: killed", ErrWorkerFailed)
	errDiverged       = errors.New("room: follower diverged")
)

type Role string

const (
	RolePrimary  Role = "primary"
	RoleFollower Role = "follower"
)

// Entry is one accepted action as replicated to followers and recorded in
// the table log. Seq equals the resulting state's Tick.
type Entry struct {
	Seq      uint64        `json:"seq"`
	ActionID string        `json:"actionId"`
	Action   holdem.Action `json:"action"`
	Tick     uint64        `json:"tick"`
}

// Checkpoint is the state after an entry of the current hand.
type Checkpoint struct {
	Seq   uint64       `json:"seq"`
	State holdem.State `json:"state"`
}

// HandLog is everything needed to rebuild the current hand.
type HandLog struct {
	TableID     string          `json:"tableId"`
	HandID      string          `json:"handId"`
	Start       holdem.State    `json:"start"`
	Actions     []holdem.Action `json:"actions"`
	Checkpoints []Checkpoint    `json:"checkpoints"`
}

// Stats is a point-in-time view of a worker's execution contexts.
type Stats struct {
	TableID               string `json:"tableId"`
	PrimaryID             uint64 `json:"primaryId"`
	PrimaryLastConfirmed  uint64 `json:"primaryLastConfirmed"`
	HasFollower           bool   `json:"hasFollower"`
	FollowerLastConfirmed uint64 `json:"followerLastConfirmed"`
	Promotions            uint64 `json:"promotions"`
	Recovering            bool   `json:"recovering"`
}
