// Package codec defines the JSON envelopes exchanged over the socket.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/Nera26/pokerhub-sub001/holdem"
)

// Client to server events.
const (
	EventAction   = "action"
	EventFrameAck = "frame:ack"
	EventJoin     = "join"
	EventBuyIn    = "buy-in"
	EventSitout   = "sitout"
	EventRebuy    = "rebuy"
	EventReplay   = "replay"
	EventResume   = "resume"
)

// Server to client events.
const (
	EventActionAck = "action:ack"
	EventState     = "state"
	EventError     = "server:Error"
	EventClock     = "server:Clock"
	EventProof     = "proof"
	EventResumed   = "resumed"
)

// AckEvent names the acknowledgement for a control event ("join" -> "join:ack").
func AckEvent(event string) string { return event + ":ack" }

type ClientEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ServerEnvelope struct {
	Event   string `json:"event"`
	FrameID string `json:"frameId,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type FrameAck struct {
	FrameID string `json:"frameId"`
}

type ControlRequest struct {
	ActionID string `json:"actionId"`
}

type ResumeRequest struct {
	From uint64 `json:"from"`
}

type Ack struct {
	ActionID  string `json:"actionId"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Version   string `json:"version,omitempty"`
	Tick      uint64 `json:"tick,omitempty"`
}

type ErrorPayload struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	ActionID string `json:"actionId,omitempty"`
}

// StatePayload is a per-recipient state frame. Tick is the gateway's tick
// for the table and increases by one per accepted action.
type StatePayload struct {
	TableID string       `json:"tableId"`
	Tick    uint64       `json:"tick"`
	State   holdem.State `json:"state"`
}

type ClockPayload struct {
	Millis int64 `json:"ms"`
}

type ResumePayload struct {
	TableID string            `json:"tableId"`
	States  []ResumeStateItem `json:"states"`
}

type ResumeStateItem struct {
	Seq   uint64       `json:"seq"`
	State holdem.State `json:"state"`
}

func Encode(event, frameID string, data any) ([]byte, error) {
	raw, err := json.Marshal(ServerEnvelope{Event: event, FrameID: frameID, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return raw, nil
}

func Decode(raw []byte) (ClientEnvelope, error) {
	var env ClientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientEnvelope{}, err
	}
	if env.Event == "" {
		return ClientEnvelope{}, fmt.Errorf("missing event")
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into dst.
func DecodeData(env ClientEnvelope, dst any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing data", env.Event)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%s: %w", env.Event, err)
	}
	return nil
}
