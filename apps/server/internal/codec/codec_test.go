package codec

import (
	"encoding/json"
	"testing"

	"github.com/Nera26/pokerhub-sub001/holdem"
)

func TestDecodeAction(t *testing.T) {
	raw := []byte(`{"event":"action","data":{"actionId":"a1","version":"1","tableId":"t1","playerId":"p1","type":"postBlind","amount":2}}`)
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	if env.Event != EventAction {
		t.Fatalf("expected action event, got %q", env.Event)
	}
	var a holdem.Action
	if err := DecodeData(env, &a); err != nil {
		t.Fatalf("DecodeData err: %v", err)
	}
	if a.Type != holdem.ActionPostBlind || a.Amount != 2 || a.PlayerID != "p1" {
		t.Fatalf("unexpected action %+v", a)
	}
}

func TestDecodeRejectsMissingEvent(t *testing.T) {
	if _, err := Decode([]byte(`{"data":{}}`)); err == nil {
		t.Fatalf("expected error for missing event")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

func TestEncodeCarriesFrameID(t *testing.T) {
	raw, err := Encode(EventState, "f-1", StatePayload{TableID: "t1", Tick: 3})
	if err != nil {
		t.Fatalf("Encode err: %v", err)
	}
	var out struct {
		Event   string       `json:"event"`
		FrameID string       `json:"frameId"`
		Data    StatePayload `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal err: %v", err)
	}
	if out.Event != EventState || out.FrameID != "f-1" || out.Data.Tick != 3 {
		t.Fatalf("unexpected envelope %+v", out)
	}
}
