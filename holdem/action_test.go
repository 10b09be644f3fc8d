package holdem

import "testing"

func TestActionValidate(t *testing.T) {
	base := Action{ActionID: "a1", Version: ActionVersion, TableID: "t1", PlayerID: "p1"}
	cases := []struct {
		name string
		edit func(*Action)
		ok   bool
	}{
		{"blind", func(a *Action) { a.Type = ActionPostBlind; a.Amount = 1 }, true},
		{"blind zero", func(a *Action) { a.Type = ActionPostBlind }, false},
		{"bet negative", func(a *Action) { a.Type = ActionBet; a.Amount = -5 }, false},
		{"call no amount", func(a *Action) { a.Type = ActionCall }, true},
		{"check with amount", func(a *Action) { a.Type = ActionCheck; a.Amount = 1 }, false},
		{"next without player", func(a *Action) { a.Type = ActionNext; a.PlayerID = "" }, true},
		{"fold without player", func(a *Action) { a.Type = ActionFold; a.PlayerID = "" }, false},
		{"missing id", func(a *Action) { a.Type = ActionFold; a.ActionID = "" }, false},
		{"bad version", func(a *Action) { a.Type = ActionFold; a.Version = "2" }, false},
		{"unknown type", func(a *Action) { a.Type = "shove" }, false},
	}
	for _, tc := range cases {
		a := base
		tc.edit(&a)
		err := a.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected err: %v", tc.name, err)
		}
		if !tc.ok {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			if !IsMalformed(err) {
				t.Fatalf("%s: expected malformed error, got %v", tc.name, err)
			}
		}
	}
}
