package holdem

// Validate checks the action against the wire schema. It does not consult
// game state.
func (a Action) Validate() error {
	if a.ActionID == "" {
		return ErrMalformed("actionId required")
	}
	if a.Version != ActionVersion {
		return ErrMalformed("unsupported version " + a.Version)
	}
	if a.TableID == "" {
		return ErrMalformed("tableId required")
	}
	switch a.Type {
	case ActionPostBlind, ActionBet, ActionRaise:
		if a.PlayerID == "" {
			return ErrMalformed("playerId required")
		}
		if a.Amount <= 0 {
			return ErrMalformed("amount must be a positive integer")
		}
	case ActionCall:
		if a.PlayerID == "" {
			return ErrMalformed("playerId required")
		}
		if a.Amount < 0 {
			return ErrMalformed("amount must be a positive integer")
		}
	case ActionCheck, ActionFold:
		if a.PlayerID == "" {
			return ErrMalformed("playerId required")
		}
		if a.Amount != 0 {
			return ErrMalformed("amount not allowed")
		}
	case ActionNext:
		if a.Amount != 0 {
			return ErrMalformed("amount not allowed")
		}
	default:
		return ErrMalformed("unknown action type " + string(a.Type))
	}
	return nil
}
