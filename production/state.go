package production

// =============================================================================
// APPROVAL STATE MACHINE
// =============================================================================
//
//	           confirm
//	pending ────────────▶ confirmed   (final)
//	   │  ▲
//	reject│  │resubmit
//	   ▼  │
//	 rejected
//
// The engine consults this table before doing any work and the store's
// compare-and-set enforces it again at write time.

type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionReject   Action = "reject"
	ActionResubmit Action = "resubmit"
)

var transitions = map[Status]map[Action]Status{
	StatusPending: {
		ActionConfirm: StatusConfirmed,
		ActionReject:  StatusRejected,
	},
	StatusRejected: {
		ActionResubmit: StatusPending,
	},
	StatusConfirmed: {},
}

// NextStatus returns the status reached by applying a to a batch in from.
func NextStatus(id BatchID, from Status, a Action) (Status, error) {
	to, ok := transitions[from][a]
	if !ok {
		return "", &GuardViolationError{BatchID: id, Action: a, Current: from}
	}
	return to, nil
}
