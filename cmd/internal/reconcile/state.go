package reconcile

// State is the reconciliation state machine position.
type State string

const (
	StateIdle          State = "idle"
	StateProcessing    State = "processing"
	StatePaying        State = "paying"
	StateVerifying     State = "verifying"
	StateVerifyingLong State = "verifying_long"
	StateSuccess       State = "success"
	StateError         State = "error"
)

// Settled reports whether no background work belongs to the state.
func (s State) Settled() bool {
	switch s {
	case StateProcessing, StateVerifying:
		return false
	default:
		return true
	}
}
