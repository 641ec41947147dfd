package reqtx

// State is the lifecycle state of a request transaction.
type State int

const (
	StateNoTransaction State = iota
	StateActive
	StateCommitted
	StateRolledBack
	StateLeaked
	StateCommitFailed
)

var stateNames = map[State]string{
	StateNoTransaction: "no_transaction",
	StateActive:        "active",
	StateCommitted:     "committed",
	StateRolledBack:    "rolled_back",
	StateLeaked:        "leaked",
	StateCommitFailed:  "commit_failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateRolledBack, StateLeaked, StateCommitFailed:
		return true
	}
	return false
}
