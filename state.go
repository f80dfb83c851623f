package ftps

import "fmt"

// State is the position of a Client in its forward-only lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateTCPConnected
	StateTLSEstablished
	StateAuthenticated
	StateDirectorySet
	// StateIdle means ready for a transfer.
	StateIdle
	StateAwaitingDataChannel
	StateTransferring
	StateAwaitingCompletion
	// StateCompleted follows a positive completion reply. A completed
	// channel can only be disconnected.
	StateCompleted
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateDisconnected:        "disconnected",
	StateTCPConnected:        "tcp-connected",
	StateTLSEstablished:      "tls-established",
	StateAuthenticated:       "authenticated",
	StateDirectorySet:        "directory-set",
	StateIdle:                "idle",
	StateAwaitingDataChannel: "awaiting-data-channel",
	StateTransferring:        "transferring",
	StateAwaitingCompletion:  "awaiting-completion",
	StateCompleted:           "completed",
	StateClosed:              "closed",
	StateFailed:              "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}
