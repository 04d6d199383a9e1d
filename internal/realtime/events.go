package realtime

// State is the connection state of the realtime channel. Transitions
// happen only inside the Manager.
type State string

const (
	StateIdle            State = "idle"
	StateConnecting      State = "connecting"
	StateConnected       State = "connected"
	StateDisconnected    State = "disconnected"
	StateAuthError       State = "auth_error"
	StateConnectionError State = "connection_error"
	StateFatalError      State = "fatal_error"
)

// ConversationSummary is the wire shape of one entry in a server list
// push. Order is server-defined and preserved.
type ConversationSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Event is one typed notification delivered to the single consumer of
// Manager.Events().
type Event interface {
	realtimeEvent()
}

// StateChanged reports a connection state transition. Reason is empty
// for local transitions.
type StateChanged struct {
	State  State
	Reason string
}

// Ready reports the post-connect readiness signal. Commands may be
// issued only after it arrives.
type Ready struct {
	UserID string
	Email  string
}

// ListUpdate carries an authoritative conversation list push. Deletion
// confirmations ride on these: a conversation is gone once a push no
// longer contains it.
type ListUpdate struct {
	Conversations []ConversationSummary
}

func (StateChanged) realtimeEvent() {}
func (Ready) realtimeEvent()        {}
func (ListUpdate) realtimeEvent()   {}
