package conversation

// Status is the lifecycle state of the conversation.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
)

// Active reports whether a session exists in this state, i.e. whether Start
// would be rejected.
func (s Status) Active() bool {
	return s != StatusIdle
}
