package librt

type EventType byte

const (
	EventConnect EventType = iota + 1
	EventDisconnect
	EventReconnect
	EventError
	EventClose
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventReconnect:
		return "reconnect"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event carries a lifecycle notification through the emitter. Err is set
// for EventError and for EventDisconnect when the loss was not manual.
type Event struct {
	Type EventType
	Err  error
}
