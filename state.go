package alohacast

import "github.com/lanikai/alohacast/internal/logging"

var log = logging.DefaultLogger.WithTag("alohacast")

// ConnectionState of a Viewer.
type ConnectionState int

const (
	NotConnected ConnectionState = iota
	Connecting
	ConnectedNoStreaming
	Streaming
	Retry
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case NotConnected:
		return "NotConnected"
	case Connecting:
		return "Connecting"
	case ConnectedNoStreaming:
		return "ConnectedNoStreaming"
	case Streaming:
		return "Streaming"
	case Retry:
		return "Retry"
	case Closed:
		return "Closed"
	}
	return "Unknown"
}

// Connected reports whether a session with the caster is established.
func (s ConnectionState) Connected() bool {
	return s == ConnectedNoStreaming || s == Streaming
}

// CasterState of a Caster.
type CasterState int

const (
	Stopped CasterState = iota
	Running
)

func (s CasterState) String() string {
	if s == Running {
		return "Running"
	}
	return "Stopped"
}
