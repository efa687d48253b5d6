package transport

import "time"

// Phase is the connection lifecycle phase. Exactly one phase holds at any
// time; it replaces the independent isConnected/isConnecting flags the UI
// used to juggle.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseFailed
)

// String returns the string representation of the Phase
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectionState is the adapter-owned connection state. Reason is set only
// when Phase is PhaseFailed.
type ConnectionState struct {
	Phase  Phase
	Reason string
}

// Connected reports whether the connection is usable
func (s ConnectionState) Connected() bool {
	return s.Phase == PhaseConnected
}

// DisconnectReason classifies how a connection ended
type DisconnectReason string

const (
	// DisconnectNormal is a clean, code-initiated disconnect
	DisconnectNormal DisconnectReason = "normal"
	// DisconnectError is a protocol-level rejection, e.g. an invalid or
	// expired credential
	DisconnectError DisconnectReason = "error"
	// DisconnectNetwork is a transport-level failure such as a closed socket
	// or a missed heartbeat
	DisconnectNetwork DisconnectReason = "network"
)

// DisconnectionInfo describes a detected connection loss
type DisconnectionInfo struct {
	Reason    DisconnectReason
	Message   string
	Timestamp time.Time
}

// Unexpected reports whether the loss should surface a user-visible alert.
// Normal disconnects do not.
func (d DisconnectionInfo) Unexpected() bool {
	return d.Reason != DisconnectNormal
}
