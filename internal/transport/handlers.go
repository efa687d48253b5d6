package transport

import "livewatch-client/internal/protocol"

// Handlers are the adapter's typed inbound callbacks. SetHandlers merges:
// fields left nil keep the previously registered handler, so independent
// consumers can each register the subset they care about.
type Handlers struct {
	// OnMessage receives every chat/join/leave event from the room streams
	OnMessage func(protocol.ChatEvent)

	// OnUserJoin fires for JOIN events on the room event stream
	OnUserJoin func(protocol.Participant)

	// OnUserLeave fires for LEAVE events on the room event stream
	OnUserLeave func(userID int64)

	// OnError receives application errors pushed by the server and local
	// frame-parse failures
	OnError func(message string)

	// OnConnectionChange fires on every ConnectionState transition
	OnConnectionChange func(ConnectionState)

	// OnDisconnection fires when a connection loss is detected, with its
	// reason classification
	OnDisconnection func(DisconnectionInfo)
}

func (h *Handlers) merge(in Handlers) {
	if in.OnMessage != nil {
		h.OnMessage = in.OnMessage
	}
	if in.OnUserJoin != nil {
		h.OnUserJoin = in.OnUserJoin
	}
	if in.OnUserLeave != nil {
		h.OnUserLeave = in.OnUserLeave
	}
	if in.OnError != nil {
		h.OnError = in.OnError
	}
	if in.OnConnectionChange != nil {
		h.OnConnectionChange = in.OnConnectionChange
	}
	if in.OnDisconnection != nil {
		h.OnDisconnection = in.OnDisconnection
	}
}
