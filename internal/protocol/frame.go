package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FrameType represents the type of a websocket frame using a custom enum type
// for better type safety
type FrameType string

const (
	// Client-initiated frames
	FrameSubscribe   FrameType = "SUBSCRIBE"
	FrameUnsubscribe FrameType = "UNSUBSCRIBE"
	FrameSend        FrameType = "SEND"

	// Server-initiated frames
	FrameMessage FrameType = "MESSAGE"
	FrameError   FrameType = "ERROR"
)

// String returns the string representation of the FrameType
func (t FrameType) String() string {
	return string(t)
}

// IsValid checks if the FrameType is a valid enum value
func (t FrameType) IsValid() bool {
	switch t {
	case FrameSubscribe, FrameUnsubscribe, FrameSend, FrameMessage, FrameError:
		return true
	default:
		return false
	}
}

// Frame is the envelope for every message on the wire. A server ERROR frame
// with no destination is a protocol-level rejection and terminates the
// connection; application errors arrive as MESSAGE frames on ErrorQueue.
type Frame struct {
	Type        FrameType       `json:"type"`
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Validate validates the frame structure and type
func (f *Frame) Validate() error {
	if !f.Type.IsValid() {
		return fmt.Errorf("invalid frame type: %s", f.Type)
	}
	switch f.Type {
	case FrameSubscribe, FrameUnsubscribe, FrameSend:
		if f.Destination == "" {
			return fmt.Errorf("%s frame requires a destination", f.Type)
		}
	}
	return nil
}

// Destinations of the live-watch wire contract.
const (
	ErrorQueue      = "/user/queue/errors"
	SendDestination = "/app/livewatch/send"

	topicPrefix    = "/topic/livewatch/rooms/"
	messagesSuffix = "/messages"
	eventsSuffix   = "/events"
)

// MessagesTopic returns the room-scoped chat message topic
func MessagesTopic(roomID int64) string {
	return fmt.Sprintf("%s%d%s", topicPrefix, roomID, messagesSuffix)
}

// EventsTopic returns the room-scoped presence event topic
func EventsTopic(roomID int64) string {
	return fmt.Sprintf("%s%d%s", topicPrefix, roomID, eventsSuffix)
}

// IsMessagesTopic reports whether destination is a room message topic
func IsMessagesTopic(destination string) bool {
	return strings.HasPrefix(destination, topicPrefix) && strings.HasSuffix(destination, messagesSuffix)
}

// IsEventsTopic reports whether destination is a room event topic
func IsEventsTopic(destination string) bool {
	return strings.HasPrefix(destination, topicPrefix) && strings.HasSuffix(destination, eventsSuffix)
}

// Frame constructors for type safety and consistency

// NewSubscribeFrame creates a subscription request for a destination
func NewSubscribeFrame(id, destination string) *Frame {
	return &Frame{Type: FrameSubscribe, ID: id, Destination: destination}
}

// NewUnsubscribeFrame creates an unsubscribe request for a destination
func NewUnsubscribeFrame(id, destination string) *Frame {
	return &Frame{Type: FrameUnsubscribe, ID: id, Destination: destination}
}

// NewSendFrame creates an outbound publish frame with a JSON body
func NewSendFrame(destination string, body any) (*Frame, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal send body: %w", err)
	}
	return &Frame{Type: FrameSend, Destination: destination, Body: data}, nil
}

// NewMessageFrame creates a server push frame with a JSON body
func NewMessageFrame(destination string, body any) (*Frame, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal message body: %w", err)
	}
	return &Frame{Type: FrameMessage, Destination: destination, Body: data}, nil
}

// NewErrorFrame creates a protocol-level error frame
func NewErrorFrame(message string) *Frame {
	data, _ := json.Marshal(ErrorPayload{Message: message})
	return &Frame{Type: FrameError, Body: data}
}
