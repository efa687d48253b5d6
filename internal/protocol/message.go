package protocol

import "time"

// MessageKind classifies events on a room's message and event streams using a
// custom enum type for better type safety
type MessageKind string

const (
	MessageKindChat  MessageKind = "CHAT"
	MessageKindJoin  MessageKind = "JOIN"
	MessageKindLeave MessageKind = "LEAVE"
)

// String returns the string representation of the MessageKind
func (k MessageKind) String() string {
	return string(k)
}

// IsValid checks if the MessageKind is a valid enum value
func (k MessageKind) IsValid() bool {
	switch k {
	case MessageKindChat, MessageKindJoin, MessageKindLeave:
		return true
	default:
		return false
	}
}

// ChatEvent is one entry on a room's streams. Persisted chat messages carry a
// server-assigned ID; ephemeral JOIN/LEAVE events never do.
type ChatEvent struct {
	ID       *int64      `json:"id,omitempty"`
	Content  string      `json:"content"`
	SentAt   time.Time   `json:"sentAt"`
	UserID   int64       `json:"userId"`
	UserName string      `json:"userName"`
	Type     MessageKind `json:"messageType"`
}

// SameEvent reports whether two events describe the same logical event.
// Events that both carry a server ID compare by ID alone. When either side
// lacks an ID the comparison falls back to {sentAt, userId, content,
// messageType}, which is what makes redelivered JOIN/LEAVE events safe to
// reprocess after a reconnect. Two genuinely distinct ID-less events with
// identical fields at the same timestamp resolution collapse into one; that
// tolerance is accepted.
func (e ChatEvent) SameEvent(other ChatEvent) bool {
	if e.ID != nil && other.ID != nil {
		return *e.ID == *other.ID
	}
	return e.SentAt.Equal(other.SentAt) &&
		e.UserID == other.UserID &&
		e.Content == other.Content &&
		e.Type == other.Type
}

// NewChatEvent creates a persisted chat message event
func NewChatEvent(id int64, userID int64, userName, content string, sentAt time.Time) ChatEvent {
	return ChatEvent{
		ID:       &id,
		Content:  content,
		SentAt:   sentAt,
		UserID:   userID,
		UserName: userName,
		Type:     MessageKindChat,
	}
}

// NewJoinEvent creates an ephemeral join event
func NewJoinEvent(userID int64, userName string, sentAt time.Time) ChatEvent {
	return ChatEvent{
		SentAt:   sentAt,
		UserID:   userID,
		UserName: userName,
		Type:     MessageKindJoin,
	}
}

// NewLeaveEvent creates an ephemeral leave event
func NewLeaveEvent(userID int64, userName string, sentAt time.Time) ChatEvent {
	return ChatEvent{
		SentAt:   sentAt,
		UserID:   userID,
		UserName: userName,
		Type:     MessageKindLeave,
	}
}
