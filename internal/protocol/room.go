package protocol

import "time"

/** -------------------- DTOs -------------------- */

// Participant is one member of a room's presence set, keyed by UserID
type Participant struct {
	UserID         int64     `json:"userId"`
	UserName       string    `json:"userName"`
	ProfileURL     *string   `json:"profileUrl"`
	ParticipatedAt time.Time `json:"participatedAt"`
}

// RoomJoinResponse is returned by both join entry points (by room and by
// content). Participants is the seed for the client's presence set.
type RoomJoinResponse struct {
	RoomID           int64         `json:"roomId"`
	Title            string        `json:"title"`
	CreatedAt        time.Time     `json:"createdAt"`
	ParticipantCount int           `json:"participantCount"`
	Participants     []Participant `json:"participants"`
}

// MessagePage is one page of chat history, newest-first as served.
type MessagePage struct {
	Messages     []ChatEvent `json:"messages"`
	MessageCount int         `json:"messageCount"`
	NextCursor   *string     `json:"nextCursor"`
	HasNext      bool        `json:"hasNext"`
}

// SendMessageRequest is the outbound publish payload
type SendMessageRequest struct {
	LiveWatchRoomID int64  `json:"liveWatchRoomId"`
	Content         string `json:"content"`
}

// ErrorPayload is pushed on the user error queue when the server rejects an
// outbound action
type ErrorPayload struct {
	Message string `json:"message"`
}
