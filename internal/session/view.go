package session

import (
	"sort"

	"livewatch-client/internal/protocol"
	"livewatch-client/internal/transport"
)

// View is the UI-facing snapshot of the session. Slices are copies; callers
// may hold them across further coordinator activity.
type View struct {
	ConnectionState  transport.ConnectionState
	Connected        bool
	Room             *RoomSession
	Messages         []protocol.ChatEvent
	Participants     []protocol.Participant
	ParticipantCount int
	HasMore          bool
	Loading          bool
	Joining          bool
	Leaving          bool
	Err              string
}

// Snapshot returns the current session view. Participants are sorted by
// participation time for a stable render order.
func (c *Coordinator) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	messages := make([]protocol.ChatEvent, len(c.events))
	copy(messages, c.events)

	participants := make([]protocol.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool {
		if !participants[i].ParticipatedAt.Equal(participants[j].ParticipatedAt) {
			return participants[i].ParticipatedAt.Before(participants[j].ParticipatedAt)
		}
		return participants[i].UserID < participants[j].UserID
	})

	var room *RoomSession
	if c.session != nil {
		s := *c.session
		room = &s
	}

	return View{
		ConnectionState:  c.connState,
		Connected:        c.connState.Connected(),
		Room:             room,
		Messages:         messages,
		Participants:     participants,
		ParticipantCount: len(participants),
		HasMore:          c.hasMore,
		Loading:          c.loading,
		Joining:          c.joining,
		Leaving:          c.leaving,
		Err:              c.errMsg,
	}
}
