package server

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"livewatch-client/internal/protocol"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotMember    = errors.New("not a member of this room")
)

// Registry is the in-memory room store backing the dev server. Message IDs
// are monotonically increasing, so they double as the pagination cursor.
type Registry struct {
	mu         sync.Mutex
	rooms      map[int64]*room
	byContent  map[int64]int64
	nextRoomID int64
	nextMsgID  int64
}

type room struct {
	id           int64
	contentID    int64
	title        string
	createdAt    time.Time
	participants map[int64]protocol.Participant
	messages     []protocol.ChatEvent // ascending by ID
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:     make(map[int64]*room),
		byContent: make(map[int64]int64),
	}
}

// JoinByContent resolves or creates the room for a content ID and joins the
// user in one step
func (r *Registry) JoinByContent(contentID int64, user protocol.Participant) *protocol.RoomJoinResponse {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.byContent[contentID]
	if !ok {
		r.nextRoomID++
		roomID = r.nextRoomID
		r.rooms[roomID] = &room{
			id:           roomID,
			contentID:    contentID,
			title:        fmt.Sprintf("Live watch #%d", contentID),
			createdAt:    time.Now(),
			participants: make(map[int64]protocol.Participant),
		}
		r.byContent[contentID] = roomID
	}

	return r.joinLocked(r.rooms[roomID], user)
}

// Join adds the user to an existing room
func (r *Registry) Join(roomID int64, user protocol.Participant) (*protocol.RoomJoinResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r.joinLocked(rm, user), nil
}

func (r *Registry) joinLocked(rm *room, user protocol.Participant) *protocol.RoomJoinResponse {
	if _, ok := rm.participants[user.UserID]; !ok {
		user.ParticipatedAt = time.Now()
		rm.participants[user.UserID] = user
	}

	participants := make([]protocol.Participant, 0, len(rm.participants))
	for _, p := range rm.participants {
		participants = append(participants, p)
	}

	return &protocol.RoomJoinResponse{
		RoomID:           rm.id,
		Title:            rm.title,
		CreatedAt:        rm.createdAt,
		ParticipantCount: len(participants),
		Participants:     participants,
	}
}

// Leave removes the user from the room's participant set
func (r *Registry) Leave(roomID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	delete(rm.participants, userID)
	return nil
}

// AppendChat stores a chat message from a room member and returns the
// persisted event with its assigned ID
func (r *Registry) AppendChat(roomID, userID int64, userName, content string) (protocol.ChatEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return protocol.ChatEvent{}, ErrRoomNotFound
	}
	if _, ok := rm.participants[userID]; !ok {
		return protocol.ChatEvent{}, ErrNotMember
	}

	r.nextMsgID++
	ev := protocol.NewChatEvent(r.nextMsgID, userID, userName, content, time.Now())
	rm.messages = append(rm.messages, ev)
	return ev, nil
}

// Messages returns one history page, newest-first. A nil cursor starts at the
// newest message; otherwise the page holds messages older than the cursor ID.
func (r *Registry) Messages(roomID int64, cursor *string, size int) (*protocol.MessagePage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

	// upper bound (exclusive) on message IDs for this page
	bound := r.nextMsgID + 1
	if cursor != nil {
		id, err := strconv.ParseInt(*cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q", *cursor)
		}
		bound = id
	}

	page := make([]protocol.ChatEvent, 0, size)
	for i := len(rm.messages) - 1; i >= 0 && len(page) < size; i-- {
		ev := rm.messages[i]
		if *ev.ID < bound {
			page = append(page, ev)
		}
	}

	var nextCursor *string
	hasNext := false
	if len(page) > 0 {
		oldest := *page[len(page)-1].ID
		for i := range rm.messages {
			if *rm.messages[i].ID < oldest {
				hasNext = true
				break
			}
		}
		if hasNext {
			s := strconv.FormatInt(oldest, 10)
			nextCursor = &s
		}
	}

	return &protocol.MessagePage{
		Messages:     page,
		MessageCount: len(page),
		NextCursor:   nextCursor,
		HasNext:      hasNext,
	}, nil
}
