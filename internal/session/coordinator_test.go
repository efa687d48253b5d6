package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livewatch-client/internal/protocol"
	"livewatch-client/internal/transport"
)

type fakeTransport struct {
	mu       sync.Mutex
	state    transport.ConnectionState
	handlers transport.Handlers
	joined   []int64
	left     int
	sent     []string
	joinErr  error
	sendErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: transport.ConnectionState{Phase: transport.PhaseDisconnected}}
}

func (f *fakeTransport) JoinRoom(roomID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined = append(f.joined, roomID)
	return nil
}

func (f *fakeTransport) LeaveRoom() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left++
}

func (f *fakeTransport) SendMessage(content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakeTransport) SetHandlers(h transport.Handlers) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h.OnMessage != nil {
		f.handlers.OnMessage = h.OnMessage
	}
	if h.OnUserJoin != nil {
		f.handlers.OnUserJoin = h.OnUserJoin
	}
	if h.OnUserLeave != nil {
		f.handlers.OnUserLeave = h.OnUserLeave
	}
	if h.OnError != nil {
		f.handlers.OnError = h.OnError
	}
	if h.OnConnectionChange != nil {
		f.handlers.OnConnectionChange = h.OnConnectionChange
	}
	if h.OnDisconnection != nil {
		f.handlers.OnDisconnection = h.OnDisconnection
	}
}

func (f *fakeTransport) State() transport.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) setState(s transport.ConnectionState) {
	f.mu.Lock()
	f.state = s
	h := f.handlers.OnConnectionChange
	f.mu.Unlock()
	if h != nil {
		h(s)
	}
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeRooms struct {
	mu        sync.Mutex
	joinResp  *protocol.RoomJoinResponse
	joinErr   error
	leaveErr  error
	leaves    []int64
	pages     map[string]*protocol.MessagePage
	pageCalls int
	joinGate  chan struct{} // when set, RoomByContent blocks until closed
}

func newFakeRooms(resp *protocol.RoomJoinResponse) *fakeRooms {
	return &fakeRooms{joinResp: resp, pages: make(map[string]*protocol.MessagePage)}
}

func (f *fakeRooms) RoomByContent(ctx context.Context, contentID int64) (*protocol.RoomJoinResponse, error) {
	if f.joinGate != nil {
		<-f.joinGate
	}
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	return f.joinResp, nil
}

func (f *fakeRooms) JoinRoom(ctx context.Context, roomID int64) (*protocol.RoomJoinResponse, error) {
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	return f.joinResp, nil
}

func (f *fakeRooms) LeaveRoom(ctx context.Context, roomID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaveErr != nil {
		return f.leaveErr
	}
	f.leaves = append(f.leaves, roomID)
	return nil
}

func (f *fakeRooms) Messages(ctx context.Context, roomID int64, cursor *string, size int) (*protocol.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls++
	key := ""
	if cursor != nil {
		key = *cursor
	}
	page, ok := f.pages[key]
	if !ok {
		return &protocol.MessagePage{HasNext: false}, nil
	}
	return page, nil
}

func chatEvent(id int64, userID int64, content string, at time.Time) protocol.ChatEvent {
	return protocol.NewChatEvent(id, userID, fmt.Sprintf("user%d", userID), content, at)
}

func connectedCoordinator(t *testing.T, rooms *fakeRooms) (*Coordinator, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	c := NewCoordinator(ft, rooms, 30, nil)
	ft.setState(transport.ConnectionState{Phase: transport.PhaseConnected})
	return c, ft
}

func joinResponse(roomID int64, participants ...protocol.Participant) *protocol.RoomJoinResponse {
	return &protocol.RoomJoinResponse{
		RoomID:           roomID,
		Title:            fmt.Sprintf("room %d", roomID),
		CreatedAt:        time.Now(),
		ParticipantCount: len(participants),
		Participants:     participants,
	}
}

func TestJoinSeedsSessionParticipantsAndHistory(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rooms := newFakeRooms(joinResponse(42,
		protocol.Participant{UserID: 1, UserName: "user1", ParticipatedAt: base},
	))
	// server serves newest-first
	rooms.pages[""] = &protocol.MessagePage{
		Messages: []protocol.ChatEvent{
			chatEvent(2, 1, "second", base.Add(2*time.Second)),
			chatEvent(1, 1, "first", base.Add(time.Second)),
		},
		MessageCount: 2,
		HasNext:      false,
	}

	c, ft := connectedCoordinator(t, rooms)
	require.NoError(t, c.JoinByContent(context.Background(), 7))

	view := c.Snapshot()
	require.NotNil(t, view.Room)
	assert.Equal(t, int64(42), view.Room.RoomID)
	assert.Equal(t, []int64{42}, ft.joined)
	assert.Equal(t, 1, view.ParticipantCount)

	// stored ascending despite newest-first delivery
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "first", view.Messages[0].Content)
	assert.Equal(t, "second", view.Messages[1].Content)
	assert.False(t, view.HasMore)
}

func TestJoinRequiresConnection(t *testing.T) {
	rooms := newFakeRooms(joinResponse(1))
	ft := newFakeTransport()
	c := NewCoordinator(ft, rooms, 30, nil)

	err := c.JoinByContent(context.Background(), 7)
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	view := c.Snapshot()
	assert.Nil(t, view.Room)
	assert.NotEmpty(t, view.Err)
}

func TestJoinFailureLeavesNoPartialSession(t *testing.T) {
	rooms := newFakeRooms(nil)
	rooms.joinErr = errors.New("room is closed")

	c, ft := connectedCoordinator(t, rooms)
	err := c.JoinByContent(context.Background(), 7)
	require.Error(t, err)

	view := c.Snapshot()
	assert.Nil(t, view.Room)
	assert.Empty(t, ft.joined)
	assert.Equal(t, "room is closed", view.Err)
}

func TestDedupByServerID(t *testing.T) {
	rooms := newFakeRooms(joinResponse(1))
	c, ft := connectedCoordinator(t, rooms)
	require.NoError(t, c.JoinByContent(context.Background(), 7))

	ev := chatEvent(10, 1, "hello", time.Now())
	ft.handlers.OnMessage(ev)
	ft.handlers.OnMessage(ev)

	assert.Len(t, c.Snapshot().Messages, 1)
}

func TestDedupFallbackForIDLessEvents(t *testing.T) {
	rooms := newFakeRooms(joinResponse(1))
	c, ft := connectedCoordinator(t, rooms)
	require.NoError(t, c.JoinByContent(context.Background(), 7))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	join := protocol.NewJoinEvent(5, "user5", at)
	ft.handlers.OnMessage(join)
	ft.handlers.OnMessage(join)

	// same user, different timestamp: a distinct event
	ft.handlers.OnMessage(protocol.NewJoinEvent(5, "user5", at.Add(time.Minute)))

	assert.Len(t, c.Snapshot().Messages, 2)
}

func TestPresenceReplayIsIdempotent(t *testing.T) {
	rooms := newFakeRooms(joinResponse(1))
	c, ft := connectedCoordinator(t, rooms)
	require.NoError(t, c.JoinByContent(context.Background(), 7))

	at := time.Now()
	ft.handlers.OnUserJoin(protocol.Participant{UserID: 9, UserName: "user9", ParticipatedAt: at})
	ft.handlers.OnUserJoin(protocol.Participant{UserID: 9, UserName: "user9", ParticipatedAt: at.Add(time.Second)})
	assert.Equal(t, 1, c.Snapshot().ParticipantCount)

	ft.handlers.OnUserLeave(9)
	assert.Equal(t, 0, c.Snapshot().ParticipantCount)

	// leave for an unknown user is a no-op
	ft.handlers.OnUserLeave(9)
	assert.Equal(t, 0, c.Snapshot().ParticipantCount)
}

func TestReconnectRedeliveryDoesNotGrowLog(t *testing.T) {
	rooms := newFakeRooms(joinResponse(1))
	c, ft := connectedCoordinator(t, rooms)
	require.NoError(t, c.JoinByContent(context.Background(), 7))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := protocol.NewJoinEvent(1, "user1", at)
	second := protocol.NewJoinEvent(2, "user2", at.Add(time.Second))
	ft.handlers.OnMessage(first)
	ft.handlers.OnMessage(second)
	require.Len(t, c.Snapshot().Messages, 2)

	// server redelivers both after a reconnect
	ft.handlers.OnMessage(first)
	ft.handlers.OnMessage(second)
	assert.Len(t, c.Snapshot().Messages, 2)
}

func TestPaginationPrependsOlderPages(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rooms := newFakeRooms(joinResponse(1))

	cursor := "3"
	rooms.pages[""] = &protocol.MessagePage{
		Messages: []protocol.ChatEvent{
			chatEvent(4, 1, "m4", base.Add(4*time.Second)),
			chatEvent(3, 1, "m3", base.Add(3*time.Second)),
		},
		NextCursor: &cursor,
		HasNext:    true,
	}
	rooms.pages["3"] = &protocol.MessagePage{
		Messages: []protocol.ChatEvent{
			chatEvent(2, 1, "m2", base.Add(2*time.Second)),
			chatEvent(1, 1, "m1", base.Add(time.Second)),
		},
		HasNext: false,
	}

	c, _ := connectedCoordinator(t, rooms)
	require.NoError(t, c.JoinByContent(context.Background(), 7))
	require.True(t, c.Snapshot().HasMore)

	require.NoError(t, c.LoadMore(context.Background()))

	view := c.Snapshot()
	require.Len(t, view.Messages, 4)
	for i, want := range []string{"m1", "m2", "m3", "m4"} {
		assert.Equal(t, want, view.Messages[i].Content)
	}
	assert.False(t, view.HasMore)

	// exhausted: further calls never hit the service
	calls := rooms.pageCalls
	require.NoError(t, c.LoadMore(context.Background()))
	assert.Equal(t, calls, rooms.pageCalls)
}

func TestSendGuardNeverPublishesWhenNotReady(t *testing.T) {
	rooms := newFakeRooms(joinResponse(1))
	ft := newFakeTransport()
	c := NewCoordinator(ft, rooms, 30, nil)

	err := c.Send("hi")
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.Zero(t, ft.sentCount())
	assert.NotEmpty(t, c.Snapshot().Err)

	c.ClearError()
	ft.setState(transport.ConnectionState{Phase: transport.PhaseConnected})

	// connected but no room
	err = c.Send("hi")
	assert.ErrorIs(t, err, transport.ErrNotJoined)
	assert.Zero(t, ft.sentCount())
	assert.NotEmpty(t, c.Snapshot().Err)
}

func TestSendAndReceiveChat(t *testing.T) {
	rooms := newFakeRooms(joinResponse(42))
	c, ft := connectedCoordinator(t, rooms)
	require.NoError(t, c.JoinByContent(context.Background(), 7))

	require.NoError(t, c.Send("hi"))
	assert.Equal(t, []string{"hi"}, ft.sent)

	// inbound frame for the published message lands in the log
	ft.handlers.OnMessage(chatEvent(1, 1, "hi", time.Now()))
	view := c.Snapshot()
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "hi", view.Messages[0].Content)
	assert.Equal(t, protocol.MessageKindChat, view.Messages[0].Type)
}

func TestSwitchRoomReplacesSessionAndPresence(t *testing.T) {
	base := time.Now()
	rooms := newFakeRooms(joinResponse(1,
		protocol.Participant{UserID: 1, UserName: "user1", ParticipatedAt: base},
	))

	c, ft := connectedCoordinator(t, rooms)
	require.NoError(t, c.JoinByContent(context.Background(), 7))
	ft.handlers.OnMessage(chatEvent(1, 1, "old room", base))

	rooms.joinResp = joinResponse(2,
		protocol.Participant{UserID: 2, UserName: "user2", ParticipatedAt: base},
	)
	require.NoError(t, c.JoinByContent(context.Background(), 8))

	view := c.Snapshot()
	require.NotNil(t, view.Room)
	assert.Equal(t, int64(2), view.Room.RoomID)
	assert.Equal(t, []int64{1, 2}, ft.joined)

	// presence re-seeded, not merged
	require.Len(t, view.Participants, 1)
	assert.Equal(t, int64(2), view.Participants[0].UserID)

	// old room's messages are gone
	assert.Empty(t, view.Messages)
}

func TestLeaveResetsEverything(t *testing.T) {
	base := time.Now()
	rooms := newFakeRooms(joinResponse(42,
		protocol.Participant{UserID: 1, UserName: "user1", ParticipatedAt: base},
	))
	cursor := "5"
	rooms.pages[""] = &protocol.MessagePage{
		Messages:   []protocol.ChatEvent{chatEvent(5, 1, "m5", base)},
		NextCursor: &cursor,
		HasNext:    true,
	}

	c, ft := connectedCoordinator(t, rooms)
	require.NoError(t, c.JoinByContent(context.Background(), 7))
	ft.handlers.OnUserJoin(protocol.Participant{UserID: 2, UserName: "user2", ParticipatedAt: base})

	require.NoError(t, c.Leave(context.Background()))

	view := c.Snapshot()
	assert.Nil(t, view.Room)
	assert.Empty(t, view.Messages)
	assert.Zero(t, view.ParticipantCount)
	assert.True(t, view.HasMore)
	assert.Equal(t, []int64{42}, rooms.leaves)
	assert.Equal(t, 1, ft.left)

	// cursor cleared: LoadMore is a no-op afterwards
	calls := rooms.pageCalls
	require.NoError(t, c.LoadMore(context.Background()))
	assert.Equal(t, calls, rooms.pageCalls)
}

func TestLeaveWithoutSessionIsNoop(t *testing.T) {
	rooms := newFakeRooms(joinResponse(1))
	c, ft := connectedCoordinator(t, rooms)

	require.NoError(t, c.Leave(context.Background()))
	assert.Zero(t, ft.left)
	assert.Empty(t, rooms.leaves)
}

func TestLeaveDuringJoinIsRejected(t *testing.T) {
	rooms := newFakeRooms(joinResponse(1))
	rooms.joinGate = make(chan struct{})

	c, _ := connectedCoordinator(t, rooms)

	joinDone := make(chan error, 1)
	go func() {
		joinDone <- c.JoinByContent(context.Background(), 7)
	}()

	// wait for the join to be marked in flight
	deadline := time.After(2 * time.Second)
	for !c.Snapshot().Joining {
		select {
		case <-deadline:
			t.Fatal("join never became in flight")
		case <-time.After(5 * time.Millisecond):
		}
	}

	assert.ErrorIs(t, c.Leave(context.Background()), ErrJoinInFlight)

	close(rooms.joinGate)
	require.NoError(t, <-joinDone)
	require.NoError(t, c.Leave(context.Background()))
}

func TestErrorSlotKeepsOnlyLatest(t *testing.T) {
	rooms := newFakeRooms(joinResponse(1))
	c, ft := connectedCoordinator(t, rooms)

	ft.handlers.OnError("first problem")
	ft.handlers.OnError("second problem")
	assert.Equal(t, "second problem", c.Snapshot().Err)

	c.ClearError()
	assert.Empty(t, c.Snapshot().Err)
}

func TestConnectionFailureDropsSession(t *testing.T) {
	rooms := newFakeRooms(joinResponse(42))
	c, ft := connectedCoordinator(t, rooms)
	require.NoError(t, c.JoinByContent(context.Background(), 7))
	require.NotNil(t, c.Snapshot().Room)

	ft.setState(transport.ConnectionState{Phase: transport.PhaseFailed, Reason: "reconnect attempts exhausted"})

	view := c.Snapshot()
	assert.Nil(t, view.Room)
	assert.False(t, view.Connected)
	assert.Equal(t, "reconnect attempts exhausted", view.Err)
}
