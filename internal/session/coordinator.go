package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"livewatch-client/internal/protocol"
	"livewatch-client/internal/transport"
)

var (
	// ErrJoinInFlight is returned for join or leave attempts while a join is
	// still settling. Leaves are rejected rather than queued behind the join.
	ErrJoinInFlight = errors.New("a join is already in progress")
)

// Transport is the subset of the adapter the coordinator drives
type Transport interface {
	JoinRoom(roomID int64) error
	LeaveRoom()
	SendMessage(content string) error
	SetHandlers(transport.Handlers)
	State() transport.ConnectionState
}

// RoomService is the REST bootstrap boundary
type RoomService interface {
	RoomByContent(ctx context.Context, contentID int64) (*protocol.RoomJoinResponse, error)
	JoinRoom(ctx context.Context, roomID int64) (*protocol.RoomJoinResponse, error)
	LeaveRoom(ctx context.Context, roomID int64) error
	Messages(ctx context.Context, roomID int64, cursor *string, size int) (*protocol.MessagePage, error)
}

// RoomSession is the active room membership. At most one per coordinator;
// joining another room switches, it never stacks.
type RoomSession struct {
	RoomID    int64
	Title     string
	CreatedAt time.Time
	JoinedAt  time.Time
}

// Coordinator converts raw transport events into the coherent session view
// the UI consumes: deduplicated ordered messages, a presence set derived from
// the event stream, paginated history, and a single current-error slot.
type Coordinator struct {
	transport Transport
	rooms     RoomService
	logger    *slog.Logger
	pageSize  int

	mu           sync.Mutex
	connState    transport.ConnectionState
	session      *RoomSession
	events       []protocol.ChatEvent
	participants map[int64]protocol.Participant
	nextCursor   *string
	hasMore      bool
	joining      bool
	leaving      bool
	loading      bool
	errMsg       string

	onAppend func(protocol.ChatEvent)
	onState  func(transport.ConnectionState)
}

func NewCoordinator(t Transport, rooms RoomService, pageSize int, logger *slog.Logger) *Coordinator {
	if pageSize <= 0 {
		pageSize = 30
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		transport:    t,
		rooms:        rooms,
		logger:       logger,
		pageSize:     pageSize,
		connState:    t.State(),
		participants: make(map[int64]protocol.Participant),
		hasMore:      true,
	}

	t.SetHandlers(transport.Handlers{
		OnMessage:          c.ingest,
		OnUserJoin:         c.upsertParticipant,
		OnUserLeave:        c.removeParticipant,
		OnError:            c.setError,
		OnConnectionChange: c.onConnectionChange,
	})
	return c
}

// SetEventSink registers a callback invoked after each newly stored event.
// Duplicates never reach the sink.
func (c *Coordinator) SetEventSink(fn func(protocol.ChatEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAppend = fn
}

// SetStateSink registers a callback invoked after each connection-state
// change has been absorbed
func (c *Coordinator) SetStateSink(fn func(transport.ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// JoinByContent resolves or creates the room for a content ID and joins it
func (c *Coordinator) JoinByContent(ctx context.Context, contentID int64) error {
	return c.join(ctx, func(ctx context.Context) (*protocol.RoomJoinResponse, error) {
		return c.rooms.RoomByContent(ctx, contentID)
	})
}

// JoinByRoom joins an explicit room
func (c *Coordinator) JoinByRoom(ctx context.Context, roomID int64) error {
	return c.join(ctx, func(ctx context.Context) (*protocol.RoomJoinResponse, error) {
		return c.rooms.JoinRoom(ctx, roomID)
	})
}

// join is all-or-nothing: any failure before the session is stored leaves no
// partial RoomSession behind. A failed history fetch after the join settles
// only fills the error slot.
func (c *Coordinator) join(ctx context.Context, resolve func(context.Context) (*protocol.RoomJoinResponse, error)) error {
	c.mu.Lock()
	if c.joining {
		c.mu.Unlock()
		return ErrJoinInFlight
	}
	if !c.connState.Connected() {
		c.errMsg = transport.ErrNotConnected.Error()
		c.mu.Unlock()
		return transport.ErrNotConnected
	}
	c.joining = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.joining = false
		c.mu.Unlock()
	}()

	resp, err := resolve(ctx)
	if err != nil {
		c.logger.Error("failed to join room", "error", err)
		c.setError(err.Error())
		return err
	}

	if err := c.transport.JoinRoom(resp.RoomID); err != nil {
		c.logger.Error("failed to subscribe to room", "roomID", resp.RoomID, "error", err)
		c.setError(err.Error())
		return err
	}

	c.mu.Lock()
	c.session = &RoomSession{
		RoomID:    resp.RoomID,
		Title:     resp.Title,
		CreatedAt: resp.CreatedAt,
		JoinedAt:  time.Now(),
	}
	c.events = nil
	c.participants = make(map[int64]protocol.Participant, len(resp.Participants))
	for _, p := range resp.Participants {
		c.participants[p.UserID] = p
	}
	c.nextCursor = nil
	c.hasMore = true
	c.errMsg = ""
	c.mu.Unlock()

	c.logger.Info("joined room", "roomID", resp.RoomID, "title", resp.Title, "participants", len(resp.Participants))

	if err := c.loadPage(ctx, resp.RoomID, nil); err != nil {
		// the session itself is live; history is retryable via LoadMore
		c.logger.Warn("initial history load failed", "roomID", resp.RoomID, "error", err)
	}
	return nil
}

// Leave tears the session down: unsubscribe, then reset messages,
// participants, and the pagination cursor. A leave is a full reset, not a
// pause.
func (c *Coordinator) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.joining {
		c.mu.Unlock()
		return ErrJoinInFlight
	}
	if c.session == nil || c.leaving {
		c.mu.Unlock()
		return nil
	}
	c.leaving = true
	roomID := c.session.RoomID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.leaving = false
		c.mu.Unlock()
	}()

	if err := c.rooms.LeaveRoom(ctx, roomID); err != nil {
		c.logger.Error("failed to leave room", "roomID", roomID, "error", err)
		c.setError(err.Error())
		return err
	}

	c.transport.LeaveRoom()

	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()

	c.logger.Info("left room", "roomID", roomID)
	return nil
}

// Send validates connection and membership locally before touching the
// network; the common "not connected yet" case never leaves the process.
func (c *Coordinator) Send(content string) error {
	c.mu.Lock()
	connected := c.connState.Connected()
	joined := c.session != nil
	c.mu.Unlock()

	if !connected {
		c.setError(transport.ErrNotConnected.Error())
		return transport.ErrNotConnected
	}
	if !joined {
		c.setError(transport.ErrNotJoined.Error())
		return transport.ErrNotJoined
	}

	if err := c.transport.SendMessage(content); err != nil {
		c.setError(err.Error())
		return err
	}
	return nil
}

// LoadMore fetches the next older history page. No-op while a fetch is in
// flight, when no cursor is stored yet, or after the server reported the end.
func (c *Coordinator) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil || c.nextCursor == nil || !c.hasMore || c.loading {
		c.mu.Unlock()
		return nil
	}
	roomID := c.session.RoomID
	cursor := c.nextCursor
	c.mu.Unlock()

	return c.loadPage(ctx, roomID, cursor)
}

// loadPage fetches one page. The server serves newest-first; the page is
// reversed before storing so the in-memory sequence stays ascending by
// sentAt. The initial page replaces, older pages prepend.
func (c *Coordinator) loadPage(ctx context.Context, roomID int64, cursor *string) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	page, err := c.rooms.Messages(ctx, roomID, cursor, c.pageSize)
	if err != nil {
		c.logger.Error("failed to load messages", "roomID", roomID, "error", err)
		c.setError(err.Error())
		return err
	}

	reversed := make([]protocol.ChatEvent, len(page.Messages))
	for i, ev := range page.Messages {
		reversed[len(page.Messages)-1-i] = ev
	}

	c.mu.Lock()
	if cursor == nil {
		c.events = reversed
	} else {
		c.events = append(reversed, c.events...)
	}
	c.nextCursor = page.NextCursor
	c.hasMore = page.HasNext
	c.mu.Unlock()

	c.logger.Debug("history page loaded", "roomID", roomID, "count", len(page.Messages), "hasMore", page.HasNext)
	return nil
}

// ClearError empties the error slot
func (c *Coordinator) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errMsg = ""
}

// RoomID returns the active room, if any
func (c *Coordinator) RoomID() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0, false
	}
	return c.session.RoomID, true
}

// HasSession reports whether a room is currently joined
func (c *Coordinator) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// ingest stores an inbound event unless it duplicates one already stored.
// Duplicates are dropped silently; they never replace the stored entry.
func (c *Coordinator) ingest(ev protocol.ChatEvent) {
	c.mu.Lock()
	for _, existing := range c.events {
		if existing.SameEvent(ev) {
			c.mu.Unlock()
			c.logger.Debug("duplicate event dropped", "type", ev.Type.String(), "userID", ev.UserID)
			return
		}
	}
	c.events = append(c.events, ev)
	sink := c.onAppend
	c.mu.Unlock()

	if sink != nil {
		sink(ev)
	}
}

// upsertParticipant adds a participant; a redundant join signal for a known
// user is a no-op, never a second entry
func (c *Coordinator) upsertParticipant(p protocol.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.participants[p.UserID]; ok {
		return
	}
	c.participants[p.UserID] = p
}

// removeParticipant drops a participant by key; unknown users are a no-op
func (c *Coordinator) removeParticipant(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.participants, userID)
}

func (c *Coordinator) setError(msg string) {
	c.mu.Lock()
	c.errMsg = msg
	c.mu.Unlock()
	c.logger.Warn("session error", "message", msg)
}

func (c *Coordinator) onConnectionChange(s transport.ConnectionState) {
	c.mu.Lock()
	c.connState = s
	var sink func(transport.ConnectionState)
	if s.Phase == transport.PhaseFailed && c.session != nil {
		// unrecoverable disconnect destroys the session
		c.logger.Warn("connection failed, dropping session", "reason", s.Reason)
		c.resetLocked()
		c.errMsg = s.Reason
	}
	sink = c.onState
	c.mu.Unlock()

	if sink != nil {
		sink(s)
	}
}

// resetLocked clears all session-scoped state back to defaults
func (c *Coordinator) resetLocked() {
	c.session = nil
	c.events = nil
	c.participants = make(map[int64]protocol.Participant)
	c.nextCursor = nil
	c.hasMore = true
}
