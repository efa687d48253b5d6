package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"livewatch-client/internal/auth"
	"livewatch-client/internal/protocol"
)

var (
	ErrNotConnected = errors.New("websocket is not connected")
	ErrNotJoined    = errors.New("not joined to any room")
	ErrEmptyMessage = errors.New("message content cannot be empty")
	ErrBufferFull   = errors.New("send buffer full")
)

const (
	// Outbound frame queue per connection
	sendBufferSize = 64

	defaultHeartbeatInterval = 4 * time.Second
	defaultPongWait          = 10 * time.Second
	defaultWriteWait         = 10 * time.Second
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = 5 * time.Second
)

// Options configure the adapter. Zero values fall back to defaults.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws
	URL string

	// HeartbeatInterval is the ping period. Must be less than PongWait.
	HeartbeatInterval time.Duration

	// PongWait is the read deadline; a silent peer past this window counts
	// as a network-reason disconnection.
	PongWait time.Duration

	// WriteWait is the per-write deadline
	WriteWait time.Duration

	// ReconnectAttempts bounds automatic reconnection after an unexpected
	// disconnection. Exhausting it leaves the adapter in PhaseFailed.
	ReconnectAttempts int

	// ReconnectDelay is the backoff step; the wait before attempt n is
	// n * ReconnectDelay (linear, matching the product behavior).
	ReconnectDelay time.Duration

	Logger *slog.Logger
}

type connection struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *connection) stop() {
	c.once.Do(func() { close(c.done) })
}

// Adapter owns one physical websocket connection and its subscriptions, and
// translates between wire frames and typed domain callbacks. It is the sole
// owner of ConnectionState; consumers observe transitions, they never set
// them.
type Adapter struct {
	opts   Options
	tokens auth.TokenSource
	logger *slog.Logger

	mu      sync.Mutex
	state   ConnectionState
	cur     *connection
	closing bool
	stop    chan struct{} // closed on Disconnect to cancel a pending reconnect backoff
	roomID  *int64
	subs    map[string]string // destination -> subscription id

	hmu      sync.RWMutex
	handlers Handlers
}

func NewAdapter(opts Options, tokens auth.TokenSource) *Adapter {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = defaultReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{
		opts:   opts,
		tokens: tokens,
		logger: logger,
		state:  ConnectionState{Phase: PhaseDisconnected},
		subs:   make(map[string]string),
	}
}

// SetHandlers merges the given callbacks into the registered set. Nil fields
// keep whatever was registered before.
func (a *Adapter) SetHandlers(h Handlers) {
	a.hmu.Lock()
	defer a.hmu.Unlock()
	a.handlers.merge(h)
}

// State returns the current connection state
func (a *Adapter) State() ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// IsConnected reports whether the connection is usable
func (a *Adapter) IsConnected() bool {
	return a.State().Connected()
}

// Connect establishes the websocket connection. Calling while already
// connecting or connected is a no-op. A missing or expired credential fails
// fast without a network attempt.
func (a *Adapter) Connect() {
	a.mu.Lock()
	if a.state.Phase == PhaseConnecting || a.state.Phase == PhaseConnected {
		a.mu.Unlock()
		a.logger.Debug("connect ignored, already active")
		return
	}

	token, err := a.tokens.Token()
	if err != nil {
		state := ConnectionState{Phase: PhaseFailed, Reason: err.Error()}
		a.state = state
		a.mu.Unlock()
		a.logger.Warn("connect refused, no usable credential", "error", err)
		a.emitConnectionChange(state)
		return
	}

	a.closing = false
	a.stop = make(chan struct{})
	state := ConnectionState{Phase: PhaseConnecting}
	a.state = state
	a.mu.Unlock()
	a.emitConnectionChange(state)

	if reason, err := a.dial(token); err != nil {
		msg := err.Error()
		a.transition(ConnectionState{Phase: PhaseFailed, Reason: msg})
		a.emitDisconnection(DisconnectionInfo{Reason: reason, Message: msg, Timestamp: time.Now()})
	}
}

// Disconnect tears the connection down cleanly. Always safe to call; releases
// all subscriptions.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	a.closing = true
	a.stopLocked()
	conn := a.cur
	a.cur = nil
	a.roomID = nil
	a.subs = make(map[string]string)
	a.mu.Unlock()

	if conn != nil {
		conn.stop()
		conn.ws.Close()
	}

	a.transition(ConnectionState{Phase: PhaseDisconnected})
	if conn != nil {
		a.logger.Info("websocket disconnected")
		a.emitDisconnection(DisconnectionInfo{
			Reason:    DisconnectNormal,
			Message:   "connection closed",
			Timestamp: time.Now(),
		})
	}
}

// JoinRoom subscribes to the room's message and event topics plus the
// connection-scoped error queue. Joining a different room first unsubscribes
// the previous room's topics (switch, not stack). Rejoining the current room
// is a no-op.
func (a *Adapter) JoinRoom(roomID int64) error {
	a.mu.Lock()
	if a.state.Phase != PhaseConnected || a.cur == nil {
		a.mu.Unlock()
		return ErrNotConnected
	}
	conn := a.cur

	var frames []*protocol.Frame
	if a.roomID != nil && *a.roomID != roomID {
		a.logger.Info("switching rooms", "from", *a.roomID, "to", roomID)
		frames = append(frames, a.unsubscribeRoomLocked(*a.roomID)...)
		a.roomID = nil
	}
	if a.roomID == nil {
		frames = append(frames, a.subscribeRoomLocked(roomID)...)
		a.roomID = &roomID
	}
	a.mu.Unlock()

	for _, f := range frames {
		if err := a.enqueue(conn, f); err != nil {
			return err
		}
	}
	if len(frames) > 0 {
		a.logger.Info("joined room", "roomID", roomID)
	}
	return nil
}

// LeaveRoom unsubscribes the current room's topics. Safe to call when no room
// is joined.
func (a *Adapter) LeaveRoom() {
	a.mu.Lock()
	if a.roomID == nil {
		a.mu.Unlock()
		return
	}
	roomID := *a.roomID
	frames := a.unsubscribeRoomLocked(roomID)
	a.roomID = nil
	conn := a.cur
	connected := a.state.Phase == PhaseConnected && conn != nil
	a.mu.Unlock()

	if connected {
		for _, f := range frames {
			if err := a.enqueue(conn, f); err != nil {
				a.logger.Debug("unsubscribe not delivered", "error", err)
			}
		}
	}
	a.logger.Info("left room", "roomID", roomID)
}

// SendMessage publishes a chat message to the joined room. Requires a live
// connection, an active room, and non-empty content after trimming.
func (a *Adapter) SendMessage(content string) error {
	content = strings.TrimSpace(content)

	a.mu.Lock()
	conn := a.cur
	connected := a.state.Phase == PhaseConnected && conn != nil
	room := a.roomID
	a.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	if room == nil {
		return ErrNotJoined
	}
	if content == "" {
		return ErrEmptyMessage
	}

	frame, err := protocol.NewSendFrame(protocol.SendDestination, protocol.SendMessageRequest{
		LiveWatchRoomID: *room,
		Content:         content,
	})
	if err != nil {
		return err
	}
	return a.enqueue(conn, frame)
}

func (a *Adapter) subscribeRoomLocked(roomID int64) []*protocol.Frame {
	var frames []*protocol.Frame
	for _, dest := range []string{protocol.MessagesTopic(roomID), protocol.EventsTopic(roomID)} {
		id := uuid.New().String()
		a.subs[dest] = id
		frames = append(frames, protocol.NewSubscribeFrame(id, dest))
	}
	// the error queue is connection-scoped; subscribe once and keep it
	// across room switches
	if _, ok := a.subs[protocol.ErrorQueue]; !ok {
		id := uuid.New().String()
		a.subs[protocol.ErrorQueue] = id
		frames = append(frames, protocol.NewSubscribeFrame(id, protocol.ErrorQueue))
	}
	return frames
}

func (a *Adapter) unsubscribeRoomLocked(roomID int64) []*protocol.Frame {
	var frames []*protocol.Frame
	for _, dest := range []string{protocol.MessagesTopic(roomID), protocol.EventsTopic(roomID)} {
		if id, ok := a.subs[dest]; ok {
			frames = append(frames, protocol.NewUnsubscribeFrame(id, dest))
			delete(a.subs, dest)
		}
	}
	return frames
}

func (a *Adapter) dial(token string) (DisconnectReason, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.Dial(a.opts.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			a.logger.Error("websocket handshake rejected", "status", resp.StatusCode)
			return DisconnectError, fmt.Errorf("handshake rejected with status %d", resp.StatusCode)
		}
		a.logger.Error("websocket dial failed", "url", a.opts.URL, "error", err)
		return DisconnectNetwork, fmt.Errorf("dial %s: %w", a.opts.URL, err)
	}

	conn := &connection{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	a.mu.Lock()
	a.cur = conn
	// restore the active room's subscriptions after a reconnect. The error
	// queue died with the old socket, so it needs a fresh subscription.
	var resub []*protocol.Frame
	if a.roomID != nil {
		roomID := *a.roomID
		for _, dest := range []string{protocol.MessagesTopic(roomID), protocol.EventsTopic(roomID)} {
			if id, ok := a.subs[dest]; ok {
				resub = append(resub, protocol.NewSubscribeFrame(id, dest))
			}
		}
		if _, ok := a.subs[protocol.ErrorQueue]; !ok {
			id := uuid.New().String()
			a.subs[protocol.ErrorQueue] = id
			resub = append(resub, protocol.NewSubscribeFrame(id, protocol.ErrorQueue))
		}
	}
	a.mu.Unlock()

	go a.writePump(conn)
	go a.readPump(conn)

	a.logger.Info("websocket connected", "url", a.opts.URL)
	a.transition(ConnectionState{Phase: PhaseConnected})

	for _, f := range resub {
		if err := a.enqueue(conn, f); err != nil {
			a.logger.Warn("resubscribe not delivered", "destination", f.Destination, "error", err)
		}
	}
	return "", nil
}

func (a *Adapter) readPump(conn *connection) {
	defer conn.ws.Close()

	conn.ws.SetReadDeadline(time.Now().Add(a.opts.PongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(a.opts.PongWait))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			a.handleReadError(conn, err)
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			a.logger.Error("failed to parse frame", "error", err)
			a.emitError("failed to parse server frame")
			continue
		}
		a.dispatch(conn, frame)
	}
}

func (a *Adapter) writePump(conn *connection) {
	ticker := time.NewTicker(a.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(a.opts.WriteWait))
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				a.logger.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(a.opts.WriteWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				a.logger.Debug("ping failed", "error", err)
				return
			}

		case <-conn.done:
			conn.ws.SetWriteDeadline(time.Now().Add(a.opts.WriteWait))
			conn.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// dispatch routes a server frame. Frames are processed inline on the read
// goroutine, so delivery order is preserved.
func (a *Adapter) dispatch(conn *connection, frame protocol.Frame) {
	switch frame.Type {
	case protocol.FrameMessage:
		a.dispatchMessage(frame)

	case protocol.FrameError:
		var p protocol.ErrorPayload
		_ = json.Unmarshal(frame.Body, &p)
		msg := p.Message
		if msg == "" {
			msg = "unknown server error"
		}
		a.logger.Error("protocol error from server", "message", msg)
		// protocol-level rejections need a fresh credential, not a retry
		a.fail(conn, DisconnectError, msg)

	default:
		a.logger.Warn("unexpected frame from server", "type", frame.Type.String())
	}
}

func (a *Adapter) dispatchMessage(frame protocol.Frame) {
	switch {
	case frame.Destination == protocol.ErrorQueue:
		var p protocol.ErrorPayload
		if err := json.Unmarshal(frame.Body, &p); err != nil {
			a.logger.Error("failed to parse error payload", "error", err)
			a.emitError("failed to parse error payload")
			return
		}
		msg := p.Message
		if msg == "" {
			msg = "unknown server error"
		}
		a.logger.Warn("server rejected action", "message", msg)
		a.emitError(msg)

	case protocol.IsMessagesTopic(frame.Destination):
		var ev protocol.ChatEvent
		if err := json.Unmarshal(frame.Body, &ev); err != nil {
			a.logger.Error("failed to parse chat message", "error", err)
			a.emitError("failed to parse chat message")
			return
		}
		a.emitMessage(ev)

	case protocol.IsEventsTopic(frame.Destination):
		var ev protocol.ChatEvent
		if err := json.Unmarshal(frame.Body, &ev); err != nil {
			a.logger.Error("failed to parse event message", "error", err)
			a.emitError("failed to parse event message")
			return
		}
		// the event lands in the chat log first, then updates presence
		a.emitMessage(ev)
		switch ev.Type {
		case protocol.MessageKindJoin:
			a.emitUserJoin(protocol.Participant{
				UserID:         ev.UserID,
				UserName:       ev.UserName,
				ParticipatedAt: ev.SentAt,
			})
		case protocol.MessageKindLeave:
			a.emitUserLeave(ev.UserID)
		}

	default:
		a.logger.Debug("frame for unknown destination dropped", "destination", frame.Destination)
	}
}

func (a *Adapter) handleReadError(conn *connection, err error) {
	a.mu.Lock()
	if a.cur != conn {
		// superseded connection; whoever replaced it already cleaned up
		a.mu.Unlock()
		return
	}
	a.cur = nil
	closing := a.closing
	stop := a.stop
	// the connection-scoped error queue died with the socket; the next dial
	// or join must subscribe it afresh
	delete(a.subs, protocol.ErrorQueue)
	a.mu.Unlock()
	conn.stop()

	if closing {
		// explicit Disconnect in progress; it owns state and notification
		return
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		a.logger.Error("websocket closed unexpectedly", "error", err)
	} else {
		a.logger.Debug("websocket closed", "error", err)
	}

	// the socket is already gone; state must say so before the backoff starts
	a.transition(ConnectionState{Phase: PhaseConnecting})
	a.emitDisconnection(DisconnectionInfo{
		Reason:    DisconnectNetwork,
		Message:   fmt.Sprintf("connection lost: %v", err),
		Timestamp: time.Now(),
	})
	go a.reconnect(stop)
}

// stopLocked cancels a pending reconnect backoff. Caller holds mu.
func (a *Adapter) stopLocked() {
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
}

// fail tears down after a protocol-level rejection. No automatic retry.
func (a *Adapter) fail(conn *connection, reason DisconnectReason, msg string) {
	a.mu.Lock()
	if a.cur == conn {
		a.cur = nil
	}
	a.closing = true
	a.stopLocked()
	a.mu.Unlock()

	conn.stop()
	conn.ws.Close()

	a.transition(ConnectionState{Phase: PhaseFailed, Reason: msg})
	a.emitDisconnection(DisconnectionInfo{Reason: reason, Message: msg, Timestamp: time.Now()})
}

// reconnect runs the bounded linear-backoff loop after a network-reason
// disconnection. The credential is re-read on every attempt so a refreshed
// token is picked up. stop belongs to the connection generation that lost the
// socket; Disconnect closes it, cancelling the backoff wait.
func (a *Adapter) reconnect(stop chan struct{}) {
	for attempt := 1; attempt <= a.opts.ReconnectAttempts; attempt++ {
		timer := time.NewTimer(time.Duration(attempt) * a.opts.ReconnectDelay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		a.mu.Lock()
		closing := a.closing
		a.mu.Unlock()
		if closing {
			return
		}

		token, err := a.tokens.Token()
		if err != nil {
			a.logger.Warn("reconnect aborted, no usable credential", "error", err)
			a.transition(ConnectionState{Phase: PhaseFailed, Reason: err.Error()})
			return
		}

		a.transition(ConnectionState{Phase: PhaseConnecting})
		a.logger.Info("reconnecting", "attempt", attempt, "max", a.opts.ReconnectAttempts)

		reason, err := a.dial(token)
		if err == nil {
			return
		}
		if reason == DisconnectError {
			// handshake rejection: retrying with the same class of
			// credential cannot succeed
			a.transition(ConnectionState{Phase: PhaseFailed, Reason: err.Error()})
			a.emitDisconnection(DisconnectionInfo{Reason: reason, Message: err.Error(), Timestamp: time.Now()})
			return
		}
		a.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}

	a.logger.Error("reconnect attempts exhausted", "attempts", a.opts.ReconnectAttempts)
	a.transition(ConnectionState{Phase: PhaseFailed, Reason: "reconnect attempts exhausted"})
}

func (a *Adapter) enqueue(conn *connection, frame *protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	select {
	case <-conn.done:
		return ErrNotConnected
	case conn.send <- data:
		return nil
	default:
		a.logger.Warn("send buffer full, dropping frame", "type", frame.Type.String())
		return ErrBufferFull
	}
}

func (a *Adapter) transition(next ConnectionState) {
	a.mu.Lock()
	if a.state == next {
		a.mu.Unlock()
		return
	}
	prev := a.state
	a.state = next
	a.mu.Unlock()

	a.logger.Debug("connection state changed", "from", prev.Phase.String(), "to", next.Phase.String(), "reason", next.Reason)
	a.emitConnectionChange(next)
}

func (a *Adapter) emitMessage(ev protocol.ChatEvent) {
	a.hmu.RLock()
	h := a.handlers.OnMessage
	a.hmu.RUnlock()
	if h != nil {
		h(ev)
	}
}

func (a *Adapter) emitUserJoin(p protocol.Participant) {
	a.hmu.RLock()
	h := a.handlers.OnUserJoin
	a.hmu.RUnlock()
	if h != nil {
		h(p)
	}
}

func (a *Adapter) emitUserLeave(userID int64) {
	a.hmu.RLock()
	h := a.handlers.OnUserLeave
	a.hmu.RUnlock()
	if h != nil {
		h(userID)
	}
}

func (a *Adapter) emitError(msg string) {
	a.hmu.RLock()
	h := a.handlers.OnError
	a.hmu.RUnlock()
	if h != nil {
		h(msg)
	}
}

func (a *Adapter) emitConnectionChange(s ConnectionState) {
	a.hmu.RLock()
	h := a.handlers.OnConnectionChange
	a.hmu.RUnlock()
	if h != nil {
		h(s)
	}
}

func (a *Adapter) emitDisconnection(info DisconnectionInfo) {
	a.hmu.RLock()
	h := a.handlers.OnDisconnection
	a.hmu.RUnlock()
	if h != nil {
		h(info)
	}
}
