package server

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"log/slog"

	"livewatch-client/internal/protocol"
)

type clientFrame struct {
	client *Client
	frame  *protocol.Frame
}

type topicFrame struct {
	destination string
	frame       *protocol.Frame
}

// Hub routes frames between connected clients and topics. All map access
// happens on the Run goroutine; external callers talk to it over channels.
type Hub struct {
	registry *Registry

	// Registered clients
	clients map[*Client]bool

	// Topic subscriptions: destination -> client -> subscription id
	subs map[string]map[*Client]string

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Frames received from clients
	inbound chan *clientFrame

	// Frames pushed by REST handlers (join/leave events)
	outbound chan *topicFrame

	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

func NewHub(registry *Registry, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		registry:   registry,
		clients:    make(map[*Client]bool),
		subs:       make(map[string]map[*Client]string),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *clientFrame, 64),
		outbound:   make(chan *topicFrame, 64),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case cf := <-h.inbound:
			h.handleFrame(cf)

		case tf := <-h.outbound:
			h.fanout(tf.destination, tf.frame)

		case <-h.ctx.Done():
			h.logger.Info("hub shutting down")
			return
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()
}

// BroadcastEvent pushes a join/leave event onto a room's event topic. Called
// from REST handlers; delivery happens on the hub goroutine.
func (h *Hub) BroadcastEvent(roomID int64, ev protocol.ChatEvent) {
	frame, err := protocol.NewMessageFrame(protocol.EventsTopic(roomID), ev)
	if err != nil {
		h.logger.Error("failed to build event frame", "error", err)
		return
	}

	select {
	case h.outbound <- &topicFrame{destination: protocol.EventsTopic(roomID), frame: frame}:
	case <-h.ctx.Done():
	case <-time.After(5 * time.Second):
		h.logger.Warn("timeout broadcasting event", "roomID", roomID)
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clients[client] = true
	h.logger.Info("client registered", "clientID", client.id, "userID", client.userID)
}

func (h *Hub) unregisterClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for dest, clients := range h.subs {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.subs, dest)
		}
	}
	client.closeSend()
	h.logger.Info("client unregistered", "clientID", client.id, "userID", client.userID)
}

func (h *Hub) handleFrame(cf *clientFrame) {
	client, frame := cf.client, cf.frame

	if err := frame.Validate(); err != nil {
		h.sendError(client, err.Error())
		return
	}

	switch frame.Type {
	case protocol.FrameSubscribe:
		if h.subs[frame.Destination] == nil {
			h.subs[frame.Destination] = make(map[*Client]string)
		}
		h.subs[frame.Destination][client] = frame.ID
		h.logger.Debug("subscribed", "clientID", client.id, "destination", frame.Destination)

	case protocol.FrameUnsubscribe:
		if clients, ok := h.subs[frame.Destination]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.subs, frame.Destination)
			}
		}
		h.logger.Debug("unsubscribed", "clientID", client.id, "destination", frame.Destination)

	case protocol.FrameSend:
		h.handleSend(client, frame)

	default:
		h.sendError(client, "unsupported frame type: "+frame.Type.String())
	}
}

func (h *Hub) handleSend(client *Client, frame *protocol.Frame) {
	if frame.Destination != protocol.SendDestination {
		h.sendError(client, "unknown destination: "+frame.Destination)
		return
	}

	var req protocol.SendMessageRequest
	if err := json.Unmarshal(frame.Body, &req); err != nil {
		h.sendError(client, "invalid message payload")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		h.sendError(client, "message content cannot be empty")
		return
	}

	ev, err := h.registry.AppendChat(req.LiveWatchRoomID, client.userID, client.userName, strings.TrimSpace(req.Content))
	if err != nil {
		h.sendError(client, err.Error())
		return
	}

	dest := protocol.MessagesTopic(req.LiveWatchRoomID)
	out, err := protocol.NewMessageFrame(dest, ev)
	if err != nil {
		h.logger.Error("failed to build message frame", "error", err)
		return
	}
	h.fanout(dest, out)
}

func (h *Hub) fanout(destination string, frame *protocol.Frame) {
	clients, ok := h.subs[destination]
	if !ok || len(clients) == 0 {
		return
	}

	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to marshal frame", "error", err)
		return
	}

	for client := range clients {
		if !client.trySend(data) {
			h.logger.Warn("client send buffer full, dropping frame", "clientID", client.id)
		}
	}
	h.logger.Debug("frame fanned out", "destination", destination, "clients", len(clients))
}

// sendError pushes an application error onto the client's error queue. The
// connection stays up.
func (h *Hub) sendError(client *Client, message string) {
	frame, err := protocol.NewMessageFrame(protocol.ErrorQueue, protocol.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	client.trySend(data)
	h.logger.Debug("error sent to client", "clientID", client.id, "message", message)
}
