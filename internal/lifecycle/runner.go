package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"livewatch-client/internal/session"
	"livewatch-client/internal/transport"
)

const leaveTimeout = 5 * time.Second

// Transport is the subset of the adapter the runner owns the lifetime of
type Transport interface {
	Connect()
	Disconnect()
	SetHandlers(transport.Handlers)
}

// UnloadNotifier sends the best-effort leave on shutdown
type UnloadNotifier interface {
	LeaveOnUnload(roomID int64)
}

// Runner binds a coordinator's lifetime to the hosting component: connect on
// start, auto-join once connected, leave and disconnect exactly once on stop.
// Room changes in between never bounce the transport connection.
type Runner struct {
	transport Transport
	coord     *session.Coordinator
	unload    UnloadNotifier
	contentID int64
	alert     func(string)
	logger    *slog.Logger

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	joinActive bool

	stopOnce sync.Once
}

// NewRunner wires the runner. alert is invoked for unexpected disconnections
// only; it may be nil.
func NewRunner(t Transport, coord *session.Coordinator, unload UnloadNotifier, contentID int64, alert func(string), logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		transport: t,
		coord:     coord,
		unload:    unload,
		contentID: contentID,
		alert:     alert,
		logger:    logger,
	}
}

// Start connects the transport and arms the auto-join. Idempotent only in the
// sense that the transport ignores redundant connects; callers are expected
// to pair one Start with one Stop.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	// the coordinator owns the transport callbacks; the runner taps the
	// absorbed state stream and the disconnection classification instead
	r.coord.SetStateSink(r.onConnectionChange)
	r.transport.SetHandlers(transport.Handlers{
		OnDisconnection: r.onDisconnection,
	})

	r.logger.Info("lifecycle started", "contentID", r.contentID)
	r.transport.Connect()
}

// Stop leaves the room synchronously, then disconnects. Safe to call more
// than once; only the first call acts.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		if r.cancel != nil {
			r.cancel()
		}
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()

		if err := r.coord.Leave(ctx); err != nil {
			r.logger.Warn("leave on stop failed", "error", err)
		}
		r.transport.Disconnect()
		r.logger.Info("lifecycle stopped")
	})
}

// NotifyUnload fires the best-effort leave for an abrupt shutdown. It does
// not wait for delivery.
func (r *Runner) NotifyUnload() {
	roomID, ok := r.coord.RoomID()
	if !ok {
		return
	}
	r.logger.Debug("sending unload leave", "roomID", roomID)
	r.unload.LeaveOnUnload(roomID)
}

// Run is the blocking convenience form: start, wait for ctx cancellation
// (e.g. a signal), fire the unload notification, stop.
func (r *Runner) Run(ctx context.Context) {
	r.Start(ctx)
	<-ctx.Done()
	r.NotifyUnload()
	r.Stop()
}

// onConnectionChange arms the auto-join: once the connection reaches
// Connected and no session is active, join exactly once. A later Connected
// transition may retry after a failed attempt, but an existing session never
// re-triggers it.
func (r *Runner) onConnectionChange(s transport.ConnectionState) {
	if !s.Connected() {
		return
	}
	if r.coord.HasSession() {
		return
	}

	r.mu.Lock()
	if r.joinActive || r.ctx == nil || r.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.joinActive = true
	ctx := r.ctx
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			r.joinActive = false
			r.mu.Unlock()
		}()

		if err := r.coord.JoinByContent(ctx, r.contentID); err != nil {
			r.logger.Error("auto-join failed", "contentID", r.contentID, "error", err)
		}
	}()
}

func (r *Runner) onDisconnection(info transport.DisconnectionInfo) {
	if !info.Unexpected() {
		r.logger.Debug("normal disconnection", "message", info.Message)
		return
	}

	r.logger.Warn("unexpected disconnection", "reason", string(info.Reason), "message", info.Message)
	if r.alert != nil {
		r.alert(fmt.Sprintf("live connection lost: %s (%s)", info.Message, info.Timestamp.Format("15:04:05")))
	}
}
