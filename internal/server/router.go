package server

import (
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"

	"livewatch-client/internal/livewatch"
	"livewatch-client/internal/protocol"
)

// Router wires the dev server's REST bootstrap endpoints and the websocket
// entry point
type Router struct {
	engine    *gin.Engine
	hub       *Hub
	registry  *Registry
	jwtSecret string
	logger    *slog.Logger
}

func NewRouter(hub *Hub, registry *Registry, jwtSecret string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		engine:    gin.New(),
		hub:       hub,
		registry:  registry,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) SetupRoutes() {
	r.engine.Use(gin.Recovery())

	// dev convenience: mint a token for an arbitrary identity
	r.engine.POST("/api/auth/token", r.issueToken)

	api := r.engine.Group("/api/livewatch", Auth(r.jwtSecret))
	{
		api.GET("/rooms/content/:contentId", r.joinByContent)
		api.POST("/rooms/:roomId/join", r.joinByRoom)
		api.POST("/rooms/:roomId/leave", r.leaveRoom)
		api.GET("/rooms/:roomId/messages", r.messages)
	}

	r.engine.GET("/ws", WSAuth(r.jwtSecret), r.serveWS)
}

func (r *Router) issueToken(c *gin.Context) {
	var req struct {
		UserID   int64  `json:"userId" binding:"required"`
		UserName string `json:"userName" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, protocol.ErrorPayload{Message: "userId and userName are required"})
		return
	}

	token, err := GenerateToken(r.jwtSecret, req.UserID, req.UserName, 24*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, protocol.ErrorPayload{Message: "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (r *Router) joinByContent(c *gin.Context) {
	contentID, err := strconv.ParseInt(c.Param("contentId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, protocol.ErrorPayload{Message: "invalid content id"})
		return
	}

	user := identityFrom(c)
	resp := r.registry.JoinByContent(contentID, user)
	r.hub.BroadcastEvent(resp.RoomID, protocol.NewJoinEvent(user.UserID, user.UserName, time.Now()))
	c.JSON(http.StatusOK, resp)
}

func (r *Router) joinByRoom(c *gin.Context) {
	roomID, ok := roomIDFrom(c)
	if !ok {
		return
	}

	user := identityFrom(c)
	resp, err := r.registry.Join(roomID, user)
	if err != nil {
		c.JSON(http.StatusNotFound, protocol.ErrorPayload{Message: err.Error()})
		return
	}
	r.hub.BroadcastEvent(roomID, protocol.NewJoinEvent(user.UserID, user.UserName, time.Now()))
	c.JSON(http.StatusOK, resp)
}

func (r *Router) leaveRoom(c *gin.Context) {
	roomID, ok := roomIDFrom(c)
	if !ok {
		return
	}

	user := identityFrom(c)
	if err := r.registry.Leave(roomID, user.UserID); err != nil {
		c.JSON(http.StatusNotFound, protocol.ErrorPayload{Message: err.Error()})
		return
	}
	r.hub.BroadcastEvent(roomID, protocol.NewLeaveEvent(user.UserID, user.UserName, time.Now()))
	c.JSON(http.StatusOK, gin.H{"message": "left room"})
}

func (r *Router) messages(c *gin.Context) {
	roomID, ok := roomIDFrom(c)
	if !ok {
		return
	}

	size := livewatch.DefaultPageSize
	if s := c.Query("size"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			size = parsed
		}
	}

	var cursor *string
	if s := c.Query("cursor"); s != "" {
		cursor = &s
	}

	page, err := r.registry.Messages(roomID, cursor, size)
	if err != nil {
		c.JSON(http.StatusBadRequest, protocol.ErrorPayload{Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (r *Router) serveWS(c *gin.Context) {
	user := identityFrom(c)
	ServeWS(r.hub, c.Writer, c.Request, user.UserID, user.UserName)
}

func roomIDFrom(c *gin.Context) (int64, bool) {
	roomID, err := strconv.ParseInt(c.Param("roomId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, protocol.ErrorPayload{Message: "invalid room id"})
		return 0, false
	}
	return roomID, true
}

func identityFrom(c *gin.Context) protocol.Participant {
	return protocol.Participant{
		UserID:   c.GetInt64("user_id"),
		UserName: c.GetString("user_name"),
	}
}
