package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/timmy/lookbook/internal/api/middleware"
	"github.com/timmy/lookbook/internal/domain"
	"github.com/timmy/lookbook/internal/service"
)

const (
	eventsWriteWait = 10 * time.Second
	eventsPongWait  = 60 * time.Second
	eventsPingEvery = (eventsPongWait * 9) / 10
)

// EventsHandler streams graph events of a workspace over a websocket.
type EventsHandler struct {
	hub      *service.Hub
	upgrader websocket.Upgrader
}

// NewEventsHandler creates a new events handler. allowOrigin decides which
// browser origins may connect; nil allows all.
func NewEventsHandler(hub *service.Hub, allowOrigin func(origin string) bool) *EventsHandler {
	return &EventsHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowOrigin == nil || origin == "" || allowOrigin(origin)
			},
		},
	}
}

// EventMessage is one frame sent to the client.
type EventMessage struct {
	Type        string           `json:"type"`
	WorkspaceID string           `json:"workspace_id"`
	Artifact    *domain.Artifact `json:"artifact,omitempty"`
}

// Stream handles GET /api/v1/workspaces/:workspace/events.
// The first frame is "subscribed"; each graph change follows as its event type.
// Clients that fall behind miss events and should reload the layout.
func (h *EventsHandler) Stream(c *gin.Context) {
	workspaceID := c.Param("workspace")
	if err := service.ValidateWorkspaceID(workspaceID); err != nil {
		respondError(c, "Subscribe", err)
		return
	}
	log := middleware.GetLogger(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, unsubscribe := h.hub.Subscribe(workspaceID)
	defer unsubscribe()

	if err := conn.SetReadDeadline(time.Now().Add(eventsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		ticker := time.NewTicker(eventsPingEvery)
		defer ticker.Stop()

		write := func(msg EventMessage) bool {
			if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteWait)); err != nil {
				return false
			}
			return conn.WriteJSON(msg) == nil
		}
		if !write(EventMessage{Type: "subscribed", WorkspaceID: workspaceID}) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				artifact := evt.Artifact
				if !write(EventMessage{Type: string(evt.Type), WorkspaceID: evt.WorkspaceID, Artifact: &artifact}) {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	log.Info("Event stream opened")
	// Client frames are ignored; reading drives pong handling and notices closes.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	cancel()
	<-writerDone
	log.Info("Event stream closed")
}
