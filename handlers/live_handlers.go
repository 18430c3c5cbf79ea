// api/handlers/live_handlers.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pulsetrack/api/models"
	"pulsetrack/api/presence"
	"pulsetrack/api/realtime"
	"pulsetrack/api/store"
	"pulsetrack/api/utils"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	// Must be shorter than pongTimeout so the peer answers in time.
	pingPeriod = 30 * time.Second

	maxInboundMessageSize = 16 * 1024
)

// LiveHandlers upgrades tracker and dashboard connections to websockets
// and bridges them to the presence engine and the realtime bus.
type LiveHandlers struct {
	Engine   *presence.Engine
	Bus      realtime.Bus
	Store    *store.AnalyticsStore
	upgrader websocket.Upgrader
}

func NewLiveHandlers(engine *presence.Engine, bus realtime.Bus, analytics *store.AnalyticsStore) *LiveHandlers {
	return &LiveHandlers{
		Engine: engine,
		Bus:    bus,
		Store:  analytics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is enforced by the CORS layer; trackers run on
			// arbitrary customer domains.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// visitorMessage is what a tracker sends on its socket: either a plain
// tracker event, or a navigation update carrying the visited pages.
type visitorMessage struct {
	models.Event
	Pages []string `json:"pages,omitempty"`
}

// VisitorSocket is the tracker-side connection. Events received on it
// drive the presence engine and are persisted; closing the socket is the
// disconnect signal that removes the visitor from live state.
func (h *LiveHandlers) VisitorSocket(c *gin.Context) {
	websiteName := c.Query("website")
	if websiteName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "website query parameter is required"})
		return
	}
	visitorID := c.Query("visitorId")
	if visitorID == "" {
		visitorID = utils.GenerateVisitorID()
	}
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		sessionID = utils.GenerateSessionID()
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade visitor connection")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := h.Bus.Subscribe(ctx, realtime.VisitorGroup(websiteName))
	if err != nil {
		log.Warn().Err(err).Str("website", websiteName).Msg("Failed to subscribe visitor to bus")
		return
	}

	// The tracker needs its identifiers back so it can tag later batches.
	if err := writeJSON(conn, gin.H{"type": "connected", "visitorId": visitorID, "sessionId": sessionID}); err != nil {
		return
	}

	go h.writeLoop(ctx, conn, events)

	conn.SetReadLimit(maxInboundMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg visitorMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warn().Err(err).Str("website", websiteName).Msg("Dropping undecodable visitor message")
			continue
		}

		// The connection is authoritative for identity; the payload
		// cannot impersonate another website or visitor.
		msg.WebsiteName = websiteName
		msg.VisitorID = visitorID
		if msg.SessionID == "" {
			msg.SessionID = sessionID
		}

		if msg.Type == "navigation" {
			h.Engine.HandleNavigation(ctx, websiteName, visitorID, msg.Pages)
			continue
		}

		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now().UTC()
		}
		h.Engine.HandleTrackerEvent(ctx, msg.Event)
		h.persistEvent(msg.Event)
	}

	// Detached context: the request context is gone once the socket is.
	h.Engine.HandleDisconnect(context.Background(), websiteName, visitorID, "")
}

// DashboardSocket is the dashboard-side connection: it receives the full
// current-state snapshot on join, then live broadcasts from the bus. A
// late joiner never waits for the next event to see state.
func (h *LiveHandlers) DashboardSocket(c *gin.Context) {
	websiteName := c.Query("website")
	if websiteName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "website query parameter is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade dashboard connection")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before snapshotting so nothing falls in the gap.
	broadcasts, err := h.Bus.Subscribe(ctx, realtime.DashboardGroup(websiteName))
	if err != nil {
		log.Warn().Err(err).Str("website", websiteName).Msg("Failed to subscribe dashboard to bus")
		return
	}

	for _, msg := range h.Engine.Snapshot(websiteName) {
		if err := writeJSON(conn, msg); err != nil {
			return
		}
	}

	// Reader only watches for the close handshake.
	go func() {
		defer cancel()
		conn.SetReadLimit(maxInboundMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.writeLoop(ctx, conn, broadcasts)
}

// writeLoop forwards bus messages to the socket with ping keepalive until
// the subscription closes or a write fails.
func (h *LiveHandlers) writeLoop(ctx context.Context, conn *websocket.Conn, messages <-chan realtime.Message) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-messages:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := writeJSON(conn, msg); err != nil {
				return
			}
		}
	}
}

// persistEvent writes a single live event through to ClickHouse so the
// historical window the funnel calculator replays stays complete.
func (h *LiveHandlers) persistEvent(evt models.Event) {
	if h.Store == nil {
		return
	}
	if evt.EventID == "" {
		evt.EventID = uuid.New().String()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Store.InsertEvents(ctx, []models.Event{evt}); err != nil {
		log.Error().Err(err).Str("website", evt.WebsiteName).Msg("Failed to persist live event")
	}
}

func writeJSON(conn *websocket.Conn, payload any) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(payload)
}
