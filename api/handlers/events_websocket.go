package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

const (
	pingInterval    = 30 * time.Second
	writeTimeout    = 10 * time.Second
	subscriberQueue = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local host bridge
	},
}

// EventSource is the bus a websocket client subscribes to
type EventSource interface {
	SubscribeChan(buffer int) (<-chan domain.BusEvent, func())
}

// EventMessage is one bus event as written to a websocket client
type EventMessage struct {
	ID string `json:"id"`
	domain.BusEvent
}

// EventsWebSocketHandler streams event bus messages to websocket clients
type EventsWebSocketHandler struct {
	bus      EventSource
	registry Registry
	logger   *zap.Logger
}

// NewEventsWebSocketHandler creates a new websocket handler
func NewEventsWebSocketHandler(bus EventSource, registry Registry, log *zap.Logger) *EventsWebSocketHandler {
	return &EventsWebSocketHandler{
		bus:      bus,
		registry: registry,
		logger:   log,
	}
}

// HandleWebSocket handles GET /api/v1/events. The optional topics query
// parameter is a comma separated list of topics to receive.
func (h *EventsWebSocketHandler) HandleWebSocket(c *gin.Context) {
	topics := parseTopics(c.Query("topics"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := h.bus.SubscribeChan(subscriberQueue)
	defer unsubscribe()

	h.logger.Info("WebSocket client connected",
		zap.Strings("topics", topics),
		zap.String("remote_addr", c.Request.RemoteAddr))
	defer h.logger.Info("WebSocket client disconnected", zap.String("remote_addr", c.Request.RemoteAddr))

	// Current status first so the client does not wait for the next change
	hello := domain.BusEvent{
		Topic:     domain.TopicDownloads,
		Payload:   h.registry.Status(),
		Timestamp: time.Now().UTC(),
	}
	if accepts(topics, hello.Topic) {
		if err := h.write(conn, hello); err != nil {
			h.logger.Error("Failed to send initial status", zap.Error(err))
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if !accepts(topics, event.Topic) {
				continue
			}
			if err := h.write(conn, event); err != nil {
				h.logger.Error("Failed to send event", zap.String("topic", event.Topic), zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

func (h *EventsWebSocketHandler) write(conn *websocket.Conn, event domain.BusEvent) error {
	data, err := json.Marshal(EventMessage{ID: uuid.NewString(), BusEvent: event})
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.String("topic", event.Topic), zap.Error(err))
		return nil
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func parseTopics(raw string) []string {
	if raw == "" {
		return nil
	}
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

func accepts(topics []string, topic string) bool {
	if len(topics) == 0 {
		return true
	}
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}
