package websocket

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/cheesyocean/voicedesk/domain/entities"
	"github.com/cheesyocean/voicedesk/domain/repositories"
	"github.com/cheesyocean/voicedesk/internal/audio"
	"github.com/cheesyocean/voicedesk/internal/scheduler"
	"github.com/cheesyocean/voicedesk/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Customers connect from arbitrary shop-site origins.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Deps are the collaborators every client session needs.
type Deps struct {
	Dialer      repositories.LiveDialer
	Settings    repositories.SettingsRepository
	Orders      repositories.OrderRepository
	Flags       repositories.ClientFlagRepository
	Scheduler   *scheduler.RiderScheduler
	Credentials *session.CredentialResolver
}

// Hub maintains the set of connected customer clients.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	deps   Deps
	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(deps Deps, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deps:       deps,
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			if prev := h.addClient(client); prev != nil {
				// A reconnect with the same durable id supersedes the old
				// connection; dropping its socket drives its own teardown.
				prev.conn.Close()
			}
			h.logger.Info("Client registered", zap.String("client_id", client.clientID))

		case client := <-h.unregister:
			h.removeClient(client)
			client.closeSend()
			h.logger.Info("Client unregistered", zap.String("client_id", client.clientID))
		}
	}
}

// addClient stores the client under its id and returns any distinct client
// it replaced.
func (h *Hub) addClient(client *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.clients[client.clientID]
	h.clients[client.clientID] = client
	if prev == client {
		return nil
	}
	return prev
}

// removeClient deletes the map entry only when it still points at this
// client, so an old connection's unregister cannot evict its replacement.
func (h *Hub) removeClient(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[client.clientID]; ok && current == client {
		delete(h.clients, client.clientID)
		return true
	}
	return false
}

// WriteData is one outbound websocket payload.
type WriteData struct {
	Type    int
	Payload []byte
}

// Client is a middleman between one browser connection and its live session.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	clientID   string
	controller *session.Controller
	logger     *zap.Logger

	mu        sync.Mutex
	stopWatch func()

	closeOnce  sync.Once
	sendClosed atomic.Bool
}

// closeSend shuts the outbound channel exactly once and marks it closed so
// enqueue stops submitting.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		c.sendClosed.Store(true)
		close(c.send)
	})
}

// HandleWebSocket handles websocket requests from customer browsers. The
// client id is a durable browser-generated identifier carried in the query
// string; it keys the ban flag and the order snapshot.
func HandleWebSocket(hub *Hub, c echo.Context, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	clientID := c.QueryParam("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan WriteData, 256),
		clientID: clientID,
		logger:   logger.With(zap.String("client_id", clientID)),
	}
	client.controller = session.NewController(
		session.Config{ClientID: clientID},
		session.Deps{
			Dialer:      hub.deps.Dialer,
			Settings:    hub.deps.Settings,
			Orders:      hub.deps.Orders,
			Flags:       hub.deps.Flags,
			Scheduler:   hub.deps.Scheduler,
			Credentials: hub.deps.Credentials,
		},
		session.Callbacks{
			OnStatus:                client.onStatus,
			OnTranscriptionUpdate:   client.onCaption(MessageTypeCaptionUpdate),
			OnTranscriptionComplete: client.onCaption(MessageTypeCaptionFinal),
			OnAudio:                 client.onAudio,
			OnInterrupted:           client.onInterrupted,
			OnOrderPlaced:           client.onOrderPlaced,
			OnError:                 client.onError,
		},
		client.logger,
	)

	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	client.restoreOrderSnapshot()
	return nil
}

// readPump pumps messages from the websocket connection to the session.
func (c *Client) readPump() {
	defer func() {
		c.teardown()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processControlMessage(message)
		case websocket.BinaryMessage:
			c.processSampleBlock(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) processControlMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Error("Failed to parse control message", zap.Error(err))
		return
	}

	switch msg.Type {
	case MessageTypeSessionStart:
		c.handleSessionStart(msg)
	case MessageTypeSessionStop:
		c.controller.Stop()
	case MessageTypeMicDenied:
		c.controller.ReportCaptureDenied()
	case MessageTypePing:
		c.enqueue(mustMarshal(newPong()))
	default:
		c.logger.Warn("Unknown control message", zap.String("type", string(msg.Type)))
	}
}

func (c *Client) handleSessionStart(msg ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), session.DefaultConnectTimeout+5*time.Second)
	go func() {
		defer cancel()
		err := c.controller.StartWithCapture(ctx, msg.CaptureSupported)
		if err != nil && !errors.Is(err, session.ErrSessionActive) {
			c.onError(err)
		}
	}()
}

// processSampleBlock decodes one binary block of little-endian float32
// microphone samples and feeds it to the capture pipeline.
func (c *Client) processSampleBlock(data []byte) {
	if len(data) < 4 {
		return
	}
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	c.controller.HandleSamples(samples)
}

func (c *Client) onStatus(status entities.SessionStatus) {
	c.enqueue(mustMarshal(StatusMessage{Type: MessageTypeStatus, Status: status}))
}

func (c *Client) onCaption(kind MessageType) func(entities.Speaker, string) {
	return func(speaker entities.Speaker, text string) {
		c.enqueue(mustMarshal(CaptionMessage{Type: kind, Speaker: speaker, Text: text}))
	}
}

func (c *Client) onAudio(pcm []byte, duration time.Duration) {
	c.enqueue(mustMarshal(AudioMessage{
		Type:       MessageTypeAudio,
		Data:       encodeBase64(pcm),
		DurationMS: duration.Milliseconds(),
		SampleRate: audio.OutputSampleRate,
	}))
}

func (c *Client) onInterrupted() {
	c.enqueue(mustMarshal(InterruptedMessage{Type: MessageTypeInterrupted}))
}

// onOrderPlaced stores the restart-recovery snapshot and follows the order's
// status until it goes terminal.
func (c *Client) onOrderPlaced(order entities.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.hub.deps.Flags.SetCurrentOrder(ctx, c.clientID, &order); err != nil {
		c.logger.Error("Failed to store order snapshot", zap.Error(err))
	}
	c.enqueue(mustMarshal(OrderMessage{Type: MessageTypeOrderPlaced, Order: order}))
	c.watchOrder(order.ID)
}

func (c *Client) onError(err error) {
	code, message := classifyError(err)
	c.logger.Warn("Session error", zap.String("code", code), zap.Error(err))
	c.enqueue(mustMarshal(ErrorMessage{Type: MessageTypeError, Code: code, Message: message}))
}

// restoreOrderSnapshot pushes a still-active order saved by a previous
// process or page load, and resumes following it.
func (c *Client) restoreOrderSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	order, err := c.hub.deps.Flags.CurrentOrder(ctx, c.clientID)
	if err != nil {
		c.logger.Error("Failed to load order snapshot", zap.Error(err))
		return
	}
	if order == nil {
		return
	}
	if order.IsTerminal() {
		if err := c.hub.deps.Flags.ClearCurrentOrder(ctx, c.clientID); err != nil {
			c.logger.Error("Failed to clear order snapshot", zap.Error(err))
		}
		return
	}
	c.enqueue(mustMarshal(OrderMessage{Type: MessageTypeOrderUpdate, Order: *order}))
	c.watchOrder(order.ID)
}

func (c *Client) watchOrder(orderID string) {
	stop, err := c.hub.deps.Orders.ListenOne(context.Background(), orderID, func(order entities.Order) {
		c.enqueue(mustMarshal(OrderMessage{Type: MessageTypeOrderUpdate, Order: order}))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.hub.deps.Flags.SetCurrentOrder(ctx, c.clientID, &order); err != nil {
			c.logger.Error("Failed to refresh order snapshot", zap.Error(err))
		}
		if order.IsTerminal() {
			if err := c.hub.deps.Flags.ClearCurrentOrder(ctx, c.clientID); err != nil {
				c.logger.Error("Failed to clear order snapshot", zap.Error(err))
			}
			c.stopWatchingOrder()
		}
	})
	if err != nil {
		c.logger.Error("Failed to watch order", zap.String("order_id", orderID), zap.Error(err))
		return
	}

	c.mu.Lock()
	prev := c.stopWatch
	c.stopWatch = stop
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (c *Client) stopWatchingOrder() {
	c.mu.Lock()
	stop := c.stopWatch
	c.stopWatch = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// teardown releases the session and listeners when the socket goes away.
func (c *Client) teardown() {
	c.controller.Stop()
	c.stopWatchingOrder()
}

func (c *Client) enqueue(payload []byte) {
	if c.sendClosed.Load() {
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
		c.logger.Warn("Dropping message: send buffer full")
	}
}
