package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/racingrun/backend/internal/domain"
)

// Message types
const (
	MessageTypeScoreRecorded = "score_recorded"
	MessageTypeSubscribe     = "subscribe"
	MessageTypeUnsubscribe   = "unsubscribe"
	MessageTypeSubscribed    = "subscribed"
	MessageTypeUnsubscribed  = "unsubscribed"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeError         = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	GameMode  string      `json:"game_mode,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub keeps track of connected clients and the game modes they follow,
// and fans recorded scores out to them
type Hub struct {
	// Subscribed clients by game mode
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client   *Client
	gameMode string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.clients[req.gameMode]; !ok {
					h.clients[req.gameMode] = make(map[*Client]bool)
				}
				h.clients[req.gameMode][req.client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "game_mode", req.gameMode)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.gameMode]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.gameMode)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "game_mode", req.gameMode)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub and closes every client's send channel
func (h *Hub) Stop() {
	h.cancel()
}

// removeLocked drops a client from every subscription; h.mu must be held
func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.allClients[client]; !ok {
		return
	}
	delete(h.allClients, client)
	for mode, clients := range h.clients {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.clients, mode)
			}
		}
	}
	client.close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.allClients {
		h.removeLocked(client)
	}
}

// broadcastMessage sends a message to every client following its game mode
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range h.clients[message.GameMode] {
		if !client.trySend(data) {
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// PublishScore queues a recorded score for every subscriber of its game
// mode. It never blocks; when the queue is full the event is dropped.
func (h *Hub) PublishScore(_ context.Context, event domain.ScoreEvent) error {
	message := &Message{
		Type:      MessageTypeScoreRecorded,
		GameMode:  event.GameMode,
		Data:      event,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "score_id", event.ScoreID)
	}
	return nil
}

// HandleScoreEvent forwards an event received from the message bus
func (h *Hub) HandleScoreEvent(ctx context.Context, event domain.ScoreEvent) error {
	return h.PublishScore(ctx, event)
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a game mode's feed
func (h *Hub) Subscribe(client *Client, gameMode string) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, gameMode: gameMode}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a game mode's feed
func (h *Hub) Unsubscribe(client *Client, gameMode string) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, gameMode: gameMode}:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of subscribers for a game mode
func (h *Hub) GetSubscriberCount(gameMode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[gameMode])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
