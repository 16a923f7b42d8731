package hub

import (
	"encoding/json"
	"expvar"
	"log"
	"strings"
	"sync"
)

var droppedMessages = expvar.NewInt("monitor_dropped_messages_total")

// Subscription narrows what a monitor receives. Empty fields match everything.
type Subscription struct {
	WindowID   string
	CategoryID string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action     string `json:"action"`
	WindowID   string `json:"window_id"`
	CategoryID string `json:"category_id"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast never blocks: a client whose buffer is full misses the message.
func (h *Hub) Broadcast(payload []byte, meta Subscription) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			droppedMessages.Add(1)
			log.Printf("monitor_drop client_id=%s", client.ID)
		}
	}
}

// match treats an event without window or category as office-wide.
func match(sub Subscription, meta Subscription) bool {
	if meta == (Subscription{}) {
		return true
	}
	if sub.WindowID != "" && meta.WindowID != sub.WindowID {
		return false
	}
	if sub.CategoryID != "" && meta.CategoryID != sub.CategoryID {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	msg.WindowID = strings.TrimSpace(msg.WindowID)
	msg.CategoryID = strings.TrimSpace(msg.CategoryID)
	return msg, true
}
