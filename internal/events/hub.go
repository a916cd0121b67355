package events

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Subscription represents a client subscription to a topic
type Subscription struct {
	Client *Client
	Topic  string
}

// Hub maintains the set of active clients and fans lifecycle
// notifications out to topic subscribers.
type Hub struct {
	// Registered clients
	Clients map[*Client]bool

	// Register requests from the clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Subscribe requests from clients
	Subscribe chan *Subscription

	// Unsubscribe requests from clients
	Unsubscribe chan *Subscription

	// Topic subscriptions: topic -> clients
	Subscriptions map[string]map[*Client]bool

	Stats ConnectionStats

	mu sync.RWMutex

	stop     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a new notification hub
func NewHub() *Hub {
	return &Hub{
		Clients:       make(map[*Client]bool),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		Subscribe:     make(chan *Subscription),
		Unsubscribe:   make(chan *Subscription),
		Subscriptions: make(map[string]map[*Client]bool),
		stop:          make(chan struct{}),
		Stats: ConnectionStats{
			LastUpdate: time.Now(),
		},
	}
}

// Run starts the hub and handles client connections and messages
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case subscription := <-h.Subscribe:
			h.subscribeClient(subscription)

		case subscription := <-h.Unsubscribe:
			h.unsubscribeClient(subscription)

		case <-h.stop:
			return
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Clients[client] = true
	h.Stats.TotalConnections++
	h.Stats.ActiveConnections++
	h.Stats.LastUpdate = time.Now()

	logrus.WithField("client", client.ID).Debug("Events client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.Clients[client]; ok {
		delete(h.Clients, client)
		close(client.Send)
		h.Stats.ActiveConnections--
		h.Stats.LastUpdate = time.Now()

		for topic, clients := range h.Subscriptions {
			if _, subscribed := clients[client]; subscribed {
				delete(clients, client)
				h.Stats.TotalSubscriptions--
				if len(clients) == 0 {
					delete(h.Subscriptions, topic)
				}
			}
		}

		logrus.WithField("client", client.ID).Debug("Events client unregistered")
	}
}

func (h *Hub) subscribeClient(subscription *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Subscriptions[subscription.Topic] == nil {
		h.Subscriptions[subscription.Topic] = make(map[*Client]bool)
	}

	if !h.Subscriptions[subscription.Topic][subscription.Client] {
		h.Subscriptions[subscription.Topic][subscription.Client] = true
		h.Stats.TotalSubscriptions++
		h.Stats.LastUpdate = time.Now()
	}
}

func (h *Hub) unsubscribeClient(subscription *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, exists := h.Subscriptions[subscription.Topic]; exists {
		if _, subscribed := clients[subscription.Client]; subscribed {
			delete(clients, subscription.Client)
			h.Stats.TotalSubscriptions--
			h.Stats.LastUpdate = time.Now()

			if len(clients) == 0 {
				delete(h.Subscriptions, subscription.Topic)
			}
		}
	}
}

// BroadcastToTopic broadcasts a message to all clients subscribed to a
// specific topic
func (h *Hub) BroadcastToTopic(topic string, message interface{}) {
	h.mu.RLock()
	originalClients, exists := h.Subscriptions[topic]
	if !exists || len(originalClients) == 0 {
		h.mu.RUnlock()
		return
	}

	clients := make([]*Client, 0, len(originalClients))
	for client := range originalClients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).WithField("topic", topic).Error("Failed to marshal event")
		return
	}

	clientsToRemove := make([]*Client, 0)
	messagesSent := int64(0)

	for _, client := range clients {
		select {
		case client.Send <- data:
			messagesSent++
		default:
			// Client's send channel is full, mark for removal
			close(client.Send)
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	if len(clientsToRemove) > 0 {
		h.mu.Lock()
		for _, client := range clientsToRemove {
			delete(h.Clients, client)
			if topicClients, ok := h.Subscriptions[topic]; ok {
				delete(topicClients, client)
			}
		}
		h.mu.Unlock()
	}

	if messagesSent > 0 || len(clientsToRemove) > 0 {
		h.mu.Lock()
		h.Stats.MessagesSent += messagesSent
		h.Stats.LastUpdate = time.Now()
		h.mu.Unlock()
	}
}

// Publish broadcasts a lifecycle notification to the pools topic and to
// the per-pool topic.
func (h *Hub) Publish(evt PoolEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	poolID := strconv.FormatUint(evt.PoolID, 10)
	message := Message{
		Type:      MessageTypePoolEvent,
		Topic:     TopicPools,
		PoolID:    poolID,
		Data:      evt,
		Timestamp: time.Now(),
	}

	h.BroadcastToTopic(TopicPools, message)
	h.BroadcastToTopic(TopicPools+":"+poolID, message)
}

// GetStats returns current connection statistics
func (h *Hub) GetStats() ConnectionStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Stats
}

// GetClientCount returns the number of active clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients)
}

// GetSubscriptionCount returns the number of active subscriptions
func (h *Hub) GetSubscriptionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.Subscriptions {
		count += len(clients)
	}
	return count
}
