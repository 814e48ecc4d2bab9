package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"busfleet/internal/domain"
)

// AllRoutes subscribes a client to every route.
const AllRoutes = "*"

// Client is one websocket subscriber. Send is closed exactly once, when the
// client leaves the hub or the hub shuts down; write through Deliver.
type Client struct {
	ID     string
	Send   chan []byte
	routes map[string]struct{}
	mu     sync.RWMutex

	sendMu sync.Mutex
	closed bool
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:     id,
		Send:   make(chan []byte, bufferSize),
		routes: make(map[string]struct{}),
	}
}

// Deliver queues data without blocking. It reports false when the buffer is
// full or the client is already closed.
func (c *Client) Deliver(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) isClosed() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.closed
}

func (c *Client) Follows(routeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.routes[routeID]
	return ok
}

func (c *Client) addRoutes(routeIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range routeIDs {
		c.routes[id] = struct{}{}
	}
}

func (c *Client) removeRoutes(routeIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range routeIDs {
		delete(c.routes, id)
	}
}

func (c *Client) Routes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	routes := make([]string, 0, len(c.routes))
	for id := range c.routes {
		routes = append(routes, id)
	}
	return routes
}

// Hub fans bus movement out to websocket clients by route.
type Hub struct {
	mu           sync.RWMutex
	clients      map[*Client]struct{}
	routeClients map[string]map[*Client]struct{}
	closed       bool

	broadcast chan []domain.BusDelta

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:      make(map[*Client]struct{}),
		routeClients: make(map[string]map[*Client]struct{}),
		broadcast:    make(chan []domain.BusDelta, 256),
		logger:       logger.With("component", "hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case deltas := <-h.broadcast:
			h.fanoutDeltas(deltas)
		}
	}
}

// Subscribe is a no-op for clients the hub does not hold.
func (h *Hub) Subscribe(client *Client, routeIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	client.addRoutes(routeIDs)

	for _, routeID := range routeIDs {
		if h.routeClients[routeID] == nil {
			h.routeClients[routeID] = make(map[*Client]struct{})
		}
		h.routeClients[routeID][client] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(client *Client, routeIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.removeRoutes(routeIDs)
	h.dropRoutes(client, routeIDs)
}

// Broadcast queues one sweep's deltas. It never blocks the caller.
func (h *Hub) Broadcast(deltas []domain.BusDelta) {
	if len(deltas) == 0 {
		return
	}
	select {
	case h.broadcast <- deltas:
	default:
		h.logger.Warn("broadcast channel full, dropping deltas", "count", len(deltas))
	}
}

// Register adds a client. A client that was already unregistered, or one
// arriving after shutdown, is closed instead.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || client.isClosed() {
		client.close()
		return
	}
	h.clients[client] = struct{}{}
	h.logger.Debug("client registered", "client_id", client.ID, "total", len(h.clients))
}

// Unregister removes a client and closes its Send channel. It is safe to
// call more than once and for clients that never registered.
func (h *Hub) Unregister(client *Client) {
	h.removeClient(client)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type DeltaMessage struct {
	Type    string       `json:"type"`
	Payload DeltaPayload `json:"payload"`
}

type DeltaPayload struct {
	Updates []*domain.Bus `json:"updates"`
	// Arrivals lists buses that reached a stop during this sweep.
	Arrivals []string `json:"arrivals,omitempty"`
}

func (h *Hub) fanoutDeltas(deltas []domain.BusDelta) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clientDeltas := make(map[*Client][]domain.BusDelta)
	everyRoute := h.routeClients[AllRoutes]

	for _, d := range deltas {
		for client := range h.routeClients[d.RouteID] {
			clientDeltas[client] = append(clientDeltas[client], d)
		}
		for client := range everyRoute {
			if client.Follows(d.RouteID) {
				continue
			}
			clientDeltas[client] = append(clientDeltas[client], d)
		}
	}

	for client, ds := range clientDeltas {
		data, err := json.Marshal(buildDeltaMessage(ds))
		if err != nil {
			h.logger.Error("marshal delta message", "error", err)
			continue
		}

		if !client.Deliver(data) {
			h.logger.Debug("client send dropped", "client_id", client.ID)
		}
	}
}

func buildDeltaMessage(deltas []domain.BusDelta) DeltaMessage {
	updates := make([]*domain.Bus, 0, len(deltas))
	var arrivals []string

	for _, d := range deltas {
		updates = append(updates, d.Bus)
		if d.Arrived {
			arrivals = append(arrivals, d.Bus.ID)
		}
	}

	return DeltaMessage{
		Type: "delta",
		Payload: DeltaPayload{
			Updates:  updates,
			Arrivals: arrivals,
		},
	}
}

func (h *Hub) dropRoutes(client *Client, routeIDs []string) {
	for _, routeID := range routeIDs {
		if h.routeClients[routeID] != nil {
			delete(h.routeClients[routeID], client)
			if len(h.routeClients[routeID]) == 0 {
				delete(h.routeClients, routeID)
			}
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	defer client.close()
	if _, ok := h.clients[client]; !ok {
		return
	}

	h.dropRoutes(client, client.Routes())
	delete(h.clients, client)
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
	}
	h.closed = true
	h.clients = make(map[*Client]struct{})
	h.routeClients = make(map[string]map[*Client]struct{})
}
