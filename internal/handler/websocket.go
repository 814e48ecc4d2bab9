package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"busfleet/internal/domain"
	"busfleet/internal/hub"
	"busfleet/internal/store"
)

const (
	wsSendBuffer   = 256
	wsReadLimit    = 8 << 10
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second

	// maxRoutesPerMessage bounds one subscribe or unsubscribe request.
	maxRoutesPerMessage = 64
)

type WSHandler struct {
	hub            *hub.Hub
	store          store.Store
	stats          *Stats
	originPatterns []string
	logger         *slog.Logger
}

func NewWSHandler(h *hub.Hub, s store.Store, stats *Stats, originPatterns []string, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:            h,
		store:          s,
		stats:          stats,
		originPatterns: originPatterns,
		logger:         logger.With("component", "websocket"),
	}
}

// Inbound frames are {"type": ..., "payload": ...}. Outbound frames use the
// same envelope.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// RoutesPayload carries route ids for subscribe, unsubscribe and the
// subscribed acknowledgement. "*" stands for every route.
type RoutesPayload struct {
	RouteIDs []string `json:"routeIds"`
}

type SnapshotPayload struct {
	Buses []domain.Bus `json:"buses"`
}

type ErrorPayload struct {
	Message string   `json:"message"`
	Unknown []string `json:"unknownRouteIds,omitempty"`
}

// errProtocol marks failures reported back to the client rather than logged.
var errProtocol = errors.New("protocol error")

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	client := hub.NewClient(uuid.NewString(), wsSendBuffer)
	h.hub.Register(client)
	h.stats.IncWSConnections()
	defer h.stats.DecWSConnections()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}
		h.stats.IncWSMessagesIn()

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.send(client, "error", ErrorPayload{Message: "invalid message format"})
			continue
		}

		if err := h.handleMessage(ctx, client, msg); err != nil {
			h.logger.Debug("websocket message rejected", "client_id", client.ID, "type", msg.Type, "error", err)
		}
	}
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, msg WSMessage) error {
	switch msg.Type {
	case "ping":
		h.send(client, "pong", nil)
		return nil

	case "subscribe":
		ids, err := h.routeIDs(client, msg.Payload)
		if err != nil {
			return err
		}
		known, unknown, err := h.partitionRoutes(ctx, ids)
		if err != nil {
			h.send(client, "error", ErrorPayload{Message: "subscription failed"})
			return err
		}
		if len(unknown) > 0 {
			h.send(client, "error", ErrorPayload{Message: "unknown routes ignored", Unknown: unknown})
		}
		if len(known) == 0 {
			return nil
		}
		h.hub.Subscribe(client, known)
		h.ack(client)
		h.sendSnapshot(ctx, client, known)
		return nil

	case "unsubscribe":
		ids, err := h.routeIDs(client, msg.Payload)
		if err != nil {
			return err
		}
		h.hub.Unsubscribe(client, ids)
		h.ack(client)
		return nil

	default:
		h.send(client, "error", ErrorPayload{Message: fmt.Sprintf("unknown message type %q", msg.Type)})
		return errProtocol
	}
}

// routeIDs decodes a RoutesPayload, answering the client on bad input.
func (h *WSHandler) routeIDs(client *hub.Client, raw json.RawMessage) ([]string, error) {
	var payload RoutesPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.send(client, "error", ErrorPayload{Message: "invalid routes payload"})
		return nil, errProtocol
	}

	ids := slices.Compact(slices.Sorted(slices.Values(payload.RouteIDs)))
	ids = slices.DeleteFunc(ids, func(id string) bool { return id == "" })
	switch {
	case len(ids) == 0:
		h.send(client, "error", ErrorPayload{Message: "routeIds must not be empty"})
		return nil, errProtocol
	case len(ids) > maxRoutesPerMessage:
		h.send(client, "error", ErrorPayload{Message: fmt.Sprintf("at most %d routeIds per message", maxRoutesPerMessage)})
		return nil, errProtocol
	}
	return ids, nil
}

func (h *WSHandler) partitionRoutes(ctx context.Context, ids []string) (known, unknown []string, err error) {
	for _, id := range ids {
		if id == hub.AllRoutes {
			known = append(known, id)
			continue
		}
		_, err := h.store.GetRoute(ctx, id)
		switch {
		case err == nil:
			known = append(known, id)
		case errors.Is(err, domain.ErrNotFound):
			unknown = append(unknown, id)
		default:
			return nil, nil, err
		}
	}
	return known, unknown, nil
}

func (h *WSHandler) ack(client *hub.Client) {
	h.send(client, "subscribed", RoutesPayload{RouteIDs: nonNil(slices.Sorted(slices.Values(client.Routes())))})
}

// sendSnapshot gives a new subscriber the current position of every active
// bus on the requested routes.
func (h *WSHandler) sendSnapshot(ctx context.Context, client *hub.Client, routeIDs []string) {
	buses, err := h.store.ListBuses(ctx, store.ActiveOnly())
	if err != nil {
		h.logger.Error("snapshot failed", "client_id", client.ID, "error", err)
		return
	}

	if !slices.Contains(routeIDs, hub.AllRoutes) {
		buses = slices.DeleteFunc(buses, func(b domain.Bus) bool {
			return !slices.Contains(routeIDs, b.RouteID)
		})
	}
	h.send(client, "snapshot", SnapshotPayload{Buses: nonNil(buses)})
}

func (h *WSHandler) send(client *hub.Client, msgType string, payload any) {
	data, err := json.Marshal(outbound{Type: msgType, Payload: payload})
	if err != nil {
		return
	}

	if !client.Deliver(data) {
		h.logger.Debug("client send dropped", "client_id", client.ID, "type", msgType)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			if err := h.write(ctx, conn, msg); err != nil {
				return
			}
			h.stats.IncWSMessagesOut()

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
