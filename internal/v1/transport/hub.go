// Package transport owns the WebSocket surface of the relay: the upgrade
// gate, the room registry, and the per-connection session pumps.
package transport

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/bytetogether/relay/internal/v1/auth"
	"github.com/bytetogether/relay/internal/v1/config"
	"github.com/bytetogether/relay/internal/v1/docsync"
	"github.com/bytetogether/relay/internal/v1/logging"
	"github.com/bytetogether/relay/internal/v1/metrics"
	"github.com/bytetogether/relay/internal/v1/ratelimit"
	"github.com/bytetogether/relay/internal/v1/room"
	"github.com/bytetogether/relay/internal/v1/types"
	"go.uber.org/zap"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Hub is the room registry and the serialisation point for room lifecycle:
// at any instant there is at most one Room per name, and acquire/release
// never race a new Room away.
type Hub struct {
	mu          sync.Mutex
	rooms       map[types.RoomNameType]*room.Room
	cfg         *config.Config
	engine      *docsync.Engine
	origins     *auth.Origins
	rateLimiter *ratelimit.Limiter // nil disables upgrade rate limiting
}

// NewHub creates a Hub configured with its dependencies.
func NewHub(cfg *config.Config, engine *docsync.Engine, origins *auth.Origins, rl *ratelimit.Limiter) *Hub {
	return &Hub{
		rooms:       make(map[types.RoomNameType]*room.Room),
		cfg:         cfg,
		engine:      engine,
		origins:     origins,
		rateLimiter: rl,
	}
}

// joinParams are the identity claims a peer supplies at upgrade time.
// They are unauthenticated display data; see the auth package.
type joinParams struct {
	Room       types.RoomNameType
	ClientId   types.ClientIdType
	Username   types.DisplayNameType
	AdminClaim bool
}

// parseJoinParams extracts the recognised query parameters with their
// documented defaults.
func parseJoinParams(c *gin.Context, defaultRoom string) joinParams {
	p := joinParams{
		Room:       types.RoomNameType(c.Query("room")),
		AdminClaim: c.Query("admin") == "true",
	}
	if p.Room == "" {
		p.Room = types.RoomNameType(defaultRoom)
	}

	if id, err := strconv.ParseInt(c.Query("clientId"), 10, 64); err == nil {
		p.ClientId = types.ClientIdType(id)
	}

	p.Username = types.DisplayNameType(c.Query("username"))
	if p.Username == "" {
		p.Username = types.DisplayNameType("User" + strconv.FormatInt(int64(p.ClientId), 10))
	}
	return p
}

// ServeWs validates and upgrades one relay connection.
func (h *Hub) ServeWs(c *gin.Context) {
	// Rate limiting first, before any other work.
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocket(c) {
		return // Response already written by CheckWebSocket
	}

	// Disallowed origins are dropped before the handshake, with no
	// diagnostic: admission policy is not revealed to untrusted origins.
	if err := h.origins.Validate(c.Request); err != nil {
		metrics.AdmissionRejections.WithLabelValues("origin").Inc()
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	params := parseJoinParams(c, h.cfg.DefaultRoom)

	conn, err := h.upgradeWebSocket(c)
	if err != nil {
		return
	}

	h.HandleConnection(conn, params)
}

// HandleConnection takes an established WebSocket connection through
// admission and, on success, starts the session pumps.
func (h *Hub) HandleConnection(conn wsConnection, params joinParams) {
	client := newClient(conn, params.ClientId, params.Username, params.AdminClaim,
		h.cfg.SendQueueSize, h.cfg.SessionErrorThreshold)

	// The write pump starts before admission so rejection frames reach the
	// peer in order, followed by the close frame.
	go client.writePump()

	r, err := h.acquireForJoin(params.Room, client)
	if err != nil {
		h.rejectConnection(client, params, err)
		return
	}

	client.room = r
	metrics.IncConnection()
	go client.readPump()
}

// rejectConnection signals an admission failure to the peer. Capacity gets a
// diagnostic frame then close 4001; a duplicate clientId is a protocol error
// and closes without a frame.
func (h *Hub) rejectConnection(client *Client, params joinParams, err error) {
	ctx := context.Background()
	switch {
	case errors.Is(err, types.ErrRoomFull):
		logging.Info(ctx, "Join rejected: room full",
			zap.String("room", string(params.Room)),
			zap.Int64("clientId", int64(params.ClientId)))
		client.SendControl(room.NewRoomFullFrame(params.Room))
		client.CloseWithStatus(types.CloseRoomFull, "Room is full")

	case errors.Is(err, types.ErrDuplicateClient):
		logging.Warn(ctx, "Join rejected: duplicate clientId",
			zap.String("room", string(params.Room)),
			zap.Int64("clientId", int64(params.ClientId)))
		client.CloseWithStatus(types.CloseDuplicateClient, "Duplicate clientId")

	default:
		logging.Error(ctx, "Join failed", zap.Error(err),
			zap.String("room", string(params.Room)))
		client.CloseWithStatus(websocket.CloseInternalServerErr, "internal error")
	}
}

// acquireForJoin atomically ensures a Room exists for the name and attempts
// admission under the room's lock. A Room this call created is removed again
// before returning an admission failure. Losing a race against a concurrent
// empty-out retries against a fresh Room.
func (h *Hub) acquireForJoin(name types.RoomNameType, client *Client) (*room.Room, error) {
	for {
		h.mu.Lock()
		r, ok := h.rooms[name]
		created := false
		if !ok {
			logging.Info(context.Background(), "Creating new relay room", zap.String("room", string(name)))
			r = room.NewRoom(name, h.cfg.RoomCapacity, h.engine, h.release)
			h.rooms[name] = r
			created = true
		}
		h.mu.Unlock()

		err := r.Admit(client, client.AdminClaim)
		if err == nil {
			return r, nil
		}

		if errors.Is(err, types.ErrRoomClosed) {
			// The room emptied out between lookup and admission. This can
			// happen to a room this very call created, when a concurrent
			// joiner admitted into it and left again. Drop the stale entry
			// (pointer-compared; a newer room is left alone) and retry
			// with a fresh one.
			h.removeIfCurrent(name, r)
			continue
		}

		if created {
			r.CloseRoom("admission failed")
			h.removeIfCurrent(name, r)
		}
		return nil, err
	}
}

// release removes a room that reported empty. Stale releases never delete a
// newer room with the same name.
func (h *Hub) release(name types.RoomNameType, r *room.Room) {
	h.removeIfCurrent(name, r)
	logging.Info(context.Background(), "Removed room from hub", zap.String("room", string(name)))
}

func (h *Hub) removeIfCurrent(name types.RoomNameType, r *room.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.rooms[name]; ok && cur == r {
		delete(h.rooms, name)
	}
}

// RoomCount returns the number of live rooms, for health reporting.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Shutdown gracefully closes all active rooms and connections.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down Hub - closing all active rooms...")

	h.mu.Lock()
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.CloseRoom("Server shutting down")
	}

	logging.Info(ctx, "All rooms closed", zap.Int("count", len(rooms)))
	return nil
}

// upgradeWebSocket handles the WebSocket upgrade process.
func (h *Hub) upgradeWebSocket(c *gin.Context) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return h.origins.Validate(r) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}

	return conn, nil
}
