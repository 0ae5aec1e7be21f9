// Package room implements the per-room state machine of the relay: the
// participant set, the single admin reference, the broadcast fan-out, and the
// control protocol that mutates them. Every mutation of room state runs under
// the room's exclusive lock; mutations of distinct rooms proceed in parallel.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytetogether/relay/internal/v1/docsync"
	"github.com/bytetogether/relay/internal/v1/logging"
	"github.com/bytetogether/relay/internal/v1/metrics"
	"github.com/bytetogether/relay/internal/v1/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Participant is one live session's record in the room. It is bound to
// exactly one session and destroyed when that session closes.
type Participant struct {
	Session  types.SessionInterface
	ClientId types.ClientIdType
	Username types.DisplayNameType
	IsAdmin  bool
	JoinedAt time.Time
}

// Room owns its document, its participants map and its admin reference.
// Sessions never mutate room state directly; they submit frames and
// lifecycle events which the room applies under its lock.
type Room struct {
	name     types.RoomNameType
	mu       sync.Mutex
	capacity int

	participants map[types.ClientIdType]*Participant
	order        []types.ClientIdType // insertion order, drives roster and fan-out
	admin        types.SessionInterface

	engine *docsync.Engine
	doc    *docsync.Document

	// closed marks a room that has been torn down or emptied; a closed room
	// never admits again, the registry hands out a fresh one instead.
	closed bool

	// onEmpty releases this room from the registry. Invoked once, after the
	// document is destroyed.
	onEmpty func(types.RoomNameType, *Room)
}

// NewRoom creates a room and its backing document.
func NewRoom(name types.RoomNameType, capacity int, engine *docsync.Engine, onEmpty func(types.RoomNameType, *Room)) *Room {
	if capacity < 1 {
		capacity = types.DefaultRoomCapacity
	}
	r := &Room{
		name:         name,
		capacity:     capacity,
		participants: make(map[types.ClientIdType]*Participant),
		engine:       engine,
		doc:          engine.GetOrCreateDocument(name),
		onEmpty:      onEmpty,
	}
	metrics.ActiveRooms.Inc()
	return r
}

// GetName returns the room's opaque name.
func (r *Room) GetName() types.RoomNameType {
	return r.name
}

// ParticipantCount returns the current number of participants.
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// HasAdmin reports whether an admin is currently set.
func (r *Room) HasAdmin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admin != nil
}

// Admit applies the admission rules of the room and, on success, registers
// the session, attaches it to the document (which starts the sync handshake)
// and broadcasts the new roster to every participant, the newcomer included.
//
// The first admission claiming admin wins the admin reference; later claims
// are demoted silently.
func (r *Room) Admit(sess types.SessionInterface, claimAdmin bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return types.ErrRoomClosed
	}
	if len(r.participants) >= r.capacity {
		metrics.AdmissionRejections.WithLabelValues("capacity").Inc()
		return types.ErrRoomFull
	}
	if _, exists := r.participants[sess.GetID()]; exists {
		metrics.AdmissionRejections.WithLabelValues("duplicate_client").Inc()
		return types.ErrDuplicateClient
	}

	isAdmin := claimAdmin && r.admin == nil
	p := &Participant{
		Session:  sess,
		ClientId: sess.GetID(),
		Username: sess.GetUsername(),
		IsAdmin:  isAdmin,
		JoinedAt: sess.JoinedAt(),
	}
	r.participants[p.ClientId] = p
	r.order = append(r.order, p.ClientId)
	if isAdmin {
		r.admin = sess
	}

	metrics.RoomParticipants.WithLabelValues(string(r.name)).Set(float64(len(r.participants)))
	logging.Info(context.Background(), "Client admitted",
		zap.String("room", string(r.name)),
		zap.Int64("clientId", int64(p.ClientId)),
		zap.String("username", string(p.Username)),
		zap.Bool("admin", isAdmin))

	// The roster goes to everyone including the newcomer, who has no other
	// way to learn who is already in the room.
	r.broadcastControl(nil, ClientUpdateMessage{
		Type:             ControlClientUpdate,
		ConnectedClients: r.roster(),
	})

	if err := r.doc.Attach(sess); err != nil {
		// The document vanished under a live room; nothing sane survives.
		r.failLocked("document unavailable")
		return err
	}
	return nil
}

// HandleControl parses one inbound JSON control frame and applies its
// room-scoped effect. Unknown types are ignored; malformed JSON and invalid
// known variants return an error the session counts as a protocol violation.
func (r *Room) HandleControl(ctx context.Context, sess types.SessionInterface, raw []byte) error {
	var env controlEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.ControlEvents.WithLabelValues("malformed", "error").Inc()
		return fmt.Errorf("malformed control frame: %w", err)
	}

	// The type tag is client-supplied; only recognised values may become
	// metric labels, everything else collapses to one bucket.
	eventLabel := string(env.Type)
	switch env.Type {
	case ControlClientJoined, ControlClientLeft, ControlEndRoom:
	default:
		eventLabel = "unknown"
	}

	start := time.Now()
	status := "success"
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(eventLabel).Observe(time.Since(start).Seconds())
		metrics.ControlEvents.WithLabelValues(eventLabel, status).Inc()
	}()

	switch env.Type {
	case ControlClientJoined:
		var msg clientJoinedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			status = "error"
			return fmt.Errorf("client-joined: %w", err)
		}
		if err := msg.validate(); err != nil {
			status = "error"
			return err
		}
		r.handleClientJoined(sess, msg)

	case ControlClientLeft:
		var msg clientLeftMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			status = "error"
			return fmt.Errorf("client-left: %w", err)
		}
		r.handleClientLeft(ctx, sess, msg)

	case ControlEndRoom:
		var msg endRoomMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			status = "error"
			return fmt.Errorf("end-room: %w", err)
		}
		if err := r.EndRoom(sess); err != nil {
			// Authorisation failures are silently ignored at the protocol
			// level; a closed room makes a repeat end-room a no-op.
			if !errors.Is(err, types.ErrRoomClosed) {
				logging.Warn(ctx, "Unauthorised end-room ignored",
					zap.String("room", string(r.name)),
					zap.Int64("clientId", int64(sess.GetID())))
			}
		}

	default:
		logging.Warn(ctx, "Received unknown control type",
			zap.String("type", string(env.Type)),
			zap.String("room", string(r.name)))
		status = "ignored"
	}
	return nil
}

// HandleSync routes one inbound binary CRDT frame into the sync engine.
func (r *Room) HandleSync(ctx context.Context, sess types.SessionInterface, frame []byte) error {
	metrics.SyncFrames.WithLabelValues("in").Inc()

	sent, err := r.doc.Ingest(sess, frame)
	if sent > 0 {
		metrics.SyncFrames.WithLabelValues("out").Add(float64(sent))
	}
	if err != nil {
		if errors.Is(err, types.ErrDocumentDestroyed) {
			// Internal invariant violation: fail the room, keep the process.
			r.Fail("document destroyed while room alive")
		}
		return err
	}
	return nil
}

// HandleSessionDisconnect processes an ordinary departure: socket close,
// read error, or the tail end of a graceful client-left. Calling it for a
// session that already departed is a no-op.
func (r *Room) HandleSessionDisconnect(sess types.SessionInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.departLocked(sess, true)
}

// handleClientJoined relays the informational join notice to the others.
func (r *Room) handleClientJoined(sess types.SessionInterface, msg clientJoinedMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.broadcastControl(sess, ClientJoinedBroadcast{
		Type:     ControlClientJoined,
		ClientId: msg.ClientId,
		Username: msg.Username,
		Message:  fmt.Sprintf("%s joined the room", msg.Username),
	})
}

// handleClientLeft begins a graceful departure when the claimed clientId
// matches the issuing session. The session close completes the teardown.
func (r *Room) handleClientLeft(ctx context.Context, sess types.SessionInterface, msg clientLeftMessage) {
	if msg.ClientId != sess.GetID() {
		logging.Warn(ctx, "client-left clientId mismatch ignored",
			zap.Int64("claimed", int64(msg.ClientId)),
			zap.Int64("actual", int64(sess.GetID())),
			zap.String("room", string(r.name)))
		return
	}

	r.mu.Lock()
	r.departLocked(sess, true)
	r.mu.Unlock()

	sess.Disconnect()
}

// EndRoom performs administrative termination. Only the session the room
// holds as admin may trigger it; a second call after teardown is a no-op.
func (r *Room) EndRoom(sess types.SessionInterface) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return types.ErrRoomClosed
	}
	if r.admin == nil || r.admin != sess {
		return types.ErrNotAdmin
	}

	adminName := sess.GetUsername()
	notice := RoomEndedMessage{
		Type:    ControlRoomEnded,
		Message: fmt.Sprintf("Room has been closed by the admin %s", adminName),
	}
	logging.Info(context.Background(), "Admin ended room",
		zap.String("room", string(r.name)),
		zap.String("admin", string(adminName)))

	r.teardownLocked(sess, notice, websocket.CloseNormalClosure, "Room ended")
	return nil
}

// CloseRoom force-closes the room with the given reason, regardless of admin.
// Used for process shutdown.
func (r *Room) CloseRoom(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	notice := RoomEndedMessage{Type: ControlRoomEnded, Message: reason}
	r.teardownLocked(nil, notice, websocket.CloseGoingAway, reason)
}

// Fail handles an internal invariant violation: all sessions are closed with
// an internal-error code and the room is destroyed. Other rooms are
// unaffected.
func (r *Room) Fail(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failLocked(reason)
}

func (r *Room) failLocked(reason string) {
	if r.closed {
		return
	}
	logging.Error(context.Background(), "Room failed",
		zap.String("room", string(r.name)),
		zap.String("reason", reason))
	r.teardownLocked(nil, RoomEndedMessage{Type: ControlRoomEnded, Message: reason},
		websocket.CloseInternalServerErr, reason)
}

// departLocked removes a participant, broadcasts client-left, clears the
// admin reference when the admin departs (no auto-promotion), and destroys
// the room when it empties. Caller must hold r.mu.
func (r *Room) departLocked(sess types.SessionInterface, broadcast bool) {
	if r.closed {
		return
	}

	p, ok := r.participants[sess.GetID()]
	if !ok || p.Session != sess {
		return
	}

	delete(r.participants, p.ClientId)
	for i, id := range r.order {
		if id == p.ClientId {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.doc.Detach(sess)

	if r.admin == sess {
		// The room survives adminless; no successor is promoted.
		r.admin = nil
	}

	metrics.RoomParticipants.WithLabelValues(string(r.name)).Set(float64(len(r.participants)))
	logging.Info(context.Background(), "Client departed",
		zap.String("room", string(r.name)),
		zap.Int64("clientId", int64(p.ClientId)),
		zap.Int("remaining", len(r.participants)))

	if broadcast && len(r.participants) > 0 {
		r.broadcastControl(nil, ClientLeftBroadcast{
			Type:     ControlClientLeft,
			ClientId: p.ClientId,
			Username: p.Username,
			Message:  fmt.Sprintf("%s left the room", p.Username),
		})
	}

	if len(r.participants) == 0 {
		r.destroyLocked()
	}
}

// teardownLocked notifies and closes every session, then destroys the room.
// The initiator (may be nil) is closed without the notice. Caller holds r.mu.
func (r *Room) teardownLocked(initiator types.SessionInterface, notice RoomEndedMessage, closeCode int, closeReason string) {
	raw, err := json.Marshal(notice)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal room-ended notice", zap.Error(err))
	}

	for _, id := range r.order {
		p := r.participants[id]
		if p.Session != initiator && raw != nil {
			p.Session.SendControl(raw)
		}
		p.Session.CloseWithStatus(closeCode, closeReason)
		r.doc.Detach(p.Session)
	}
	r.participants = make(map[types.ClientIdType]*Participant)
	r.order = nil
	r.admin = nil

	r.destroyLocked()
}

// destroyLocked destroys the document exactly once, updates metrics and
// releases the room from the registry. Caller holds r.mu.
func (r *Room) destroyLocked() {
	if r.closed {
		return
	}
	r.closed = true

	if err := r.engine.DestroyDocument(r.name); err != nil {
		logging.Error(context.Background(), "Failed to destroy document",
			zap.String("room", string(r.name)), zap.Error(err))
	}

	metrics.ActiveRooms.Dec()
	metrics.RoomParticipants.DeleteLabelValues(string(r.name))

	if r.onEmpty == nil {
		logging.Error(context.Background(), "onEmpty callback not defined. This will leak the room.",
			zap.String("room", string(r.name)))
		return
	}
	// Run outside the room lock to avoid lock-order inversion with the
	// registry, which takes its own lock before this room's.
	go func() {
		defer func() {
			if recover() != nil {
				logging.Error(context.Background(), "Panic in onEmpty callback",
					zap.String("room", string(r.name)))
			}
		}()
		r.onEmpty(r.name, r)
	}()
}

// roster builds the post-admission participant list in insertion order.
// Caller holds r.mu.
func (r *Room) roster() []types.ParticipantInfo {
	infos := make([]types.ParticipantInfo, 0, len(r.order))
	for _, id := range r.order {
		p := r.participants[id]
		infos = append(infos, types.ParticipantInfo{ClientId: p.ClientId, Username: p.Username})
	}
	return infos
}

// broadcastControl marshals once and fans the frame out to every participant
// except the excluded session, in insertion order, best-effort. Caller holds
// r.mu.
func (r *Room) broadcastControl(exclude types.SessionInterface, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal broadcast message", zap.Error(err))
		return
	}
	for _, id := range r.order {
		p := r.participants[id]
		if p.Session == exclude {
			continue
		}
		p.Session.SendControl(raw)
	}
}
