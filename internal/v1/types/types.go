package types

import (
	"context"
	"errors"
	"time"
)

// --- Core Domain Types ---

// RoomNameType is the opaque key identifying a collaboration room.
// By convention clients compose it as "<project>-<file>", but the relay
// never interprets it.
type RoomNameType string

// ClientIdType is the integer identity a peer claims at upgrade time.
// Zero means anonymous. It is unauthenticated display data, not identity.
type ClientIdType int64

// DisplayNameType is the human-readable name shown to other participants.
type DisplayNameType string

// AnonymousClientId is the default clientId when the query parameter is
// absent or unparseable.
const AnonymousClientId ClientIdType = 0

// DefaultRoomCapacity is the participant cap applied when configuration
// does not override it.
const DefaultRoomCapacity = 5

// Application-level WebSocket close codes.
const (
	// CloseRoomFull is sent after the room-full diagnostic frame when a
	// join is rejected on capacity.
	CloseRoomFull = 4001
	// CloseDuplicateClient rejects a join whose clientId collides with a
	// live participant. No diagnostic frame precedes it.
	CloseDuplicateClient = 4002
)

// ParticipantInfo is the roster entry broadcast in client-update frames.
type ParticipantInfo struct {
	ClientId ClientIdType    `json:"clientId"`
	Username DisplayNameType `json:"username"`
}

// Sentinel errors shared across packages.
var (
	ErrRoomFull          = errors.New("room is at capacity")
	ErrDuplicateClient   = errors.New("clientId already present in room")
	ErrRoomClosed        = errors.New("room is closed")
	ErrNotAdmin          = errors.New("session is not the room admin")
	ErrDocumentDestroyed = errors.New("document has been destroyed")
)

// SessionInterface is the behavior the room package requires from a live
// connection. The Room holds sessions only through this interface so it can
// be exercised with mocks; the Room is authoritative and may evict a session
// at any time.
type SessionInterface interface {
	GetID() ClientIdType
	GetUsername() DisplayNameType
	JoinedAt() time.Time

	// SendControl queues a marshalled JSON control frame (text). SendSync
	// queues an opaque binary CRDT frame. Both are non-blocking; a full
	// queue disconnects the session rather than blocking the caller.
	SendControl(raw []byte)
	SendSync(frame []byte)

	// CloseWithStatus queues a close frame with the given application code
	// and reason, after any already-queued frames.
	CloseWithStatus(code int, reason string)
	// Disconnect tears the connection down with a normal close.
	Disconnect()
}

// Roomer is the room surface the transport's Session drives. The Session
// never mutates room state directly; it submits frames and lifecycle events
// through these methods.
type Roomer interface {
	GetName() RoomNameType
	HandleControl(ctx context.Context, sess SessionInterface, raw []byte) error
	HandleSync(ctx context.Context, sess SessionInterface, frame []byte) error
	HandleSessionDisconnect(sess SessionInterface)
}
