package room

import (
	"encoding/json"
	"fmt"

	"github.com/bytetogether/relay/internal/v1/types"
)

// Control protocol: the JSON text frames that share the socket with the
// binary CRDT stream. Inbound messages form a closed set of tagged variants;
// unknown types are ignored for forward compatibility, malformed JSON is a
// protocol violation.

// ControlType tags a control message.
type ControlType string

// Inbound control types.
const (
	ControlClientJoined ControlType = "client-joined"
	ControlClientLeft   ControlType = "client-left"
	ControlEndRoom      ControlType = "end-room"
)

// Outbound control types.
const (
	ControlClientUpdate ControlType = "client-update"
	ControlRoomFull     ControlType = "room-full"
	ControlRoomEnded    ControlType = "room-ended"
)

// controlEnvelope carries only the tag; payload fields are decoded per-type.
type controlEnvelope struct {
	Type ControlType `json:"type"`
}

// clientJoinedMessage announces a completed join, conventionally sent by the
// joining client itself post-admission.
type clientJoinedMessage struct {
	Type     ControlType           `json:"type"`
	ClientId types.ClientIdType    `json:"clientId"`
	Username types.DisplayNameType `json:"username"`
}

func (m clientJoinedMessage) validate() error {
	if m.Username == "" {
		return fmt.Errorf("client-joined: username is required")
	}
	return nil
}

// clientLeftMessage initiates a graceful departure. The room field is
// informational only; the relay uses the Room bound to the session.
type clientLeftMessage struct {
	Type     ControlType           `json:"type"`
	ClientId types.ClientIdType    `json:"clientId"`
	Username types.DisplayNameType `json:"username"`
	Room     string                `json:"room"`
}

// endRoomMessage requests administrative termination. Authorisation is the
// session reference held by the Room, never the claimed fields.
type endRoomMessage struct {
	Type     ControlType           `json:"type"`
	ClientId types.ClientIdType    `json:"clientId"`
	Username types.DisplayNameType `json:"username"`
	Room     string                `json:"room"`
}

// RoomFullMessage is the diagnostic frame sent before the 4001 close.
type RoomFullMessage struct {
	Type  ControlType `json:"type"`
	Error string      `json:"error"`
}

// NewRoomFullFrame builds the marshalled room-full diagnostic frame.
func NewRoomFullFrame(name types.RoomNameType) []byte {
	raw, _ := json.Marshal(RoomFullMessage{
		Type:  ControlRoomFull,
		Error: fmt.Sprintf("Room %s is at capacity", name),
	})
	return raw
}

// ClientUpdateMessage carries the post-admission roster to the other
// participants.
type ClientUpdateMessage struct {
	Type             ControlType             `json:"type"`
	ConnectedClients []types.ParticipantInfo `json:"connectedClients"`
}

// ClientJoinedBroadcast is the informational join notice relayed to others.
type ClientJoinedBroadcast struct {
	Type     ControlType           `json:"type"`
	ClientId types.ClientIdType    `json:"clientId"`
	Username types.DisplayNameType `json:"username"`
	Message  string                `json:"message"`
}

// ClientLeftBroadcast notifies remaining participants of a departure.
type ClientLeftBroadcast struct {
	Type     ControlType           `json:"type"`
	ClientId types.ClientIdType    `json:"clientId"`
	Username types.DisplayNameType `json:"username"`
	Message  string                `json:"message"`
}

// RoomEndedMessage precedes the socket close during administrative teardown.
type RoomEndedMessage struct {
	Type    ControlType `json:"type"`
	Message string      `json:"message"`
}
