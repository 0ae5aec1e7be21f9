package docsync

import (
	"errors"
	"fmt"
)

// The relay speaks the y-protocol envelope only: enough framing to tell a
// sync message from an awareness message and to drive the initial handshake.
// Payload bytes are opaque CRDT state and are never inspected.
//
// Wire layout (lib0 varuint encoding, low 7 bits per byte, high bit
// continues):
//
//	sync:      varuint(0) varuint(subtype) varuint(len) payload
//	awareness: varuint(1) varuint(len) payload

// Top-level message types.
const (
	MessageSync      = 0
	MessageAwareness = 1
)

// Sync message sub-types.
const (
	SyncStep1  = 0
	SyncStep2  = 1
	SyncUpdate = 2
)

var ErrBadFrame = errors.New("malformed sync frame")

// Frame is a decoded envelope. SyncType is meaningful only when Type is
// MessageSync.
type Frame struct {
	Type     uint64
	SyncType uint64
	Payload  []byte
}

// emptyStateVector is the state vector of an empty document: zero clients.
var emptyStateVector = []byte{0}

// emptyUpdate is the canonical empty document update. It carries no
// operations; it exists to answer sync-step-1 so the peer flips to synced.
var emptyUpdate = []byte{0, 0}

func writeVarUint(buf []byte, n uint64) []byte {
	for n >= 0x80 {
		buf = append(buf, byte(n)|0x80)
		n >>= 7
	}
	return append(buf, byte(n))
}

func readVarUint(buf []byte) (uint64, []byte, error) {
	var n uint64
	var shift uint
	for i, b := range buf {
		if i > 9 {
			return 0, nil, ErrBadFrame
		}
		n |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return n, buf[i+1:], nil
		}
		shift += 7
	}
	return 0, nil, ErrBadFrame
}

func readByteArray(buf []byte) ([]byte, []byte, error) {
	length, rest, err := readVarUint(buf)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < length {
		return nil, nil, ErrBadFrame
	}
	return rest[:length], rest[length:], nil
}

// EncodeSync frames an opaque payload as a sync message of the given sub-type.
func EncodeSync(syncType uint64, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+4)
	buf = writeVarUint(buf, MessageSync)
	buf = writeVarUint(buf, syncType)
	buf = writeVarUint(buf, uint64(len(payload)))
	return append(buf, payload...)
}

// EncodeAwareness frames an opaque awareness payload.
func EncodeAwareness(payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+3)
	buf = writeVarUint(buf, MessageAwareness)
	buf = writeVarUint(buf, uint64(len(payload)))
	return append(buf, payload...)
}

// DecodeFrame parses the envelope of one inbound binary frame.
func DecodeFrame(data []byte) (Frame, error) {
	msgType, rest, err := readVarUint(data)
	if err != nil {
		return Frame{}, err
	}

	switch msgType {
	case MessageSync:
		syncType, rest, err := readVarUint(rest)
		if err != nil {
			return Frame{}, err
		}
		if syncType > SyncUpdate {
			return Frame{}, fmt.Errorf("%w: unknown sync sub-type %d", ErrBadFrame, syncType)
		}
		payload, _, err := readByteArray(rest)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: MessageSync, SyncType: syncType, Payload: payload}, nil

	case MessageAwareness:
		payload, _, err := readByteArray(rest)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: MessageAwareness, Payload: payload}, nil

	default:
		return Frame{}, fmt.Errorf("%w: unknown message type %d", ErrBadFrame, msgType)
	}
}
