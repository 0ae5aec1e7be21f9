// Package docsync is the relay's CRDT sync engine. It owns the per-room
// documents, performs the initial sync handshake with newly attached peers,
// and fans inbound frames out to the other peers of the same document.
//
// The engine is deliberately algorithm-opaque: the document is an append-only
// log of opaque update payloads. Convergence is the CRDT library's job on the
// client side; updates are idempotent and commutative there, so replaying the
// log to a newcomer is a correct initial state exchange.
package docsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytetogether/relay/internal/v1/logging"
	"github.com/bytetogether/relay/internal/v1/types"
	"go.uber.org/zap"
)

// Peer is one attached session, seen from the engine. The transport's Session
// satisfies it; tests use lightweight fakes.
type Peer interface {
	GetID() types.ClientIdType
	SendSync(frame []byte)
}

// Engine maps room names to live documents.
type Engine struct {
	mu   sync.Mutex
	docs map[types.RoomNameType]*Document
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{docs: make(map[types.RoomNameType]*Document)}
}

// GetOrCreateDocument is idempotent: a second call with the same name returns
// the same instance until DestroyDocument is invoked.
func (e *Engine) GetOrCreateDocument(name types.RoomNameType) *Document {
	e.mu.Lock()
	defer e.mu.Unlock()

	if d, ok := e.docs[name]; ok {
		return d
	}
	d := &Document{name: name}
	e.docs[name] = d
	return d
}

// DestroyDocument irrevocably releases the document's state. Destroying a
// document that does not exist (or was already destroyed) is an error; each
// document is destroyed exactly once.
func (e *Engine) DestroyDocument(name types.RoomNameType) error {
	e.mu.Lock()
	d, ok := e.docs[name]
	if ok {
		delete(e.docs, name)
	}
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("destroy %q: %w", name, types.ErrDocumentDestroyed)
	}

	d.mu.Lock()
	d.destroyed = true
	d.updates = nil
	d.peers = nil
	d.mu.Unlock()

	logging.Info(context.Background(), "Document destroyed", zap.String("room", string(name)))
	return nil
}

// Document holds the opaque update log and the attached peers of one room.
// The log lives exactly as long as the room does.
type Document struct {
	name      types.RoomNameType
	mu        sync.Mutex
	updates   [][]byte // opaque CRDT payloads, receive order
	peers     []Peer   // insertion order, drives fan-out order
	destroyed bool
}

// Name returns the room name the document is addressed by.
func (d *Document) Name() types.RoomNameType {
	return d.name
}

// Attach registers a peer and initiates the sync handshake: the peer is sent
// a sync-step-1 frame, then the stored update log so it converges on the
// current state.
func (d *Document) Attach(p Peer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return types.ErrDocumentDestroyed
	}
	d.peers = append(d.peers, p)

	p.SendSync(EncodeSync(SyncStep1, emptyStateVector))
	for _, update := range d.updates {
		p.SendSync(EncodeSync(SyncUpdate, update))
	}
	return nil
}

// Detach removes a peer. Detaching a peer that is not attached is a no-op.
func (d *Document) Detach(p Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, peer := range d.peers {
		if peer == p {
			d.peers = append(d.peers[:i], d.peers[i+1:]...)
			return
		}
	}
}

// Ingest consumes one inbound binary frame from a peer. It returns the number
// of frames emitted to other peers. Frames are never echoed to their sender.
func (d *Document) Ingest(from Peer, frame []byte) (int, error) {
	decoded, err := DecodeFrame(frame)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return 0, types.ErrDocumentDestroyed
	}

	switch decoded.Type {
	case MessageSync:
		if decoded.SyncType == SyncStep1 {
			// The peer asked for our state: reply with the stored log,
			// then an empty step-2 so the peer considers itself synced.
			for _, update := range d.updates {
				from.SendSync(EncodeSync(SyncUpdate, update))
			}
			from.SendSync(EncodeSync(SyncStep2, emptyUpdate))
			return len(d.updates) + 1, nil
		}

		// Step-2 and update frames both carry document state: record the
		// payload and relay the original frame to everyone else.
		d.updates = append(d.updates, decoded.Payload)
		return d.fanOut(from, frame), nil

	case MessageAwareness:
		// Presence is ephemeral: relay, never store.
		return d.fanOut(from, frame), nil
	}

	return 0, fmt.Errorf("%w: unroutable message type %d", ErrBadFrame, decoded.Type)
}

// fanOut sends a raw frame to every peer except the originator, in insertion
// order, best-effort. Caller must hold d.mu.
func (d *Document) fanOut(from Peer, frame []byte) int {
	sent := 0
	for _, p := range d.peers {
		if p == from {
			continue
		}
		p.SendSync(frame)
		sent++
	}
	return sent
}
