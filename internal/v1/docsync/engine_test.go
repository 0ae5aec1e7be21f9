package docsync

import (
	"testing"

	"github.com/bytetogether/relay/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePeer records every sync frame it is sent.
type fakePeer struct {
	id     types.ClientIdType
	frames [][]byte
}

func (p *fakePeer) GetID() types.ClientIdType { return p.id }
func (p *fakePeer) SendSync(frame []byte)     { p.frames = append(p.frames, frame) }

func TestGetOrCreateDocument_Idempotent(t *testing.T) {
	e := NewEngine()

	d1 := e.GetOrCreateDocument("alpha-main.go")
	d2 := e.GetOrCreateDocument("alpha-main.go")
	assert.Same(t, d1, d2)

	other := e.GetOrCreateDocument("beta-main.go")
	assert.NotSame(t, d1, other)
}

func TestDestroyDocument_ExactlyOnce(t *testing.T) {
	e := NewEngine()
	e.GetOrCreateDocument("alpha")

	require.NoError(t, e.DestroyDocument("alpha"))

	err := e.DestroyDocument("alpha")
	assert.ErrorIs(t, err, types.ErrDocumentDestroyed)
}

func TestDestroyDocument_NewInstanceAfterDestroy(t *testing.T) {
	e := NewEngine()
	d1 := e.GetOrCreateDocument("alpha")
	require.NoError(t, e.DestroyDocument("alpha"))

	d2 := e.GetOrCreateDocument("alpha")
	assert.NotSame(t, d1, d2)
}

func TestAttach_HandshakeThenReplay(t *testing.T) {
	e := NewEngine()
	d := e.GetOrCreateDocument("alpha")

	writer := &fakePeer{id: 1}
	require.NoError(t, d.Attach(writer))

	// Two updates land before the second peer attaches.
	_, err := d.Ingest(writer, EncodeSync(SyncUpdate, []byte{1}))
	require.NoError(t, err)
	_, err = d.Ingest(writer, EncodeSync(SyncUpdate, []byte{2}))
	require.NoError(t, err)

	reader := &fakePeer{id: 2}
	require.NoError(t, d.Attach(reader))

	// First a step-1 probe, then the log in receive order.
	require.Len(t, reader.frames, 3)

	first, err := DecodeFrame(reader.frames[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(SyncStep1), first.SyncType)

	u1, err := DecodeFrame(reader.frames[1])
	require.NoError(t, err)
	assert.Equal(t, uint64(SyncUpdate), u1.SyncType)
	assert.Equal(t, []byte{1}, u1.Payload)

	u2, err := DecodeFrame(reader.frames[2])
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, u2.Payload)
}

func TestAttach_DestroyedDocument(t *testing.T) {
	e := NewEngine()
	d := e.GetOrCreateDocument("alpha")
	require.NoError(t, e.DestroyDocument("alpha"))

	err := d.Attach(&fakePeer{id: 1})
	assert.ErrorIs(t, err, types.ErrDocumentDestroyed)
}

func TestIngest_UpdateFansOutWithoutEcho(t *testing.T) {
	e := NewEngine()
	d := e.GetOrCreateDocument("alpha")

	a := &fakePeer{id: 1}
	b := &fakePeer{id: 2}
	c := &fakePeer{id: 3}
	require.NoError(t, d.Attach(a))
	require.NoError(t, d.Attach(b))
	require.NoError(t, d.Attach(c))
	a.frames, b.frames, c.frames = nil, nil, nil

	frame := EncodeSync(SyncUpdate, []byte{42})
	sent, err := d.Ingest(a, frame)
	require.NoError(t, err)

	assert.Equal(t, 2, sent)
	assert.Empty(t, a.frames, "sender must not receive its own frame")
	require.Len(t, b.frames, 1)
	require.Len(t, c.frames, 1)
	assert.Equal(t, frame, b.frames[0], "frame is relayed verbatim")
}

func TestIngest_Step1RepliesWithLogAndStep2(t *testing.T) {
	e := NewEngine()
	d := e.GetOrCreateDocument("alpha")

	writer := &fakePeer{id: 1}
	require.NoError(t, d.Attach(writer))
	_, err := d.Ingest(writer, EncodeSync(SyncUpdate, []byte{7}))
	require.NoError(t, err)

	asker := &fakePeer{id: 2}
	require.NoError(t, d.Attach(asker))
	asker.frames = nil

	sent, err := d.Ingest(asker, EncodeSync(SyncStep1, emptyStateVector))
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	require.Len(t, asker.frames, 2)
	update, err := DecodeFrame(asker.frames[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(SyncUpdate), update.SyncType)
	assert.Equal(t, []byte{7}, update.Payload)

	step2, err := DecodeFrame(asker.frames[1])
	require.NoError(t, err)
	assert.Equal(t, uint64(SyncStep2), step2.SyncType)
}

func TestIngest_AwarenessRelayedNeverStored(t *testing.T) {
	e := NewEngine()
	d := e.GetOrCreateDocument("alpha")

	a := &fakePeer{id: 1}
	b := &fakePeer{id: 2}
	require.NoError(t, d.Attach(a))
	require.NoError(t, d.Attach(b))
	b.frames = nil

	frame := EncodeAwareness([]byte("cursor"))
	sent, err := d.Ingest(a, frame)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, frame, b.frames[0])

	// A late joiner must not see the awareness payload in the replay.
	late := &fakePeer{id: 3}
	require.NoError(t, d.Attach(late))
	require.Len(t, late.frames, 1) // step-1 only, no stored updates
}

func TestIngest_MalformedFrame(t *testing.T) {
	e := NewEngine()
	d := e.GetOrCreateDocument("alpha")
	a := &fakePeer{id: 1}
	require.NoError(t, d.Attach(a))

	_, err := d.Ingest(a, []byte{99, 1, 2})
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestIngest_AfterDestroy(t *testing.T) {
	e := NewEngine()
	d := e.GetOrCreateDocument("alpha")
	a := &fakePeer{id: 1}
	require.NoError(t, d.Attach(a))
	require.NoError(t, e.DestroyDocument("alpha"))

	_, err := d.Ingest(a, EncodeSync(SyncUpdate, []byte{1}))
	assert.ErrorIs(t, err, types.ErrDocumentDestroyed)
}

func TestDetach_StopsFanOut(t *testing.T) {
	e := NewEngine()
	d := e.GetOrCreateDocument("alpha")

	a := &fakePeer{id: 1}
	b := &fakePeer{id: 2}
	require.NoError(t, d.Attach(a))
	require.NoError(t, d.Attach(b))
	d.Detach(b)
	b.frames = nil

	sent, err := d.Ingest(a, EncodeSync(SyncUpdate, []byte{1}))
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, b.frames)

	// Detaching again is a no-op.
	d.Detach(b)
}
