package room

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bytetogether/relay/internal/v1/types"
)

// mockSession implements types.SessionInterface and records everything the
// room sends it.
type mockSession struct {
	id       types.ClientIdType
	username types.DisplayNameType
	joined   time.Time

	mu           sync.Mutex
	control      [][]byte
	syncData     [][]byte
	closeCode    int
	closeText    string
	closed       bool
	disconnected bool
}

func newMockSession(id types.ClientIdType, username types.DisplayNameType) *mockSession {
	return &mockSession{id: id, username: username, joined: time.Now()}
}

func (m *mockSession) GetID() types.ClientIdType          { return m.id }
func (m *mockSession) GetUsername() types.DisplayNameType { return m.username }
func (m *mockSession) JoinedAt() time.Time                { return m.joined }

func (m *mockSession) SendControl(raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.control = append(m.control, raw)
}

func (m *mockSession) SendSync(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncData = append(m.syncData, frame)
}

func (m *mockSession) CloseWithStatus(code int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closeCode = code
		m.closeText = reason
		m.closed = true
	}
}

func (m *mockSession) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
}

func (m *mockSession) controlFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.control))
	copy(out, m.control)
	return out
}

func (m *mockSession) syncFrameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.syncData)
}

func (m *mockSession) closeStatus() (bool, int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed, m.closeCode, m.closeText
}

func (m *mockSession) wasDisconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

// controlTypes decodes the type tag of every recorded control frame.
func (m *mockSession) controlTypes() []ControlType {
	var out []ControlType
	for _, raw := range m.controlFrames() {
		var env controlEnvelope
		if err := json.Unmarshal(raw, &env); err == nil {
			out = append(out, env.Type)
		}
	}
	return out
}
