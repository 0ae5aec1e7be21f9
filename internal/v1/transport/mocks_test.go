package transport

import (
	"context"
	"sync"
	"time"

	"github.com/bytetogether/relay/internal/v1/types"
)

// MockConnection implements wsConnection
type MockConnection struct {
	ReadMessageFunc  func() (int, []byte, error)
	WriteMessageFunc func(int, []byte) error
	CloseFunc        func() error

	mu      sync.Mutex
	written []writtenFrame
	closed  bool
}

type writtenFrame struct {
	messageType int
	data        []byte
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	if m.ReadMessageFunc != nil {
		return m.ReadMessageFunc()
	}
	return 0, nil, nil
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	m.written = append(m.written, writtenFrame{messageType, data})
	m.mu.Unlock()
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}
	return nil
}

func (m *MockConnection) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockConnection) SetWriteDeadline(_ time.Time) error {
	return nil
}

func (m *MockConnection) writtenFrames() []writtenFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]writtenFrame, len(m.written))
	copy(out, m.written)
	return out
}

func (m *MockConnection) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

const waitTimeout = 2 * time.Second

// waitFor polls until the condition holds or the timeout elapses.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// mockRoomer implements types.Roomer and records what the session routed in.
type mockRoomer struct {
	mu          sync.Mutex
	syncFrames  [][]byte
	ctrlFrames  [][]byte
	disconnects int

	syncErr error
	ctrlErr error
}

func (m *mockRoomer) GetName() types.RoomNameType { return "mock-room" }

func (m *mockRoomer) HandleControl(_ context.Context, _ types.SessionInterface, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctrlFrames = append(m.ctrlFrames, raw)
	return m.ctrlErr
}

func (m *mockRoomer) HandleSync(_ context.Context, _ types.SessionInterface, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncFrames = append(m.syncFrames, frame)
	return m.syncErr
}

func (m *mockRoomer) HandleSessionDisconnect(_ types.SessionInterface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
}

func (m *mockRoomer) disconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

func (m *mockRoomer) syncCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.syncFrames)
}

func (m *mockRoomer) ctrlCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ctrlFrames)
}
