package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytetogether/relay/internal/v1/logging"
	"github.com/bytetogether/relay/internal/v1/metrics"
	"github.com/bytetogether/relay/internal/v1/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error) // Read the next message from the connection
	WriteMessage(messageType int, data []byte) error     // Write a message to the connection
	Close() error                                        // Close the connection
	SetWriteDeadline(t time.Time) error
}

// Client is the per-connection session: it owns one WebSocket, classifies
// inbound frames as binary CRDT vs JSON control, forwards them into its room,
// and serialises outbound frames so writes from different sources never
// interleave. It implements types.SessionInterface.
type Client struct {
	conn       wsConnection
	room       types.Roomer
	ID         types.ClientIdType
	Username   types.DisplayNameType
	AdminClaim bool
	joinedAt   time.Time

	mu             sync.Mutex
	closed         bool
	closeCode      int
	closeText      string
	protocolErrors int
	errorThreshold int
	closeOnce      sync.Once

	sendCtrl chan []byte // JSON control frames (text)
	sendSync chan []byte // CRDT frames (binary)
}

func newClient(conn wsConnection, id types.ClientIdType, username types.DisplayNameType, adminClaim bool, queueSize, errorThreshold int) *Client {
	return &Client{
		conn:           conn,
		ID:             id,
		Username:       username,
		AdminClaim:     adminClaim,
		joinedAt:       time.Now(),
		errorThreshold: errorThreshold,
		closeCode:      websocket.CloseNormalClosure,
		sendCtrl:       make(chan []byte, queueSize),
		sendSync:       make(chan []byte, queueSize),
	}
}

// --- types.SessionInterface ---

func (c *Client) GetID() types.ClientIdType {
	return c.ID
}

func (c *Client) GetUsername() types.DisplayNameType {
	return c.Username
}

func (c *Client) JoinedAt() time.Time {
	return c.joinedAt
}

// SendControl queues a marshalled JSON control frame.
func (c *Client) SendControl(raw []byte) {
	c.trySend(c.sendCtrl, raw, "control")
}

// SendSync queues an opaque binary CRDT frame.
func (c *Client) SendSync(frame []byte) {
	c.trySend(c.sendSync, frame, "sync")
}

// trySend is non-blocking. A full queue means the peer cannot keep up;
// the session is disconnected rather than letting it block its room.
func (c *Client) trySend(ch chan []byte, data []byte, kind string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		logging.GetLogger().Debug("Skipping send to closed session", zap.Int64("clientId", int64(c.ID)))
		return
	}
	c.mu.Unlock()

	// The channel may be closed concurrently by Disconnect.
	defer func() {
		if r := recover(); r != nil {
			logging.GetLogger().Debug("Recovered from send on closed session",
				zap.Int64("clientId", int64(c.ID)), zap.Any("panic", r))
		}
	}()

	select {
	case ch <- data:
	default:
		logging.Warn(context.Background(), "Outbound queue full - disconnecting slow session",
			zap.Int64("clientId", int64(c.ID)), zap.String("kind", kind))
		c.CloseWithStatus(websocket.CloseTryAgainLater, "outbound queue overflow")
	}
}

// CloseWithStatus records the close code and reason, then disconnects.
// Frames already queued are flushed before the close frame goes out.
func (c *Client) CloseWithStatus(code int, reason string) {
	c.mu.Lock()
	if !c.closed {
		c.closeCode = code
		c.closeText = reason
	}
	c.mu.Unlock()
	c.Disconnect()
}

// Disconnect tears the session down. Closing the channels makes the write
// pump drain its buffers, send the close frame, and close the connection.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.sendCtrl)
		close(c.sendSync)
	})
}

// readPump continuously processes incoming WebSocket frames.
func (c *Client) readPump() {
	// The write pump owns conn.Close: disconnecting here closes the send
	// channels, which lets the write pump flush queued frames and the close
	// frame before tearing the socket down.
	defer func() {
		c.room.HandleSessionDisconnect(c)
		c.Disconnect()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		ctx := context.Background()
		switch messageType {
		case websocket.BinaryMessage:
			if err := c.room.HandleSync(ctx, c, data); err != nil {
				if c.protocolViolation(ctx, err) {
					return
				}
			}
		case websocket.TextMessage:
			if err := c.room.HandleControl(ctx, c, data); err != nil {
				if c.protocolViolation(ctx, err) {
					return
				}
			}
		default:
			if c.protocolViolation(ctx, fmt.Errorf("unexpected frame type %d", messageType)) {
				return
			}
		}
	}
}

// protocolViolation drops the offending frame and counts it. Crossing the
// threshold closes the session with a policy-violation close code; the
// return value tells the read loop to stop.
func (c *Client) protocolViolation(ctx context.Context, err error) bool {
	c.mu.Lock()
	c.protocolErrors++
	count := c.protocolErrors
	threshold := c.errorThreshold
	c.mu.Unlock()

	logging.Warn(ctx, "Protocol violation - frame dropped",
		zap.Int64("clientId", int64(c.ID)),
		zap.Int("count", count),
		zap.Error(err))

	if count >= threshold {
		c.CloseWithStatus(websocket.ClosePolicyViolation, "too many protocol violations")
		return true
	}
	return false
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for {
		select {
		case message, ok := <-c.sendCtrl:
			if !ok {
				// Both channels close together; drain the sync side so
				// queued frames precede the close frame.
				for m := range c.sendSync {
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.BinaryMessage, m)
				}
				c.writeCloseFrame(writeWait)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Error(context.Background(), "error writing control frame", zap.Error(err))
				return
			}
		case message, ok := <-c.sendSync:
			if !ok {
				for m := range c.sendCtrl {
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.TextMessage, m)
				}
				c.writeCloseFrame(writeWait)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				logging.Error(context.Background(), "error writing sync frame", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) writeCloseFrame(writeWait time.Duration) {
	c.mu.Lock()
	code := c.closeCode
	text := c.closeText
	c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}
