package transport

import (
	"context"
	"sync"
	"time"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/metrics"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// writeWait is the deadline for a single socket write.
const writeWait = 10 * time.Second

// sendBufferSize is the per-socket outbound queue. Frames are dropped once a
// client falls this far behind.
const sendBufferSize = 256

// maxFrameSize caps inbound frames. Map loads with embedded image metadata
// are the largest legitimate payload and stay well under this.
const maxFrameSize = 64 * 1024

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error) // Read the next message from the connection
	WriteMessage(messageType int, data []byte) error     // Write a message to the connection
	Close() error                                        // Close the connection
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
}

// Client is one WebSocket connection bound to a (room, player) pair.
// It implements types.ClientInterface. A reconnecting player arrives as a
// brand-new Client; the ConnectionManager decides whether that replaces a
// live socket or cancels a pending eviction.
type Client struct {
	conn       wsConnection
	roomId     types.RoomIdType
	playerName types.PlayerNameType
	manager    *ConnectionManager

	mu          sync.RWMutex // Protects closed and closeReason
	closed      bool
	closeReason string

	send chan []byte // Buffered channel of encoded frames awaiting delivery
}

// NewClient wraps an upgraded connection. The hub starts the pumps after the
// manager has registered the client.
func NewClient(conn wsConnection, roomId types.RoomIdType, playerName types.PlayerNameType, manager *ConnectionManager) *Client {
	return &Client{
		conn:       conn,
		roomId:     roomId,
		playerName: playerName,
		manager:    manager,
		send:       make(chan []byte, sendBufferSize),
	}
}

// --- types.ClientInterface getters ---

func (c *Client) GetRoomId() types.RoomIdType {
	return c.roomId
}

func (c *Client) GetPlayerName() types.PlayerNameType {
	return c.playerName
}

// SendRaw queues a pre-encoded frame for delivery. Frames are dropped rather
// than letting one slow client stall the sender.
func (c *Client) SendRaw(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		logging.Debug(context.Background(), "Skipping send to closed client",
			zap.String("player_name", string(c.playerName)))
		return
	}
	c.mu.RUnlock()

	// Safety net in case the channel closes between the flag check and the send.
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from panic in SendRaw",
				zap.String("player_name", string(c.playerName)), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Client send channel full, dropping frame",
			zap.String("room_id", string(c.roomId)),
			zap.String("player_name", string(c.playerName)))
		metrics.WebsocketEvents.WithLabelValues("outbound", "dropped").Inc()
	}
}

// Disconnect closes the outbound channel. writePump drains whatever is still
// queued, sends a close frame, and tears down the connection. Safe to call
// more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.send)
}

// DisconnectWithReason records a human-readable reason for the close frame
// before disconnecting. Used for kicks and room teardown.
func (c *Client) DisconnectWithReason(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closeReason = reason
	c.mu.Unlock()

	c.Disconnect()
}

// readPump consumes inbound frames and hands them to the game router. It owns
// the read side of the connection: when it returns, the socket is closed and
// the manager is told, which starts the reconnect grace timer.
func (c *Client) readPump(router types.GameRouter) {
	ctx := logging.WithRoom(context.Background(), string(c.roomId))
	ctx = logging.WithPlayer(ctx, string(c.playerName))

	defer func() {
		c.manager.Remove(ctx, c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	c.conn.SetReadLimit(maxFrameSize)

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn(ctx, "WebSocket closed unexpectedly", zap.Error(err))
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		router.Route(ctx, c, c.manager.Room(c.roomId), raw)
	}
}

// writePump drains the send channel onto the socket. It exits when Disconnect
// closes the channel, after delivering everything still queued and a close
// frame so well-behaved clients know the shutdown was deliberate.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Debug(context.Background(), "WebSocket write failed",
				zap.String("player_name", string(c.playerName)), zap.Error(err))
			return
		}
	}

	c.mu.RLock()
	reason := c.closeReason
	c.mu.RUnlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
}
