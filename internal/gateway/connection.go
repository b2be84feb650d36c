package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Connection wraps one accepted websocket and the identity it resolves
// to after HELLO. Inbound frames are handled one at a time by the read
// loop itself — since Read blocks until the next frame arrives, calling
// the handler synchronously before looping back to Read already gives
// one in-flight handler per connection, without a separate
// pending-handler queue. Outbound frames go through outbox, drained by
// a single writer goroutine, because coder/websocket permits only one
// concurrent writer and both the read loop and the server's pub/sub
// forwarder may want to send to the same connection.
type Connection struct {
	conn   *websocket.Conn
	outbox chan []byte

	playerID string // empty until HELLO succeeds
}

func newConnection(conn *websocket.Conn) *Connection {
	return &Connection{
		conn:   conn,
		outbox: make(chan []byte, 16),
	}
}

// send enqueues a message for the writer goroutine. Never blocks
// indefinitely: delivery is best-effort, so a full outbox drops the
// oldest send rather than stalling the caller.
func (c *Connection) send(ctx context.Context, msg OutboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.outbox <- data:
	case <-ctx.Done():
	default:
		select {
		case <-c.outbox:
		default:
		}
		select {
		case c.outbox <- data:
		default:
		}
	}
}

// writeLoop drains outbox onto the websocket until ctx is canceled.
func (c *Connection) writeLoop(ctx context.Context, logger *logrus.Entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.outbox:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.WithError(err).Debug("write failed, connection likely closing")
				return
			}
		}
	}
}
