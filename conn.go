package voiceagent

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agnivade/voiceagent/protocol"
)

// clientConn wraps the browser websocket. Writes from the relay and the turn
// worker are serialized; reads happen only on the relay's upstream loop.
type clientConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	log          zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func newClientConn(conn *websocket.Conn, writeTimeout time.Duration, logger zerolog.Logger) *clientConn {
	return &clientConn{
		conn:         conn,
		writeTimeout: writeTimeout,
		log:          logger,
	}
}

// Send writes ev as JSON. It is best-effort: failures are logged and
// swallowed.
func (c *clientConn) Send(ev protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteJSON(ev); err != nil {
		c.log.Debug().Err(err).Str("event", ev.Event).Msg("Dropped client event")
	}
}

func (c *clientConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

// interruptRead unblocks a pending ReadMessage.
func (c *clientConn) interruptRead() {
	c.conn.SetReadDeadline(time.Now())
}

// Close sends a close frame and closes the socket. It is safe to call more
// than once.
func (c *clientConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
