package monitor

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	// readWait bounds how long a stream may sit silent. Student clients
	// ping for the clock well inside this window; instructors receive the
	// roster feed, so only a dead peer trips it.
	readWait = 5 * time.Minute
)

// WriteTyped sends one JSON payload with a write deadline.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// ReadJSON decodes the next message, refreshing the read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}
