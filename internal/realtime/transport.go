package realtime

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// Conn is one live channel to the chat backend.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens an authenticated channel. Tests substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, url, credential string) (Conn, error)
}

// WebsocketDialer is the production Dialer, passing the credential as
// a bearer header on the upgrade request.
type WebsocketDialer struct{}

func (WebsocketDialer) Dial(ctx context.Context, url, credential string) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *websocketConn) WriteJSON(v interface{}) error {
	return c.conn.WriteJSON(v)
}

func (c *websocketConn) Close() error {
	return c.conn.Close()
}
