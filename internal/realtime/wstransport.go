package realtime

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"territorywar.gg/internal/protocol"
)

// WSTransport subscribes to the server's /v1/events websocket endpoint.
type WSTransport struct {
	URL     string
	ActorID string // optional: counts this client toward presence
	Dialer  *websocket.Dialer
}

func (t *WSTransport) Subscribe(ctx context.Context) (Conn, error) {
	d := t.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	conn, _, err := d.DialContext(ctx, t.URL, nil)
	if err != nil {
		return nil, err
	}
	sub := protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		ActorID:         t.ActorID,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Next() ([]byte, error) {
	_, b, err := w.conn.ReadMessage()
	return b, err
}

func (w *wsConn) Close() error { return w.conn.Close() }
