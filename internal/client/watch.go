package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Event is one message from the live channel.
type Event struct {
	Type string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Watch follows the live event channel until ctx ends or the server closes
// the connection. With admin set the connection asks to join the privileged
// channel using the client's session token; the server ignores the request
// silently when the session is not valid.
func (c *Client) Watch(ctx context.Context, admin bool, fn func(Event)) error {
	wsURL := *c.baseURL
	wsURL.Scheme = strings.Replace(wsURL.Scheme, "http", "ws", 1)
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/ws"

	header := http.Header{}
	if c.token != "" {
		header.Set("Cookie", "session="+c.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL.String(), err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if admin {
		if err := conn.WriteJSON(map[string]string{"action": "join_admin"}); err != nil {
			return fmt.Errorf("failed to join admin channel: %w", err)
		}
	}

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("event stream closed: %w", err)
		}
		fn(ev)
	}
}
