package chat

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// UpgradeRequired rejects plain HTTP requests on the websocket route
// before the upgrade handler runs.
func UpgradeRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// Handler upgrades the connection and hands it to a fresh session. One
// session per socket; the handler returns when the session ends.
func Handler(deps SessionDependencies) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		session := NewSession(wsConn{conn}, deps)
		session.Run(context.Background())
	})
}

// wsConn adapts *websocket.Conn to FrameConn, dropping the message
// type the session never looks at.
type wsConn struct {
	*websocket.Conn
}

func (c wsConn) ReadMessage() ([]byte, error) {
	_, payload, err := c.Conn.ReadMessage()
	return payload, err
}
