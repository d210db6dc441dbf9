package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"roofcrm/internal/callcontrol"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser origin checks belong at the edge; tokens are already verified
	// by the auth middleware before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const streamWriteTimeout = 5 * time.Second

// StateStream pushes CallState snapshots to the staff portal over a
// websocket: the current state on connect, then one message per mutation.
func (h Handlers) StateStream(c *gin.Context) {
	ctrl, _, ok := h.session(c)
	if !ok {
		return
	}

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// A small buffer absorbs bursts; when the portal cannot keep up we drop
	// intermediate snapshots rather than stall the controller.
	updates := make(chan callcontrol.CallState, 8)
	unsubscribe := ctrl.Subscribe(func(st callcontrol.CallState) {
		select {
		case updates <- st:
		default:
		}
	})
	defer unsubscribe()

	// Reader goroutine just watches for the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeState(conn, ctrl.GetState()); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case st := <-updates:
			if err := writeState(conn, st); err != nil {
				return
			}
		}
	}
}

func writeState(conn *websocket.Conn, st callcontrol.CallState) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(st)
}
