package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const writeTimeout = 10 * time.Second

// streamMetrics relays live samples for one server over a WebSocket.
// The stream is not restartable: a dropped consumer reconnects and
// resumes from the next sample.
func (a *API) streamMetrics(c *gin.Context) {
	serverID := c.Param("id")
	if _, err := a.store.GetServer(c.Request.Context(), serverID); err != nil {
		a.fail(c, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	defer ws.Close()

	feed := a.hub.Subscribe(serverID)
	defer a.hub.Unsubscribe(serverID, feed)

	a.logger.Info("Metrics stream opened", zap.String("server_id", serverID))

	// Reads are discarded; the read loop only notices disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			a.logger.Info("Metrics stream closed", zap.String("server_id", serverID))
			return
		case sample, ok := <-feed:
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteJSON(sample); err != nil {
				a.logger.Warn("Failed to write metrics sample",
					zap.String("server_id", serverID),
					zap.Error(err))
				return
			}
		}
	}
}
