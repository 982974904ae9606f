package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	MsgTypeSample = "sample"
	MsgTypeStatus = "status"

	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSMessage is one frame of the live sample stream.
type WSMessage struct {
	Type    string         `json:"type"`
	Sample  *SampleView    `json:"sample,omitempty"`
	Logging *LoggingStatus `json:"logging,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// HandleSampleStream upgrades to a websocket and pushes every logged sample
// until the client goes away. A slow client misses samples instead of
// slowing the loop down.
func (h *Handler) HandleSampleStream(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	samples, cancel := h.loop.Subscribe(h.buffer)
	defer cancel()

	log := h.log.WithField("remote", c.RealIP())
	log.Debug("sample stream opened")

	// the read side only watches for the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithFields(logrus.Fields{"op": "ws_read", "error": err}).Debug("sample stream closed")
				}
				return
			}
		}
	}()

	status := h.loggingStatus()
	if err := h.writeWS(ws, WSMessage{Type: MsgTypeStatus, Logging: &status}); err != nil {
		return nil
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return nil
		case <-h.ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteTimeout))
			return nil
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return nil
			}
		case s, ok := <-samples:
			if !ok {
				return nil
			}
			view := NewSampleView(s)
			if err := h.writeWS(ws, WSMessage{Type: MsgTypeSample, Sample: &view}); err != nil {
				log.WithFields(logrus.Fields{"op": "ws_write", "error": err}).Debug("sample stream dropped")
				return nil
			}
		}
	}
}

func (h *Handler) writeWS(ws *websocket.Conn, msg WSMessage) error {
	if err := ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return ws.WriteJSON(msg)
}
