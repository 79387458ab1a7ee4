package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/subscription"
)

// SocketConfig tunes the websocket surface.
type SocketConfig struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
}

func (c SocketConfig) withDefaults() SocketConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	return c
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// serveSocket upgrades the request and runs one reader and one writer for the
// connection. Events from a connection are handled in arrival order.
func serveSocket(h *eventHandler, reg *subscription.Registry, cfg SocketConfig, logger *log.Logger) echo.HandlerFunc {
	cfg = cfg.withDefaults()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	pongWait := 2 * cfg.PingInterval

	return func(c echo.Context) error {
		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			logger.WithError(err).Debug("websocket upgrade failed")
			return nil
		}
		conn := reg.Connect()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			writeLoop(ws, conn, cfg, logger)
		}()

		ws.SetReadLimit(maxFrameSize)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.WithError(err).WithField("conn", conn.ID).Debug("websocket read failed")
				}
				break
			}
			_ = ws.SetReadDeadline(time.Now().Add(pongWait))
			ack := h.handle(ctx, conn, msg)
			frame, err := encodeAck(ack)
			if err != nil {
				logger.WithError(err).WithField("conn", conn.ID).Error("encode ack")
				continue
			}
			if !reg.Enqueue(conn, frame) {
				break
			}
		}
		reg.Disconnect(conn)
		<-writerDone
		return nil
	}
}

// writeLoop owns all writes to ws and closes it once conn is done.
func writeLoop(ws *websocket.Conn, conn *subscription.Conn, cfg SocketConfig, logger *log.Logger) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case frame := <-conn.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.WithError(err).WithField("conn", conn.ID).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				return
			}
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteTimeout))
			return
		}
	}
}
