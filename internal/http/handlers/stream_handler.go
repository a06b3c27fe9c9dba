// README: Websocket stream of the caller's session notifications.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tripflow/internal/http/middleware"
	"tripflow/internal/modules/session"
	"tripflow/internal/types"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type notificationView struct {
	Kind   session.NotificationKind `json:"kind"`
	Trip   *tripView                `json:"trip,omitempty"`
	Driver *driverView              `json:"driver,omitempty"`
	Error  string                   `json:"error,omitempty"`
	At     int64                    `json:"at"`
}

func viewNotification(n session.Notification) notificationView {
	v := notificationView{Kind: n.Kind, At: n.At.UnixMilli()}
	if n.Trip != nil {
		t := viewTrip(*n.Trip)
		v.Trip = &t
	}
	if n.Driver != nil {
		d := viewDriver(*n.Driver)
		v.Driver = &d
	}
	if n.Err != nil {
		v.Error = n.Err.Error()
	}
	return v
}

// notifier is the part of a session the stream reads from.
type notifier interface {
	Notifications() <-chan session.Notification
}

// StreamHandler forwards a session's notifications to one websocket. A
// session's notifications have a single reader, so only one connection
// per caller should be open at a time.
type StreamHandler struct {
	sessions *session.Registry
	log      *slog.Logger
}

func NewStreamHandler(sessions *session.Registry, log *slog.Logger) *StreamHandler {
	return &StreamHandler{sessions: sessions, log: log}
}

func (h *StreamHandler) Serve(c *gin.Context) {
	uid := types.ID(middleware.CallerUID(c))
	var src notifier
	if middleware.CallerRole(c) == middleware.RoleDriver {
		src = h.sessions.Driver(uid)
	} else {
		src = h.sessions.Passenger(uid)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "uid", string(uid), "error", err)
		return
	}
	connID := uuid.NewString()
	log := h.log.With("uid", string(uid), "conn_id", connID)
	log.Info("websocket connected")
	defer log.Info("websocket disconnected")

	closed := make(chan struct{})
	go readPump(conn, closed)
	writePump(conn, src.Notifications(), closed, log)
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, notes <-chan session.Notification, closed <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-closed:
			return
		case n, ok := <-notes:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := conn.WriteJSON(viewNotification(n)); err != nil {
				log.Warn("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
