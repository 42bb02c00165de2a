package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/computor-org/computor-realtime/internal/authcache"
	"github.com/computor-org/computor-realtime/internal/middleware"
	"github.com/computor-org/computor-realtime/internal/realtime"
)

// handleWebSocket upgrades the request, validates the supplied credential,
// and runs the read loop until the client goes away. Auth failure closes the
// socket with a policy-violation code before any subscription is possible.
// Every surviving connection gets its own write pump draining the bounded
// outbound queue.
func (s *Server) handleWebSocket(c *gin.Context) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    s.subprotocols(c.Request),
		CheckOrigin:     s.checkOrigin,
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	record, err := s.deps.Auth.Validate(c.Request.Context(), middleware.ExtractCredential(c.Request))
	if err != nil {
		reason := "authentication failed"
		if !errors.Is(err, authcache.ErrAuthFailed) {
			s.logger.WithError(err).Error("Credential validation unavailable")
			reason = "validation unavailable"
		}
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
			time.Now().Add(s.cfg.Realtime.WriteWait))
		_ = ws.Close()
		return
	}
	principal := record.Principal()

	conn := s.deps.Manager.Register(principal)
	s.touchPresence(c, principal.UserID)

	log := s.logger.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"user_id":       principal.UserID,
	})
	log.Info("WebSocket connected")

	s.deps.Manager.Send(conn, realtime.ServerMessage{
		Type:   realtime.MsgConnected,
		UserID: principal.UserID,
	}.Encode())

	go s.writePump(ws, conn, log)
	s.readPump(ws, conn, principal, log)
}

// subprotocols echoes back the token-carrying subprotocol when the browser
// offered one, since the handshake fails if none of the offered protocols is
// selected.
func (s *Server) subprotocols(r *http.Request) []string {
	if cred := middleware.ExtractCredential(r); cred != "" {
		return []string{middleware.BearerProtocolPrefix + cred, "json"}
	}
	return []string{"json"}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if !s.cfg.Server.EnableCORS {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.Server.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) touchPresence(c *gin.Context, userID string) {
	if s.deps.Presence == nil {
		return
	}
	if err := s.deps.Presence.Touch(c.Request.Context(), userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Debug("Presence touch failed")
	}
}

// readPump owns inbound frames and the connection's lifetime. It returns when
// the client disconnects, misses its pong deadline, or sits idle past the
// idle timeout.
func (s *Server) readPump(ws *websocket.Conn, conn *realtime.Connection, principal realtime.Principal, log *logrus.Entry) {
	defer func() {
		s.deps.Manager.Disconnect(conn)
		_ = ws.Close()
		log.Info("WebSocket disconnected")
	}()

	cfg := s.cfg.Realtime
	if cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(cfg.MaxMessageSize)
	}
	_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("WebSocket read failed")
			}
			return
		}
		conn.Touch()

		var msg realtime.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.deps.Manager.Send(conn, realtime.ServerMessage{
				Type:    realtime.MsgError,
				Code:    "bad_message",
				Message: "message is not valid JSON",
			}.Encode())
			continue
		}

		s.handleClientMessage(conn, principal, msg, log)
	}
}

func (s *Server) handleClientMessage(conn *realtime.Connection, principal realtime.Principal, msg realtime.ClientMessage, log *logrus.Entry) {
	ctx := context.Background()

	switch msg.Type {
	case realtime.MsgSubscribe:
		var accepted []string
		for _, channel := range msg.Channels {
			err := s.deps.Manager.Subscribe(ctx, conn, principal, channel)
			switch {
			case err == nil:
				accepted = append(accepted, channel)
			case errors.Is(err, realtime.ErrChannelForbidden):
				// Only this subscription is refused; the connection lives on.
				s.deps.Manager.Send(conn, realtime.ServerMessage{
					Type:    realtime.MsgChannelError,
					Channel: channel,
					Code:    "forbidden",
					Message: "subscription not permitted",
				}.Encode())
			case errors.Is(err, realtime.ErrInvalidChannel):
				s.deps.Manager.Send(conn, realtime.ServerMessage{
					Type:    realtime.MsgChannelError,
					Channel: channel,
					Code:    "invalid_channel",
					Message: "unknown channel name",
				}.Encode())
			default:
				log.WithError(err).WithField("channel", channel).Warn("Subscribe failed")
			}
		}
		if len(accepted) > 0 {
			s.deps.Manager.Send(conn, realtime.ServerMessage{
				Type:     realtime.MsgSubscribed,
				Channels: accepted,
			}.Encode())
		}

	case realtime.MsgUnsubscribe:
		for _, channel := range msg.Channels {
			s.deps.Manager.Unsubscribe(conn, channel)
		}
		s.deps.Manager.Send(conn, realtime.ServerMessage{
			Type:     realtime.MsgUnsubscribed,
			Channels: msg.Channels,
		}.Encode())

	case realtime.MsgPing:
		if s.deps.Presence != nil {
			if err := s.deps.Presence.Touch(ctx, conn.UserID); err != nil {
				log.WithError(err).Debug("Presence touch failed")
			}
		}
		s.deps.Manager.Send(conn, realtime.ServerMessage{Type: realtime.MsgPong}.Encode())

	default:
		s.deps.Manager.Send(conn, realtime.ServerMessage{
			Type:    realtime.MsgError,
			Code:    "unknown_type",
			Message: "unsupported message type " + msg.Type,
		}.Encode())
	}
}

// writePump drains the outbound queue onto the socket and keeps the
// connection alive with protocol pings.
func (s *Server) writePump(ws *websocket.Conn, conn *realtime.Connection, log *logrus.Entry) {
	cfg := s.cfg.Realtime
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.WithError(err).Debug("WebSocket write failed")
				s.deps.Manager.Disconnect(conn)
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			if cfg.IdleTimeout > 0 && time.Since(conn.LastActivity()) > cfg.IdleTimeout {
				log.Debug("Closing idle connection")
				s.deps.Manager.Disconnect(conn)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.deps.Manager.Disconnect(conn)
				_ = ws.Close()
				return
			}
		case <-conn.Done():
			_ = ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"))
			_ = ws.Close()
			return
		}
	}
}
