package main

import (
	"context"
	"errors"
	"html"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/Jishnu-21/chat-app/internal/auth"
	"github.com/Jishnu-21/chat-app/internal/data"
	"github.com/Jishnu-21/chat-app/internal/events"
	appmw "github.com/Jishnu-21/chat-app/internal/middleware"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before the read fails.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait so pings arrive in time.
	pingPeriod = (pongWait * 9) / 10
	// maxFrameSize bounds inbound frames; chat payloads are small.
	maxFrameSize = 4096
	// sendBufferSize is the per-connection outbound queue.
	sendBufferSize = 256
	// persistTimeout bounds the fire-and-forget storage calls.
	persistTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser client is served from arbitrary dev origins; credential
	// checks happen on the token, not the origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errClientClosed = errors.New("websocket client closed")

// wsClient owns one websocket connection's outbound side: events are
// queued on a buffered channel and drained by the write pump, so hub
// fan-out never blocks on a slow connection.
type wsClient struct {
	conn *websocket.Conn
	send chan events.Envelope

	closeOnce sync.Once
	done      chan struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan events.Envelope, sendBufferSize),
		done: make(chan struct{}),
	}
}

// Send queues an event for delivery. It never blocks: a closed client or a
// full buffer returns an error and the frame is dropped, leaving teardown
// to the connection's own pumps.
func (c *wsClient) Send(env events.Envelope) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return errors.New("send buffer full")
	}
}

// close stops the write pump. Safe to call more than once.
func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// writePump serializes all writes to the connection: queued events and the
// keep-alive pings. It exits when the client is closed or a write fails.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleWebSocket is the admission gate plus connection lifecycle. The
// credential is verified and the subject confirmed to still exist before
// the upgrade; a failure refuses the connection with a 401 rather than
// admitting and dropping it.
func (s *Server) handleWebSocket(c echo.Context) error {
	token := appmw.TokenFromRequest(c)
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization token")
	}

	claims, err := s.auth.VerifyToken(token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
	}

	subjectID, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject id")
	}

	exists, err := s.users.UserExists(c.Request().Context(), subjectID)
	if err != nil {
		s.logger.Error("admission lookup failed", "userID", claims.UserID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to verify user")
	}
	if !exists {
		return echo.NewHTTPError(http.StatusUnauthorized, "unknown user")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the handshake error response.
		return nil
	}

	client := newWSClient(conn)
	go client.writePump()

	connID, wentOnline := s.hub.Join(claims.UserID, client)
	if wentOnline {
		s.announceStatus(claims.UserID, data.StatusOnline)
		go s.persistStatus(subjectID, data.StatusOnline)
	}

	s.logger.Info("websocket connected", "userID", claims.UserID, "connID", connID)
	s.readLoop(c.Request().Context(), conn, client, claims, connID)
	return nil
}

// readLoop consumes frames from one connection until it closes, dispatching
// each one to the relay that matches its event name. Leave runs exactly once
// from the deferred teardown, which is the only place an offline transition
// can be observed.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, client *wsClient, claims *auth.Claims, connID string) {
	defer func() {
		if userID, wentOffline := s.hub.Leave(connID); wentOffline {
			s.announceStatus(userID, data.StatusOffline)
			if id, err := bson.ObjectIDFromHex(userID); err == nil {
				go s.persistStatus(id, data.StatusOffline)
			}
		}
		client.close()
		conn.Close()
		s.logger.Info("websocket disconnected", "userID", claims.UserID, "connID", connID)
	}()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read error", "userID", claims.UserID, "error", err)
			}
			return
		}

		env, err := events.Decode(raw)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "userID", claims.UserID, "error", err)
			continue
		}

		// Closed event set: only the two client-originated events are
		// dispatched, anything else is dropped at the boundary.
		switch env.Event {
		case events.MessageSend:
			s.relayMessage(ctx, claims, env)
		case events.UserTyping:
			s.relayTyping(claims, env)
		default:
			s.logger.Warn("dropping unknown event", "userID", claims.UserID, "event", env.Event)
		}
	}
}

// relayMessage handles a message:send frame. The real-time delivery to the
// recipient's connections happens first and synchronously in the reader
// goroutine, which preserves the sender's emission order; durable storage
// is spawned afterwards with no barrier between the two, so storage latency
// or failure never touches the real-time path.
func (s *Server) relayMessage(ctx context.Context, claims *auth.Claims, env events.Envelope) {
	var req events.SendMessage
	if err := env.Bind(&req); err != nil {
		s.logger.Warn("dropping malformed message:send", "userID", claims.UserID, "error", err)
		return
	}
	if req.To == "" || req.Message == "" {
		s.logger.Warn("dropping empty message:send", "userID", claims.UserID)
		return
	}

	toID, err := bson.ObjectIDFromHex(req.To)
	if err != nil {
		s.logger.Warn("dropping message:send with bad recipient id", "userID", claims.UserID, "to", req.To)
		return
	}
	fromID, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		s.logger.Error("claims carry invalid subject id", "userID", claims.UserID)
		return
	}

	exists, err := s.users.UserExists(ctx, toID)
	if err != nil {
		s.logger.Error("recipient lookup failed", "to", req.To, "error", err)
		return
	}
	if !exists {
		s.logger.Warn("dropping message:send to unknown recipient", "userID", claims.UserID, "to", req.To)
		return
	}

	content := html.EscapeString(req.Message)
	sentAt := time.Now()

	out, err := events.New(events.MessageReceive, events.ReceiveMessage{
		From:      claims.UserID,
		Message:   content,
		Timestamp: events.Timestamp(sentAt),
	})
	if err != nil {
		s.logger.Error("encoding message:receive failed", "error", err)
		return
	}
	s.hub.SendToUser(req.To, out)

	go s.persistMessage(fromID, toID, claims.UserID, req.To, content, sentAt)
}

// persistMessage stores a relayed message and, on success, echoes the
// persisted record back to the sender's connections so the client can
// replace its optimistic copy. Runs outside the reader goroutine; failures
// are logged and go nowhere else.
func (s *Server) persistMessage(from, to bson.ObjectID, fromHex, toHex, content string, sentAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	saved, err := s.msgs.SaveMessage(ctx, from, to, content, sentAt)
	if err != nil {
		s.logger.Error("message persistence failed", "from", fromHex, "to", toHex, "error", err)
		return
	}

	echoEnv, err := events.New(events.MessageSent, events.SentMessage{
		ID:        saved.ID.Hex(),
		To:        toHex,
		Message:   saved.Content,
		Timestamp: events.Timestamp(saved.SentAt),
	})
	if err != nil {
		s.logger.Error("encoding message:sent failed", "error", err)
		return
	}
	s.hub.SendToUser(fromHex, echoEnv)
}

// relayTyping forwards a typing pulse verbatim to the target's connections.
// No persistence and no server-side expiry; the sending client clears
// stale state by emitting isTyping=false after its idle timeout.
func (s *Server) relayTyping(claims *auth.Claims, env events.Envelope) {
	var req events.TypingRequest
	if err := env.Bind(&req); err != nil {
		s.logger.Warn("dropping malformed user:typing", "userID", claims.UserID, "error", err)
		return
	}
	if req.To == "" {
		s.logger.Warn("dropping user:typing without target", "userID", claims.UserID)
		return
	}

	out, err := events.New(events.UserTyping, events.TypingNotice{
		From:     claims.UserID,
		IsTyping: req.IsTyping,
	})
	if err != nil {
		s.logger.Error("encoding user:typing failed", "error", err)
		return
	}
	s.hub.SendToUser(req.To, out)
}

// announceStatus broadcasts a presence transition to every connected client.
func (s *Server) announceStatus(userID, status string) {
	env, err := events.New(events.UserStatus, events.StatusUpdate{UserID: userID, Status: status})
	if err != nil {
		s.logger.Error("encoding user:status failed", "error", err)
		return
	}
	s.hub.Broadcast(env)
}

// persistStatus records a presence transition on the user document. Called
// fire-and-forget: a storage failure is logged and never blocks or fails
// the connect/disconnect that triggered it.
func (s *Server) persistStatus(id bson.ObjectID, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.users.UpdateStatus(ctx, id, status, time.Now()); err != nil {
		s.logger.Error("status persistence failed", "userID", id.Hex(), "status", status, "error", err)
	}
}
