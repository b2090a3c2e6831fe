// Package relay manages individual client sessions, handling read/write
// pumps and per-connection lifecycle for each WebSocket connection.
package relay

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Session represents one client connection and its identity state. A session
// starts anonymous; the first join fixes its display name, and a successful
// admin check marks it as an administrator. name and isAdmin are guarded by
// the owning Relay's mutex.
type Session struct {
	id      uuid.UUID
	conn    *websocket.Conn
	send    chan []byte
	relay   *Relay
	addr    string
	closed  bool
	name    string
	isAdmin bool
}

// NewSession creates a session for the given WebSocket connection. The send
// channel is buffered to absorb bursts of fan-out traffic.
func NewSession(conn *websocket.Conn, relay *Relay, addr string) *Session {
	return &Session{
		id:    uuid.New(),
		conn:  conn,
		send:  make(chan []byte, 256),
		relay: relay,
		addr:  addr,
	}
}

// ID returns the opaque connection identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// setupReadConnection configures read deadlines and the pong handler.
func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Error().Err(err).Str("addr", s.addr).Msg("setting initial read deadline")
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			log.Error().Err(err).Str("addr", s.addr).Msg("setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the read failure and reports whether the read loop
// should stop.
func (s *Session) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Debug().Err(err).Str("addr", s.addr).Msg("session disconnected")
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Debug().Err(err).Str("addr", s.addr).Msg("session connection closed")
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Warn().Err(err).Str("addr", s.addr).Msg("unexpected websocket error")
		return true
	}

	log.Warn().Err(err).Str("addr", s.addr).Msg("websocket read error")
	return true
}

// dispatch routes one inbound frame to the relay. Malformed frames and
// unknown events are dropped without any reply to the sender.
func (s *Session) dispatch(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Debug().Err(err).Str("addr", s.addr).Msg("discarding malformed frame")
		return
	}

	switch env.Event {
	case EventJoin:
		s.relay.Join(s, env.Name)
	case EventChat:
		s.relay.Chat(s, env.Text, env.Image)
	case EventAdminCheck:
		s.relay.AdminCheck(s, env.Secret)
	case EventAdminClear:
		s.relay.AdminClear(s)
	default:
		log.Debug().Str("addr", s.addr).Str("event", string(env.Event)).Msg("ignoring unknown event")
	}
}

func (s *Session) readPump() {
	defer func() {
		// During shutdown the Run loop is gone; nothing drains unregister,
		// so the handoff must not block past cancellation.
		select {
		case s.relay.unregister <- s:
		case <-s.relay.ctx.Done():
		}
		if err := s.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				log.Warn().Err(err).Str("addr", s.addr).Msg("closing connection in read pump")
			}
		}
	}()

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if s.handleReadError(err) {
				break
			}
		}
		s.dispatch(raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop. Relay shutdown stops the pump directly; waiting for the
// next ping tick would hold the shutdown hostage.
func (s *Session) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case payload, ok := <-s.send:
		return s.handleOutbound(payload, ok)
	case <-ticker.C:
		return s.handlePing()
	case <-s.relay.ctx.Done():
		return false
	}
}

func (s *Session) closeConnection() {
	if err := s.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			log.Warn().Err(err).Str("addr", s.addr).Msg("closing connection in write pump")
		}
	}
}

// handleOutbound writes one queued payload and returns false when the
// connection should be closed.
func (s *Session) handleOutbound(payload []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		log.Warn().Err(err).Str("addr", s.addr).Msg("setting write deadline")
		return false
	}

	if !ok {
		if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			if !isExpectedCloseError(err) {
				log.Warn().Err(err).Str("addr", s.addr).Msg("writing close message")
			}
		}
		return false
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Warn().Err(err).Str("addr", s.addr).Msg("writing message")
		return false
	}
	return true
}

// handlePing keeps the connection alive between outbound frames.
func (s *Session) handlePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		log.Warn().Err(err).Str("addr", s.addr).Msg("setting write deadline for ping")
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Warn().Err(err).Str("addr", s.addr).Msg("writing ping message")
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
