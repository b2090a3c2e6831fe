// Package relay coordinates session registration, message fan-out, history
// replay, presence accounting, and moderation for the stampchat system via
// the Relay type.
package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"stampchat/internal/store"
)

// Options carries the relay-level settings extracted from configuration.
type Options struct {
	// AdminSecret authorizes the history purge. An empty secret disables
	// admin operations entirely.
	AdminSecret string
	// HistoryLimit caps how many stored messages are replayed to a joining
	// session. Zero or less replays the full log.
	HistoryLimit int
	// PresenceCounter enables the online-count broadcast on connect and
	// disconnect.
	PresenceCounter bool
	// StoreTimeout bounds every message-store call so a stalled backend
	// cannot wedge a connection's event handling indefinitely.
	StoreTimeout time.Duration
}

// Relay owns the live session set and presence count, broadcasts events to
// all connected sessions, and persists chat traffic through the configured
// MessageStore. All mutations of the session set go through its mutex; store
// I/O is never performed while the mutex is held.
type Relay struct {
	store    store.MessageStore
	opts     Options
	presence *PresenceTracker

	sessions   map[*Session]bool
	broadcast  chan []byte
	register   chan *Session
	unregister chan *Session
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewRelay creates a relay backed by the given message store. The returned
// relay must be started with Run before it accepts sessions.
func NewRelay(st store.MessageStore, opts Options) *Relay {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		store:      st,
		opts:       opts,
		presence:   NewPresenceTracker(),
		sessions:   make(map[*Session]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register hands a new session to the relay's event loop.
func (r *Relay) Register(s *Session) {
	select {
	case r.register <- s:
	case <-r.ctx.Done():
	}
}

// Run starts the relay's main event loop, handling session registration,
// unregistration, and fan-out. This method should be called in a separate
// goroutine as it runs until Shutdown.
func (r *Relay) Run() {
	defer close(r.done)

	for {
		select {
		case <-r.ctx.Done():
			r.shutdownSessions()
			return

		case s := <-r.register:
			if s == nil {
				log.Warn().Msg("received nil session registration; skipping")
				continue
			}
			r.handleConnect(s)

		case s := <-r.unregister:
			r.handleDisconnect(s)

		case payload := <-r.broadcast:
			r.fanOut(payload)
		}
	}
}

// handleConnect adds the session in its anonymous state, bumps presence, and
// starts the connection pumps.
func (r *Relay) handleConnect(s *Session) {
	r.mutex.Lock()
	s.closed = false
	r.sessions[s] = true
	sessionCount := len(r.sessions)
	r.mutex.Unlock()

	count := r.presence.Increment()
	log.Info().Str("session", s.id.String()).Str("addr", s.addr).Int("sessions", sessionCount).Msg("session registered")

	if r.opts.PresenceCounter {
		r.broadcastEvent(onlineCountEvent(count))
	}

	if s.conn == nil {
		return
	}
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		s.writePump()
	}()
	go func() {
		defer r.wg.Done()
		s.readPump()
	}()
}

// handleDisconnect removes the session, bumps presence down, and announces
// the departure when the session had joined.
func (r *Relay) handleDisconnect(s *Session) {
	r.mutex.Lock()
	if _, ok := r.sessions[s]; !ok {
		r.mutex.Unlock()
		return
	}
	delete(r.sessions, s)
	s.closed = true
	name := s.name
	sessionCount := len(r.sessions)
	r.mutex.Unlock()

	// Close the channel after releasing the lock.
	close(s.send)

	count := r.presence.Decrement()
	log.Info().Str("session", s.id.String()).Str("addr", s.addr).Int("sessions", sessionCount).Msg("session unregistered")

	if r.opts.PresenceCounter {
		r.broadcastEvent(onlineCountEvent(count))
	}
	if name != "" {
		r.broadcastEvent(systemEvent(name + " left"))
	}
}

// Join fixes the session's display name, replays stored history to the
// joiner only, and announces the arrival to everyone. Only the first join on
// a session takes effect; repeats are silent no-ops. Duplicate names across
// sessions are allowed.
func (r *Relay) Join(s *Session, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	r.mutex.Lock()
	if !r.sessions[s] || s.name != "" {
		r.mutex.Unlock()
		return
	}
	s.name = name
	r.mutex.Unlock()

	r.replayHistory(s)
	r.Broadcast(systemEvent(name + " joined"))
}

// replayHistory delivers the stored log to one session, one frame per entry
// in stored order, so the client can append them exactly like live messages.
// Other sessions never see the replay.
func (r *Relay) replayHistory(s *Session) {
	ctx, cancel := r.storeCtx()
	defer cancel()

	history, err := r.store.RecentHistory(ctx, r.opts.HistoryLimit)
	if err != nil {
		log.Error().Err(err).Str("addr", s.addr).Msg("reading history for replay")
		return
	}

	for _, msg := range history {
		payload, err := encodeEvent(historyEvent(msg))
		if err != nil {
			log.Error().Err(err).Msg("encoding history event")
			continue
		}
		r.sendTo(s, payload)
	}
}

// Chat persists and broadcasts one message from a joined session. Frames
// from sessions that never joined are dropped entirely. A store failure is
// logged but does not suppress the live broadcast; chat availability wins
// over durability.
func (r *Relay) Chat(s *Session, text string, image *string) {
	r.mutex.RLock()
	name := ""
	if r.sessions[s] {
		name = s.name
	}
	r.mutex.RUnlock()

	if name == "" {
		return
	}
	if text == "" && (image == nil || *image == "") {
		return
	}

	msg := store.Message{Name: name, Text: text, Image: image, At: time.Now().UTC()}

	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.store.Append(ctx, msg); err != nil {
		log.Error().Err(err).Str("name", name).Msg("persisting message")
	}

	r.Broadcast(chatEvent(msg))
}

// AdminCheck compares the offered secret against the configured one and, on
// a match, marks the session as an administrator and acknowledges privately.
// A mismatch is silent; there is no lockout on repeated attempts.
func (r *Relay) AdminCheck(s *Session, secret string) {
	if r.opts.AdminSecret == "" || secret != r.opts.AdminSecret {
		return
	}

	r.mutex.Lock()
	if !r.sessions[s] {
		r.mutex.Unlock()
		return
	}
	s.isAdmin = true
	r.mutex.Unlock()

	payload, err := encodeEvent(adminOKEvent())
	if err != nil {
		log.Error().Err(err).Msg("encoding admin ack")
		return
	}
	r.sendTo(s, payload)
	log.Info().Str("addr", s.addr).Msg("session authorized as admin")
}

// AdminClear purges the entire message log, tells every client to wipe its
// transcript, and announces the purge. Requests from sessions without the
// admin flag are dropped without effect.
func (r *Relay) AdminClear(s *Session) {
	r.mutex.RLock()
	authorized := r.sessions[s] && s.isAdmin
	r.mutex.RUnlock()

	if !authorized {
		return
	}

	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.store.PurgeAll(ctx); err != nil {
		log.Error().Err(err).Msg("purging history")
		return
	}

	r.Broadcast(clearScreenEvent())
	r.Broadcast(systemEvent("chat history was cleared by an administrator"))
	log.Info().Str("addr", s.addr).Msg("history cleared by admin")
}

// Broadcast queues an event for delivery to every connected session.
func (r *Relay) Broadcast(env Envelope) {
	payload, err := encodeEvent(env)
	if err != nil {
		log.Error().Err(err).Str("event", string(env.Event)).Msg("encoding broadcast event")
		return
	}
	select {
	case r.broadcast <- payload:
	case <-r.ctx.Done():
	}
}

// broadcastEvent fans an event out immediately. Only safe from the Run loop;
// everyone else goes through Broadcast.
func (r *Relay) broadcastEvent(env Envelope) {
	payload, err := encodeEvent(env)
	if err != nil {
		log.Error().Err(err).Str("event", string(env.Event)).Msg("encoding broadcast event")
		return
	}
	r.fanOut(payload)
}

// fanOut sends the payload to a snapshot of the current session set. A
// session that disconnects between snapshot and send simply misses the
// frame; a session with a full send buffer is dropped.
func (r *Relay) fanOut(payload []byte) {
	sessions := r.sessionSnapshot()

	var failed []*Session
	for _, s := range sessions {
		if !r.sendTo(s, payload) {
			failed = append(failed, s)
		}
	}
	r.removeFailedSessions(failed)
}

// sessionSnapshot returns a point-in-time copy of the session set so fan-out
// never holds the lock while writing.
func (r *Relay) sessionSnapshot() []*Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// sendTo queues a payload on one session's send channel without blocking.
func (r *Relay) sendTo(s *Session, payload []byte) bool {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn().Interface("panic", rec).Msg("recovered from panic in sendTo")
		}
	}()

	// Hold the lock during the entire send so the channel cannot be closed
	// underneath the select.
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.sessions[s] || s.closed {
		return false
	}

	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// removeFailedSessions drops sessions whose send buffer was full or closed.
func (r *Relay) removeFailedSessions(failed []*Session) {
	if len(failed) == 0 {
		return
	}

	r.mutex.Lock()
	var channelsToClose []chan []byte
	for _, s := range failed {
		if _, exists := r.sessions[s]; exists {
			delete(r.sessions, s)
			s.closed = true
			channelsToClose = append(channelsToClose, s.send)
			log.Warn().Str("addr", s.addr).Msg("session removed due to full send buffer")
		}
	}
	r.mutex.Unlock()

	// Close channels after releasing the lock.
	for _, ch := range channelsToClose {
		close(ch)
	}

	count := r.presence.Count()
	for range channelsToClose {
		count = r.presence.Decrement()
	}
	if r.opts.PresenceCounter && len(channelsToClose) > 0 {
		r.broadcastEvent(onlineCountEvent(count))
	}
}

// Presence exposes the process-wide connection counter.
func (r *Relay) Presence() *PresenceTracker {
	return r.presence
}

func (r *Relay) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.opts.StoreTimeout)
}

// shutdownSessions closes all active client connections.
func (r *Relay) shutdownSessions() {
	log.Info().Msg("shutting down all sessions")

	sessions := r.sessionSnapshot()
	for _, s := range sessions {
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Warn().Err(err).Str("addr", s.addr).Msg("closing session connection")
				}
			}
		}
	}

	log.Info().Int("sessions", len(sessions)).Msg("closed session connections")
}

// Shutdown initiates graceful shutdown of the relay and waits for all
// session goroutines to finish, or until the timeout is reached.
func (r *Relay) Shutdown(timeout time.Duration) error {
	log.Info().Msg("initiating relay shutdown")

	r.cancel()
	<-r.done

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("relay shutdown completed")
		return nil
	case <-time.After(timeout):
		log.Warn().Msg("relay shutdown timeout reached; some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
