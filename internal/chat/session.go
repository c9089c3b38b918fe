package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conn is the slice of Connection a session needs. The real Connection is
// shared by every session; sessions scope themselves with room-keyed
// subscriptions and never own the transport.
type Conn interface {
	Emit(event string, payload any) error
	On(event, key string, fn Handler)
	Off(event, key string)
	State() ConnState
}

// HistoryStore is the slice of Store a session needs.
type HistoryStore interface {
	History(ctx context.Context, scope Scope) ([]Message, error)
	Append(ctx context.Context, scope Scope, m Message) (Message, error)
}

// Session coordinates one active conversation: it joins the room, merges
// persisted history with live events, sends with an optimistic local echo,
// and tears its subscription down on switch or close.
//
// Duplicate policy: every outgoing message carries a client-minted
// correlation id (ClientMsgID). Inbound live events are dropped when they
// are authored by this session's own sender id or when their correlation id
// has already been displayed, so a backend echo of our own send can never
// appear twice.
type Session struct {
	conn   Conn
	store  HistoryStore
	selfID string
	id     string // distinguishes this session's subscriptions on the shared Connection

	mu      sync.Mutex
	scope   Scope
	room    string
	subKey  string
	epoch   int
	ready   bool
	msgs    []Message
	pending []Message // live events that arrived while history was in flight
	seen    map[string]bool

	onMessage func(Message)
}

func NewSession(conn Conn, store HistoryStore, selfID string) *Session {
	return &Session{
		conn:   conn,
		store:  store,
		selfID: selfID,
		id:     uuid.NewString(),
		seen:   make(map[string]bool),
	}
}

// OnMessage registers the observer fired for every message appended to the
// visible sequence, live or optimistic. UI layers use it to refresh and
// scroll. Must be set before Open.
func (s *Session) OnMessage(fn func(Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// Open activates the conversation for scope: joins the live room, subscribes
// for inbound messages, then loads history. A newer Open invalidates any
// still-running one, so a slow history fetch for an old counterpart can
// never overwrite the current view.
func (s *Session) Open(ctx context.Context, scope Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.closeLocked()
	s.epoch++
	epoch := s.epoch
	room := scope.Room(s.selfID)
	s.scope = scope
	s.room = room
	// Keyed by session identity as well as room, so two sessions watching the
	// same room on the shared Connection never occupy one handler slot.
	s.subKey = "session:" + s.id + ":" + room
	s.ready = false
	s.msgs = nil
	s.pending = nil
	s.seen = make(map[string]bool)
	subKey := s.subKey
	s.mu.Unlock()

	// Join is best-effort over the live channel; history alone still renders
	// the conversation when the transport is down.
	_ = s.conn.Emit(EventJoinRoom, room)
	s.conn.On(EventReceiveMessage, subKey, func(data json.RawMessage) {
		s.receive(epoch, room, data)
	})

	hist, err := s.store.History(ctx, scope)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		// A newer Open took over while we were fetching; discard quietly.
		// Our subscription is normally gone already, but if the overlap put
		// it back under a different key, drop it here.
		if s.subKey != subKey {
			s.conn.Off(EventReceiveMessage, subKey)
		}
		return nil
	}
	if err != nil {
		// Failed open: drop the subscription too, otherwise inbound events
		// would pile up in pending until the user retries.
		s.closeLocked()
		s.pending = nil
		return err
	}

	merged := make([]Message, 0, len(hist)+len(s.pending))
	for _, m := range hist {
		s.markSeen(m)
		merged = append(merged, m)
	}
	for _, m := range s.pending {
		if m.ClientMsgID != "" && s.seen[m.ClientMsgID] {
			continue
		}
		s.markSeen(m)
		merged = append(merged, m)
	}
	s.msgs = merged
	s.pending = nil
	s.ready = true
	return nil
}

// Send validates, echoes locally, persists, then emits on the live channel
// so the counterpart's open session sees the message without a re-fetch.
func (s *Session) Send(ctx context.Context, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, &ValidationError{Field: "content", Reason: "message content is empty"}
	}

	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return Message{}, &ValidationError{Field: "session", Reason: "conversation not open yet"}
	}
	if s.conn.State() == StateClosed {
		s.mu.Unlock()
		return Message{}, &NetworkError{Op: "send", Err: errConnClosed}
	}

	scope := s.scope
	epoch := s.epoch
	m := Message{
		RoomID:      s.room,
		SenderID:    s.selfID,
		ClientMsgID: uuid.NewString(),
		Content:     content,
		CreatedAt:   time.Now(),
	}
	if scope.Kind == ScopeOrder {
		m.OrderID = scope.ID
	} else {
		m.ReceiverID = scope.ID
	}

	// Optimistic echo: visible immediately, before persistence resolves.
	s.msgs = append(s.msgs, m)
	s.seen[m.ClientMsgID] = true
	notify := s.onMessage
	s.mu.Unlock()

	if notify != nil {
		notify(m)
	}

	stored, err := s.store.Append(ctx, scope, m)

	s.mu.Lock()
	if err != nil {
		if s.epoch == epoch {
			s.removeLocked(m.ClientMsgID)
		}
		s.mu.Unlock()
		return Message{}, err
	}
	if s.epoch == epoch {
		// Swap the echo for the authoritative copy in place; display order
		// stays send order, only id and timestamp change.
		s.replaceLocked(m.ClientMsgID, stored)
	}
	s.mu.Unlock()

	_ = s.conn.Emit(EventSendMessage, stored)
	return stored, nil
}

// Close removes the room-scoped subscription. The shared Connection stays
// up. Safe to call repeatedly; Open for the next counterpart calls it too,
// so a forgotten Close cannot leak another room's events into the view.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// Ready reports whether Open has completed and sending is allowed.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Room returns the active room id, or "" when no conversation is open.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Messages returns a copy of the merged, time-observed message sequence.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *Session) receive(epoch int, room string, data json.RawMessage) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}

	s.mu.Lock()
	if s.epoch != epoch || s.room != room || m.RoomID != room {
		s.mu.Unlock()
		return
	}
	if m.SenderID == s.selfID {
		// Our own send echoed back by the backend; already shown optimistically.
		s.mu.Unlock()
		return
	}
	if m.ClientMsgID != "" && s.seen[m.ClientMsgID] {
		s.mu.Unlock()
		return
	}
	if !s.ready {
		s.pending = append(s.pending, m)
		s.mu.Unlock()
		return
	}
	s.markSeen(m)
	s.msgs = append(s.msgs, m)
	notify := s.onMessage
	s.mu.Unlock()

	if notify != nil {
		notify(m)
	}
}

func (s *Session) closeLocked() {
	if s.subKey != "" {
		s.conn.Off(EventReceiveMessage, s.subKey)
		s.subKey = ""
	}
	s.ready = false
}

func (s *Session) markSeen(m Message) {
	if m.ClientMsgID != "" {
		s.seen[m.ClientMsgID] = true
	}
}

func (s *Session) removeLocked(clientMsgID string) {
	for i, m := range s.msgs {
		if m.ClientMsgID == clientMsgID {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			break
		}
	}
	delete(s.seen, clientMsgID)
}

func (s *Session) replaceLocked(clientMsgID string, stored Message) {
	for i, m := range s.msgs {
		if m.ClientMsgID == clientMsgID {
			s.msgs[i] = stored
			return
		}
	}
	// Echo was cleared by a concurrent switch; nothing to replace.
}
