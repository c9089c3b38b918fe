package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ScopeKind selects how a conversation is addressed.
type ScopeKind int

const (
	ScopeUser ScopeKind = iota + 1 // counterpart user id
	ScopeOrder
)

// Scope is the addressing unit for history fetch and append: either the
// counterpart's user id for a direct chat, or an order id for an order-bound
// thread.
type Scope struct {
	Kind ScopeKind
	ID   string
}

func UserScope(counterpartID string) Scope {
	return Scope{Kind: ScopeUser, ID: counterpartID}
}

func OrderScope(orderID string) Scope {
	return Scope{Kind: ScopeOrder, ID: orderID}
}

func (s Scope) Validate() error {
	if s.Kind != ScopeUser && s.Kind != ScopeOrder {
		return &ValidationError{Field: "scope", Reason: "unknown scope kind"}
	}
	if strings.TrimSpace(s.ID) == "" {
		return &ValidationError{Field: "scope", Reason: "empty scope id"}
	}
	return nil
}

// Room derives the live-delivery room for this scope.
func (s Scope) Room(selfID string) string {
	if s.Kind == ScopeOrder {
		return OrderRoomID(s.ID)
	}
	return RoomID(selfID, s.ID)
}

// api is the shared REST plumbing: base URL, bearer credential, JSON
// envelope decoding and the error taxonomy mapping.
type api struct {
	base  string
	token string
	http  *http.Client
}

// apiEnvelope mirrors the gateway's {"success": ..., "data": ...} responses.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *api) do(ctx context.Context, method, path string, in, out any) error {
	if strings.TrimSpace(a.token) == "" {
		return &AuthError{Reason: "missing session token"}
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &ValidationError{Field: "body", Reason: err.Error()}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.base, "/")+path, body)
	if err != nil {
		return &ValidationError{Field: "url", Reason: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: "read " + path, Err: err}
	}

	var env apiEnvelope
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &env) // keep the status-code mapping even for bad bodies
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Reason: reasonOr(env.Message, "credential rejected")}
	case resp.StatusCode == http.StatusBadRequest:
		return &ValidationError{Reason: reasonOr(env.Message, "bad request")}
	case resp.StatusCode >= 400:
		return &NetworkError{Op: method + " " + path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, env.Message)}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &NetworkError{Op: "decode " + path, Err: err}
		}
	}
	return nil
}

func reasonOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

// Store is the REST-backed message history client. It holds no cache; every
// conversation switch re-fetches.
type Store struct {
	api
}

func NewStore(baseURL, token string) *Store {
	return &Store{api: api{
		base:  baseURL,
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}}
}

// History fetches the persisted messages for the scope in ascending
// timestamp order. Failures surface as AuthError or NetworkError; there is
// no local retry.
func (s *Store) History(ctx context.Context, scope Scope) ([]Message, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	path := "/api/messages/" + scope.ID
	if scope.Kind == ScopeOrder {
		path = "/api/orders/" + scope.ID + "/messages"
	}

	var msgs []Message
	if err := s.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

type appendRequest struct {
	ReceiverID  string `json:"receiver_id,omitempty"`
	Content     string `json:"content"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// Append persists one outgoing message and returns the authoritative stored
// copy, with the backend-assigned id and timestamp.
func (s *Store) Append(ctx context.Context, scope Scope, m Message) (Message, error) {
	if err := scope.Validate(); err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(m.Content) == "" {
		return Message{}, &ValidationError{Field: "content", Reason: "message content is empty"}
	}

	path := "/api/messages"
	req := appendRequest{Content: m.Content, ClientMsgID: m.ClientMsgID}
	if scope.Kind == ScopeOrder {
		path = "/api/orders/" + scope.ID + "/messages"
	} else {
		req.ReceiverID = scope.ID
	}

	var stored Message
	if err := s.do(ctx, http.MethodPost, path, req, &stored); err != nil {
		return Message{}, err
	}
	return stored, nil
}
