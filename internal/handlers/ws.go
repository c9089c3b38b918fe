package handlers

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/andriansp/gigchat/internal/chat"
	"github.com/andriansp/gigchat/internal/realtime"
	"github.com/andriansp/gigchat/internal/utils"
)

// WSAuth resolves the user behind a websocket upgrade. The browser websocket
// API cannot set headers, so the token is accepted from the query string as
// well as the Authorization header.
func WSAuth(secret string, c *websocket.Conn) (uuid.UUID, bool) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		tokenStr = strings.TrimSpace(strings.TrimPrefix(c.Headers("Authorization"), "Bearer "))
	}
	if tokenStr == "" {
		return uuid.Nil, false
	}

	claims, err := utils.ParseJWT(secret, tokenStr)
	if err != nil {
		return uuid.Nil, false
	}
	userUUID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, false
	}
	return userUUID, true
}

// WebSocketHandler runs one client's live channel: joinRoom subscribes the
// socket to a room, sendMessage relays to the room via the redis bridge as a
// receiveMessage event. Event names match the chat package constants.
func (h *MessageHandler) WebSocketHandler(secret string) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		userUUID, ok := WSAuth(secret, c)
		if !ok {
			log.Println("WebSocket: rejected unauthenticated connection")
			c.Close()
			return
		}

		client := &realtime.Client{
			ID:     uuid.New().String(),
			UserID: userUUID,
			Conn:   realtime.NewWebSocketConn(c),
			Send:   make(chan []byte, 256),
		}

		h.Hub.RegisterClient(client)
		defer func() {
			h.Hub.UnregisterClient(client)
			log.Printf("WebSocket: user %s disconnected", userUUID)
		}()

		log.Printf("WebSocket: user %s connected", userUUID)

		// hub -> socket
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					log.Println("WebSocket write error:", err)
					return
				}
			}
		}()

		// socket -> hub
		for {
			var env chat.Envelope
			if err := c.ReadJSON(&env); err != nil {
				break
			}
			h.handleEvent(client, userUUID, env)
		}
	}
}

func (h *MessageHandler) handleEvent(client *realtime.Client, userUUID uuid.UUID, env chat.Envelope) {
	switch env.Event {
	case chat.EventJoinRoom:
		var roomID string
		if err := json.Unmarshal(env.Data, &roomID); err != nil || roomID == "" {
			return
		}
		h.Hub.JoinRoom(client, roomID)

	case chat.EventSendMessage:
		var msg chat.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		if msg.RoomID == "" || strings.TrimSpace(msg.Content) == "" {
			return
		}
		// Never trust the sender id on the frame.
		msg.SenderID = userUUID.String()

		out, err := chat.NewEnvelope(chat.EventReceiveMessage, msg)
		if err != nil {
			return
		}
		if err := h.Bridge.Publish(context.Background(), msg.RoomID, out); err != nil {
			log.Println("WebSocket: room publish failed:", err)
		}

	default:
		// pings and unknown events are ignored
	}
}
