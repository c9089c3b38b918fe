package chat

import (
	"encoding/json"
	"time"
)

// Live event names. Emitter and listener must agree on these; the gateway
// uses the same constants.
const (
	EventJoinRoom       = "joinRoom"
	EventSendMessage    = "sendMessage"
	EventReceiveMessage = "receiveMessage"
)

// Message is the wire form shared by the REST history store and the live
// channel. ID and CreatedAt are authoritative only once the backend has
// stored the message; ClientMsgID is minted by the sender and never changes,
// which is what de-duplication keys on.
type Message struct {
	ID          string    `json:"id,omitempty"`
	RoomID      string    `json:"room_id"`
	SenderID    string    `json:"sender_id"`
	ReceiverID  string    `json:"receiver_id,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	ClientMsgID string    `json:"client_msg_id"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// Envelope frames every event on the live channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope marshals payload into a ready-to-send envelope.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}
