package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is one persisted chat message. Direct messages carry ReceiverID;
// order-thread messages carry OrderID instead. RoomID is stored denormalized
// so fanout and history use the same key the clients derive.
type Message struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SenderID   uuid.UUID  `gorm:"type:uuid;index;not null" json:"sender_id"`
	ReceiverID *uuid.UUID `gorm:"type:uuid;index" json:"receiver_id,omitempty"`
	OrderID    *uuid.UUID `gorm:"type:uuid;index" json:"order_id,omitempty"`

	RoomID string `gorm:"index;not null" json:"room_id"`

	// ClientMsgID is the sender-minted correlation id. Unique so a retried
	// append cannot store the same logical message twice.
	ClientMsgID string `gorm:"uniqueIndex" json:"client_msg_id"`

	Content   string    `gorm:"not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`

	Sender *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.ClientMsgID == "" {
		m.ClientMsgID = uuid.New().String()
	}
	return nil
}
