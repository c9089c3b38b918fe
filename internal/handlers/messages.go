package handlers

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/andriansp/gigchat/internal/chat"
	"github.com/andriansp/gigchat/internal/models"
	"github.com/andriansp/gigchat/internal/realtime"
)

type MessageHandler struct {
	DB     *gorm.DB
	Hub    *realtime.Hub
	Bridge *realtime.Bridge
}

func NewMessageHandler(db *gorm.DB, hub *realtime.Hub, bridge *realtime.Bridge) *MessageHandler {
	return &MessageHandler{DB: db, Hub: hub, Bridge: bridge}
}

// MessageOut is the wire shape shared with the clients; see chat.Message.
type MessageOut struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	SenderID    string    `json:"sender_id"`
	ReceiverID  string    `json:"receiver_id,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	ClientMsgID string    `json:"client_msg_id"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

func toMessageOut(m models.Message) MessageOut {
	out := MessageOut{
		ID:          m.ID.String(),
		RoomID:      m.RoomID,
		SenderID:    m.SenderID.String(),
		ClientMsgID: m.ClientMsgID,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
	}
	if m.ReceiverID != nil {
		out.ReceiverID = m.ReceiverID.String()
	}
	if m.OrderID != nil {
		out.OrderID = m.OrderID.String()
	}
	return out
}

// GetHistory returns the direct-chat history with one counterpart, ascending
// by creation time.
func (h *MessageHandler) GetHistory(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	peerUUID, err := uuid.Parse(c.Params("userId"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid user ID"})
	}

	roomID := chat.RoomID(userUUID.String(), peerUUID.String())

	var messages []models.Message
	if err := h.DB.
		Where("room_id = ? AND order_id IS NULL", roomID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {

		log.Println("Error fetching messages:", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch messages"})
	}

	out := make([]MessageOut, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageOut(m))
	}

	return c.JSON(fiber.Map{"success": true, "data": out})
}

// SendMessage persists one direct message and returns the stored copy. Live
// delivery is the sender's websocket emit; persistence and fanout are
// deliberately separate paths.
func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	var req struct {
		ReceiverID  string `json:"receiver_id"`
		Content     string `json:"content"`
		ClientMsgID string `json:"client_msg_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request"})
	}

	receiverUUID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid receiver ID"})
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Message content is required"})
	}

	msg := models.Message{
		SenderID:    userUUID,
		ReceiverID:  &receiverUUID,
		RoomID:      chat.RoomID(userUUID.String(), receiverUUID.String()),
		ClientMsgID: orNewUUID(req.ClientMsgID),
		Content:     content,
	}
	stored, err := h.createMessage(msg)
	if err != nil {
		log.Println("Error creating message:", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to send message"})
	}

	return c.JSON(fiber.Map{"success": true, "data": toMessageOut(stored)})
}

// createMessage stores msg, treating a duplicate correlation id as a replay
// of a message already persisted by an earlier attempt. The unique index on
// client_msg_id exists for exactly this; a retried append gets the stored row
// back instead of an error.
func (h *MessageHandler) createMessage(msg models.Message) (models.Message, error) {
	err := h.DB.Create(&msg).Error
	if err == nil {
		return msg, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) && msg.ClientMsgID != "" {
		var existing models.Message
		if ferr := h.DB.Where("client_msg_id = ?", msg.ClientMsgID).First(&existing).Error; ferr == nil {
			return existing, nil
		}
	}
	return models.Message{}, err
}

// GetOrderHistory returns the order thread ascending by creation time.
func (h *MessageHandler) GetOrderHistory(c *fiber.Ctx) error {
	if _, err := getUserUUID(c); err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	orderUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid order ID"})
	}

	var messages []models.Message
	if err := h.DB.
		Where("order_id = ?", orderUUID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {

		log.Println("Error fetching order messages:", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch messages"})
	}

	out := make([]MessageOut, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageOut(m))
	}

	return c.JSON(fiber.Map{"success": true, "data": out})
}

// SendOrderMessage persists one message on an order thread.
// TODO: verify the sender is a party to the order once the orders service
// exposes a lookup; today any authenticated user can post to a thread id.
func (h *MessageHandler) SendOrderMessage(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	orderUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid order ID"})
	}

	var req struct {
		Content     string `json:"content"`
		ClientMsgID string `json:"client_msg_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request"})
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Message content is required"})
	}

	msg := models.Message{
		SenderID:    userUUID,
		OrderID:     &orderUUID,
		RoomID:      chat.OrderRoomID(orderUUID.String()),
		ClientMsgID: orNewUUID(req.ClientMsgID),
		Content:     content,
	}
	stored, err := h.createMessage(msg)
	if err != nil {
		log.Println("Error creating order message:", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to send message"})
	}

	return c.JSON(fiber.Map{"success": true, "data": toMessageOut(stored)})
}

func orNewUUID(s string) string {
	if strings.TrimSpace(s) != "" {
		return s
	}
	return uuid.New().String()
}
