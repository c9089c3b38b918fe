package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/andriansp/gigchat/internal/models"
)

type ContactOut struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	LastMessage string `json:"last_message,omitempty"`
}

// GetContacts lists everyone the user has exchanged direct messages with,
// most recent conversation first, with a last-message preview.
func (h *MessageHandler) GetContacts(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	var messages []models.Message
	if err := h.DB.
		Where("order_id IS NULL AND (sender_id = ? OR receiver_id = ?)", userUUID, userUUID).
		Order("created_at DESC").
		Find(&messages).Error; err != nil {

		log.Println("Error fetching contact messages:", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch contacts"})
	}

	// Messages are newest-first, so the first sighting of a partner carries
	// the preview text.
	order := make([]uuid.UUID, 0)
	preview := make(map[uuid.UUID]string)
	for _, m := range messages {
		partner := m.SenderID
		if partner == userUUID {
			if m.ReceiverID == nil {
				continue
			}
			partner = *m.ReceiverID
		}
		if _, ok := preview[partner]; !ok {
			order = append(order, partner)
			preview[partner] = m.Content
		}
	}

	names := make(map[uuid.UUID]string)
	if len(order) > 0 {
		var users []models.User
		if err := h.DB.Where("id IN ?", order).Find(&users).Error; err != nil {
			log.Println("Error fetching contact users:", err)
			return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch contacts"})
		}
		for _, u := range users {
			names[u.ID] = u.Name
		}
	}

	out := make([]ContactOut, 0, len(order))
	for _, id := range order {
		out = append(out, ContactOut{
			ID:          id.String(),
			Name:        names[id],
			LastMessage: preview[id],
		})
	}

	return c.JSON(fiber.Map{"success": true, "data": out})
}
