package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/andriansp/gigchat/internal/chat"
	"github.com/andriansp/gigchat/internal/middleware"
	"github.com/andriansp/gigchat/internal/models"
	"github.com/andriansp/gigchat/internal/utils"
)

const testSecret = "test-secret"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Message{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func setupApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	h := NewMessageHandler(db, nil, nil)

	app := fiber.New()
	api := app.Group("/api", middleware.BearerAuth(testSecret))
	api.Get("/messages/:userId", h.GetHistory)
	api.Post("/messages", h.SendMessage)
	api.Get("/orders/:id/messages", h.GetOrderHistory)
	api.Post("/orders/:id/messages", h.SendOrderMessage)
	api.Get("/contacts", h.GetContacts)
	return app, db
}

func tokenFor(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	tok, err := utils.SignJWT(testSecret, userID.String(), "client", 60)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func seedUser(t *testing.T, db *gorm.DB, name string) uuid.UUID {
	t.Helper()
	u := models.User{Name: name, Email: name + "@example.com", Role: models.RoleClient}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return u.ID
}

func seedMessage(t *testing.T, db *gorm.DB, sender uuid.UUID, receiver *uuid.UUID, orderID *uuid.UUID, room, content string, at time.Time) {
	t.Helper()
	m := models.Message{
		SenderID:   sender,
		ReceiverID: receiver,
		OrderID:    orderID,
		RoomID:     room,
		Content:    content,
		CreatedAt:  at,
	}
	if err := db.Create(&m).Error; err != nil {
		t.Fatalf("seed message %q: %v", content, err)
	}
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s response: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func dataList(t *testing.T, body map[string]any) []map[string]any {
	t.Helper()
	raw, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("data is not a list: %v", body)
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		out = append(out, item.(map[string]any))
	}
	return out
}

func TestGetHistory_AscendingBothDirections(t *testing.T) {
	fiberApp, gdb := setupApp(t)
	alice := seedUser(t, gdb, "alice")
	bob := seedUser(t, gdb, "bob")
	room := chat.RoomID(alice.String(), bob.String())

	base := time.Now().Add(-time.Hour)
	seedMessage(t, gdb, alice, &bob, nil, room, "hi bob", base)
	seedMessage(t, gdb, bob, &alice, nil, room, "hi alice", base.Add(time.Minute))
	seedMessage(t, gdb, alice, &bob, nil, room, "how is the gig", base.Add(2*time.Minute))

	// Both participants see the same thread.
	for name, viewer := range map[string]struct {
		self uuid.UUID
		peer uuid.UUID
	}{
		"as sender":   {alice, bob},
		"as receiver": {bob, alice},
	} {
		t.Run(name, func(t *testing.T) {
			status, body := doJSON(t, fiberApp, http.MethodGet, "/api/messages/"+viewer.peer.String(), tokenFor(t, viewer.self), nil)
			if status != http.StatusOK {
				t.Fatalf("status = %d, body %v", status, body)
			}
			msgs := dataList(t, body)
			if len(msgs) != 3 {
				t.Fatalf("history length = %d, want 3", len(msgs))
			}
			want := []string{"hi bob", "hi alice", "how is the gig"}
			for i, m := range msgs {
				if m["content"] != want[i] {
					t.Errorf("history[%d] = %q, want %q", i, m["content"], want[i])
				}
				if m["room_id"] != room {
					t.Errorf("history[%d] room = %q, want %q", i, m["room_id"], room)
				}
			}
		})
	}
}

func TestGetHistory_ExcludesOtherRoomsAndOrders(t *testing.T) {
	app, db := setupApp(t)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	carol := seedUser(t, db, "carol")
	orderID := uuid.New()

	now := time.Now()
	seedMessage(t, db, alice, &bob, nil, chat.RoomID(alice.String(), bob.String()), "for bob", now)
	seedMessage(t, db, alice, &carol, nil, chat.RoomID(alice.String(), carol.String()), "for carol", now)
	seedMessage(t, db, alice, nil, &orderID, chat.OrderRoomID(orderID.String()), "order talk", now)

	status, body := doJSON(t, app, http.MethodGet, "/api/messages/"+bob.String(), tokenFor(t, alice), nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	msgs := dataList(t, body)
	if len(msgs) != 1 || msgs[0]["content"] != "for bob" {
		t.Errorf("history = %v, want only the bob thread", msgs)
	}
}

func TestGetHistory_EmptyThread(t *testing.T) {
	app, db := setupApp(t)
	alice := seedUser(t, db, "alice")

	status, body := doJSON(t, app, http.MethodGet, "/api/messages/"+uuid.New().String(), tokenFor(t, alice), nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if msgs := dataList(t, body); len(msgs) != 0 {
		t.Errorf("history = %v, want empty list", msgs)
	}
}

func TestGetHistory_InvalidPeerID(t *testing.T) {
	app, db := setupApp(t)
	alice := seedUser(t, db, "alice")

	status, _ := doJSON(t, app, http.MethodGet, "/api/messages/not-a-uuid", tokenFor(t, alice), nil)
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestSendMessage(t *testing.T) {
	app, db := setupApp(t)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	status, body := doJSON(t, app, http.MethodPost, "/api/messages", tokenFor(t, alice), map[string]any{
		"receiver_id":   bob.String(),
		"content":       "  hello bob  ",
		"client_msg_id": "client-1",
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}

	data := body["data"].(map[string]any)
	if data["content"] != "hello bob" {
		t.Errorf("content = %q, want trimmed %q", data["content"], "hello bob")
	}
	if data["sender_id"] != alice.String() || data["receiver_id"] != bob.String() {
		t.Errorf("participants = %v/%v", data["sender_id"], data["receiver_id"])
	}
	if data["room_id"] != chat.RoomID(alice.String(), bob.String()) {
		t.Errorf("room_id = %q", data["room_id"])
	}
	if data["client_msg_id"] != "client-1" {
		t.Errorf("client_msg_id = %q, want client-1", data["client_msg_id"])
	}
	if data["id"] == "" || data["id"] == uuid.Nil.String() {
		t.Errorf("id = %v, want minted uuid", data["id"])
	}

	var count int64
	db.Model(&models.Message{}).Count(&count)
	if count != 1 {
		t.Errorf("stored messages = %d, want 1", count)
	}
}

func TestSendMessage_Validation(t *testing.T) {
	app, db := setupApp(t)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	token := tokenFor(t, alice)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"empty content", map[string]any{"receiver_id": bob.String(), "content": ""}},
		{"whitespace content", map[string]any{"receiver_id": bob.String(), "content": "   "}},
		{"bad receiver", map[string]any{"receiver_id": "nope", "content": "hi"}},
		{"missing receiver", map[string]any{"content": "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := doJSON(t, app, http.MethodPost, "/api/messages", token, tt.body)
			if status != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", status)
			}
		})
	}

	var count int64
	db.Model(&models.Message{}).Count(&count)
	if count != 0 {
		t.Errorf("stored messages = %d, want 0", count)
	}
}

func TestSendMessage_MintsClientMsgID(t *testing.T) {
	app, db := setupApp(t)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	status, body := doJSON(t, app, http.MethodPost, "/api/messages", tokenFor(t, alice), map[string]any{
		"receiver_id": bob.String(),
		"content":     "no correlation id",
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	data := body["data"].(map[string]any)
	if _, err := uuid.Parse(data["client_msg_id"].(string)); err != nil {
		t.Errorf("client_msg_id = %v, want server-minted uuid", data["client_msg_id"])
	}
}

func TestSendMessage_RetryReturnsStoredRow(t *testing.T) {
	app, db := setupApp(t)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	token := tokenFor(t, alice)

	body := map[string]any{
		"receiver_id":   bob.String(),
		"content":       "hello once",
		"client_msg_id": "retry-1",
	}

	status, first := doJSON(t, app, http.MethodPost, "/api/messages", token, body)
	if status != http.StatusOK {
		t.Fatalf("first status = %d", status)
	}
	status, second := doJSON(t, app, http.MethodPost, "/api/messages", token, body)
	if status != http.StatusOK {
		t.Fatalf("retry status = %d, want the stored row, not an error", status)
	}

	firstData := first["data"].(map[string]any)
	secondData := second["data"].(map[string]any)
	if firstData["id"] != secondData["id"] {
		t.Errorf("retry returned a different row: %v vs %v", firstData["id"], secondData["id"])
	}

	var count int64
	db.Model(&models.Message{}).Count(&count)
	if count != 1 {
		t.Errorf("stored messages = %d, want 1 after retry", count)
	}
}

func TestOrderThread(t *testing.T) {
	app, db := setupApp(t)
	client := seedUser(t, db, "client")
	freelancer := seedUser(t, db, "freelancer")
	orderID := uuid.New()
	path := "/api/orders/" + orderID.String() + "/messages"

	status, body := doJSON(t, app, http.MethodPost, path, tokenFor(t, client), map[string]any{
		"content": "please start",
	})
	if status != http.StatusOK {
		t.Fatalf("post status = %d, body %v", status, body)
	}
	data := body["data"].(map[string]any)
	if data["order_id"] != orderID.String() {
		t.Errorf("order_id = %v, want %s", data["order_id"], orderID)
	}
	if data["room_id"] != chat.OrderRoomID(orderID.String()) {
		t.Errorf("room_id = %v", data["room_id"])
	}
	if _, ok := data["receiver_id"]; ok {
		t.Error("order message should not carry receiver_id")
	}

	status, body = doJSON(t, app, http.MethodPost, path, tokenFor(t, freelancer), map[string]any{
		"content": "on it",
	})
	if status != http.StatusOK {
		t.Fatalf("second post status = %d", status)
	}

	status, body = doJSON(t, app, http.MethodGet, path, tokenFor(t, client), nil)
	if status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	msgs := dataList(t, body)
	if len(msgs) != 2 {
		t.Fatalf("thread length = %d, want 2", len(msgs))
	}
	if msgs[0]["content"] != "please start" || msgs[1]["content"] != "on it" {
		t.Errorf("thread = %v, want chronological order", msgs)
	}
}

func TestOrderThread_InvalidOrderID(t *testing.T) {
	app, db := setupApp(t)
	alice := seedUser(t, db, "alice")
	token := tokenFor(t, alice)

	status, _ := doJSON(t, app, http.MethodGet, "/api/orders/nope/messages", token, nil)
	if status != http.StatusBadRequest {
		t.Errorf("get status = %d, want 400", status)
	}
	status, _ = doJSON(t, app, http.MethodPost, "/api/orders/nope/messages", token, map[string]any{"content": "x"})
	if status != http.StatusBadRequest {
		t.Errorf("post status = %d, want 400", status)
	}
}

func TestAuthRequired(t *testing.T) {
	app, _ := setupApp(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/messages/" + uuid.New().String()},
		{http.MethodPost, "/api/messages"},
		{http.MethodGet, "/api/contacts"},
		{http.MethodGet, "/api/orders/" + uuid.New().String() + "/messages"},
	}
	for _, p := range paths {
		status, _ := doJSON(t, app, p.method, p.path, "", nil)
		if status != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want 401", p.method, p.path, status)
		}
	}

	status, _ := doJSON(t, app, http.MethodGet, "/api/contacts", "garbage-token", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", status)
	}
}

func TestGetContacts(t *testing.T) {
	app, db := setupApp(t)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	carol := seedUser(t, db, "carol")
	orderID := uuid.New()

	base := time.Now().Add(-time.Hour)
	roomAB := chat.RoomID(alice.String(), bob.String())
	roomAC := chat.RoomID(alice.String(), carol.String())
	seedMessage(t, db, alice, &bob, nil, roomAB, "old to bob", base)
	seedMessage(t, db, carol, &alice, nil, roomAC, "carol says hi", base.Add(time.Minute))
	seedMessage(t, db, bob, &alice, nil, roomAB, "bob replies", base.Add(2*time.Minute))
	seedMessage(t, db, alice, nil, &orderID, chat.OrderRoomID(orderID.String()), "order noise", base.Add(3*time.Minute))

	status, body := doJSON(t, app, http.MethodGet, "/api/contacts", tokenFor(t, alice), nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	contacts := dataList(t, body)
	if len(contacts) != 2 {
		t.Fatalf("contacts = %v, want bob and carol", contacts)
	}

	// Most recent conversation first, preview from the newest message.
	if contacts[0]["id"] != bob.String() || contacts[0]["name"] != "bob" || contacts[0]["last_message"] != "bob replies" {
		t.Errorf("contacts[0] = %v, want bob with preview", contacts[0])
	}
	if contacts[1]["id"] != carol.String() || contacts[1]["last_message"] != "carol says hi" {
		t.Errorf("contacts[1] = %v, want carol", contacts[1])
	}
}

func TestGetContacts_Empty(t *testing.T) {
	app, db := setupApp(t)
	alice := seedUser(t, db, "alice")

	status, body := doJSON(t, app, http.MethodGet, "/api/contacts", tokenFor(t, alice), nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if contacts := dataList(t, body); len(contacts) != 0 {
		t.Errorf("contacts = %v, want empty", contacts)
	}
}
