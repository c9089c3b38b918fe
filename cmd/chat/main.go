package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/andriansp/gigchat/internal/chat"
	"github.com/andriansp/gigchat/internal/config"
)

// Terminal chat client. Reads lines from stdin and sends them to the peer
// (CHAT_PEER_ID) or the order thread (CHAT_ORDER_ID); incoming live messages
// print as they arrive.
func main() {
	_ = godotenv.Load()
	cfg := config.LoadClient()

	scope, err := resolveScope(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	conn, err := chat.Dial(ctx, cfg.GatewayURL, cfg.Token)
	if err != nil {
		log.Fatal("connect:", err)
	}
	defer conn.Close()

	store := chat.NewStore(cfg.GatewayURL, cfg.Token)

	contacts, err := chat.NewContactClient(cfg.GatewayURL, cfg.Token).ListContacts(ctx, cfg.UserID)
	if err != nil {
		log.Println("contacts unavailable:", err)
	}
	for _, ct := range contacts {
		fmt.Printf("contact: %s (%s)  %s\n", ct.Name, ct.ID, ct.LastMessage)
	}

	session := chat.NewSession(conn, store, cfg.UserID)
	session.OnMessage(func(m chat.Message) {
		who := m.SenderID
		if who == cfg.UserID {
			who = "me"
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04"), who, m.Content)
	})
	defer session.Close()

	if err := session.Open(ctx, scope); err != nil {
		log.Fatal("open conversation:", err)
	}
	for _, m := range session.Messages() {
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04"), m.SenderID, m.Content)
	}

	go func() {
		<-conn.Done()
		fmt.Println("-- disconnected --")
		os.Exit(0)
	}()

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := sc.Text()
		if line == "/quit" {
			return
		}
		if _, err := session.Send(ctx, line); err != nil {
			if chat.IsValidation(err) {
				continue
			}
			fmt.Println("send failed:", err)
		}
	}
}

func resolveScope(cfg config.ClientConfig) (chat.Scope, error) {
	switch {
	case cfg.OrderID != "":
		return chat.OrderScope(cfg.OrderID), nil
	case cfg.PeerID != "":
		return chat.UserScope(cfg.PeerID), nil
	default:
		return chat.Scope{}, fmt.Errorf("set CHAT_PEER_ID or CHAT_ORDER_ID")
	}
}
