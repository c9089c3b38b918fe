package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"

	"github.com/andriansp/gigchat/internal/config"
	"github.com/andriansp/gigchat/internal/db"
	"github.com/andriansp/gigchat/internal/handlers"
	"github.com/andriansp/gigchat/internal/middleware"
	"github.com/andriansp/gigchat/internal/models"
	"github.com/andriansp/gigchat/internal/realtime"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}

	if err := gdb.AutoMigrate(&models.User{}, &models.Message{}); err != nil {
		log.Fatal(err)
	}

	rdb := realtime.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Redis not reachable:", err)
	}

	hub := realtime.NewHub()
	go hub.Run()

	bridge := realtime.NewBridge(rdb, hub)
	go bridge.Run(context.Background())

	msgH := handlers.NewMessageHandler(gdb, hub, bridge)

	app := fiber.New()

	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://127.0.0.1:3000, http://localhost:3000",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: true,
	}))

	api := app.Group("/api", middleware.BearerAuth(cfg.JWTSecret))

	api.Get("/messages/:userId", msgH.GetHistory)
	api.Post("/messages", msgH.SendMessage)
	api.Get("/orders/:id/messages", msgH.GetOrderHistory)
	api.Post("/orders/:id/messages", msgH.SendOrderMessage)
	api.Get("/contacts", msgH.GetContacts)

	// WebSocket endpoint; token is verified inside the handler because the
	// browser websocket API cannot set the Authorization header.
	app.Get("/ws/chat", websocket.New(msgH.WebSocketHandler(cfg.JWTSecret)))

	log.Fatal(app.Listen(":" + cfg.AppPort))
}
