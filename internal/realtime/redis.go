package realtime

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "chat:room:"

// NewRedis creates the Redis client used for cross-instance room fanout.
func NewRedis(addr, password string) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	log.Printf("Redis client created (addr: %s)", addr)
	return rdb
}

// Bridge routes room events through Redis pub/sub so fanout reaches clients
// connected to any gateway instance, not just the one that received the
// event. Every instance publishes; every instance subscribes and delivers to
// its local hub.
type Bridge struct {
	rdb *redis.Client
	hub *Hub
}

func NewBridge(rdb *redis.Client, hub *Hub) *Bridge {
	return &Bridge{rdb: rdb, hub: hub}
}

// Publish fans a payload out to every member of the room, on all instances.
func (b *Bridge) Publish(ctx context.Context, roomID string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, roomChannelPrefix+roomID, payload).Err()
}

// Run blocks consuming room channels and delivering to the local hub. Runs
// for the process lifetime; cancel ctx to stop.
func (b *Bridge) Run(ctx context.Context) {
	sub := b.rdb.PSubscribe(ctx, roomChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			roomID := strings.TrimPrefix(msg.Channel, roomChannelPrefix)
			b.hub.SendToRoomRaw(roomID, []byte(msg.Payload))
		}
	}
}
