package config

import (
	"os"
	"strconv"
)

type Config struct {
	AppPort       string
	DBDSN         string
	JWTSecret     string
	JWTExpiresMin int
	RedisAddr     string
	RedisPassword string
}

func Load() Config {
	expires, _ := strconv.Atoi(get("JWT_EXPIRES_MIN", "10080"))
	return Config{
		AppPort:       get("APP_PORT", "8080"),
		DBDSN:         must("DB_DSN"),
		JWTSecret:     must("JWT_SECRET"),
		JWTExpiresMin: expires,
		RedisAddr:     get("REDIS_ADDR", "localhost:6379"),
		RedisPassword: get("REDIS_PASSWORD", ""),
	}
}

// ClientConfig configures the terminal chat client. The gateway address is
// configurable here so production builds never hardcode a host.
type ClientConfig struct {
	GatewayURL string
	Token      string
	UserID     string
	PeerID     string
	OrderID    string
}

func LoadClient() ClientConfig {
	return ClientConfig{
		GatewayURL: get("GATEWAY_URL", "http://localhost:8080"),
		Token:      must("CHAT_TOKEN"),
		UserID:     must("CHAT_USER_ID"),
		PeerID:     get("CHAT_PEER_ID", ""),
		OrderID:    get("CHAT_ORDER_ID", ""),
	}
}

func get(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("missing env: " + k)
	}
	return v
}
