package config

import (
	"os"
	"time"
)

// Config holds the client-wide settings. Values come from the environment
// with local-development defaults.
type Config struct {
	// ServerURL is the http(s) base for the collaboration REST API.
	ServerURL string

	// WSURL is the ws(s) origin for document sessions.
	WSURL string

	// Token is the bearer token attached to REST calls and the WebSocket
	// handshake. Empty means unauthenticated.
	Token string

	// JournalPath, when set, enables the local operation journal.
	JournalPath string

	// Reconnect enables supervised redialing after transport failures.
	Reconnect bool

	// CursorTTL drops remote cursors not refreshed within the window.
	// Zero disables the sweep.
	CursorTTL time.Duration

	Env string
}

// Load builds the configuration for the given environment.
func Load(env string) (*Config, error) {
	cfg := &Config{
		ServerURL:   envOr("COLLAB_SERVER_URL", "http://localhost:8080"),
		WSURL:       envOr("COLLAB_WS_URL", "ws://localhost:8080"),
		Token:       os.Getenv("COLLAB_TOKEN"),
		JournalPath: os.Getenv("COLLAB_JOURNAL_PATH"),
		Reconnect:   os.Getenv("COLLAB_RECONNECT") == "true",
		CursorTTL:   30 * time.Second,
		Env:         env,
	}

	if ttl := os.Getenv("COLLAB_CURSOR_TTL"); ttl != "" {
		parsed, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, err
		}
		cfg.CursorTTL = parsed
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
