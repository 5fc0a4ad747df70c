package session

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/SyncFox/internal/pkg/cache"
	"github.com/ManuelReschke/SyncFox/internal/pkg/env"
)

const (
	KeyUserID   = "user_id"
	KeyUserName = "username"
)

var sessionStore *session.Store

func NewSessionStore() *session.Store {
	// Get Redis client configuration from existing cache setup
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	// Sessions live in database 1, the cache uses DB 0
	storage := redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})

	sessionStore = session.New(session.Config{
		Storage:        storage,
		CookieHTTPOnly: true,
		CookieSecure:   !env.IsDev(),
		CookieSameSite: "Lax",
		Expiration:     24 * time.Hour,
		KeyLookup:      "cookie:session_id",
	})

	return sessionStore
}

// NewMemorySessionStore keeps sessions in process memory.
func NewMemorySessionStore() *session.Store {
	sessionStore = session.New(session.Config{
		CookieHTTPOnly: true,
		Expiration:     time.Hour,
		KeyLookup:      "cookie:session_id",
	})
	return sessionStore
}

func get(c *fiber.Ctx) (*session.Session, error) {
	if sessionStore == nil {
		return nil, fmt.Errorf("session store not initialized")
	}
	sess, err := sessionStore.Get(c)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %v", err)
	}
	return sess, nil
}

// SetSessionValue stores a key-value pair in the user's individual session
func SetSessionValue(c *fiber.Ctx, key string, value string) error {
	sess, err := get(c)
	if err != nil {
		return err
	}
	sess.Set(key, value)
	return sess.Save()
}

// GetSessionValue retrieves a value by key from the user's individual session
func GetSessionValue(c *fiber.Ctx, key string) string {
	sess, err := get(c)
	if err != nil {
		return ""
	}
	if strValue, ok := sess.Get(key).(string); ok {
		return strValue
	}
	return ""
}

// SetJSON stores v encoded as JSON under key.
func SetJSON(c *fiber.Ctx, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return SetSessionValue(c, key, string(raw))
}

// GetJSON decodes the value under key into v. It reports false when nothing
// usable is stored.
func GetJSON(c *fiber.Ctx, key string, v any) bool {
	raw := GetSessionValue(c, key)
	if raw == "" {
		return false
	}
	return json.Unmarshal([]byte(raw), v) == nil
}

// Delete removes key from the session.
func Delete(c *fiber.Ctx, key string) error {
	sess, err := get(c)
	if err != nil {
		return err
	}
	sess.Delete(key)
	return sess.Save()
}

// Login starts a fresh session for the user.
func Login(c *fiber.Ctx, userID uint, name string) error {
	sess, err := get(c)
	if err != nil {
		return err
	}
	if err := sess.Regenerate(); err != nil {
		return fmt.Errorf("failed to regenerate session: %v", err)
	}
	sess.Set(KeyUserID, userID)
	sess.Set(KeyUserName, name)
	return sess.Save()
}

// Logout destroys the session.
func Logout(c *fiber.Ctx) error {
	sess, err := get(c)
	if err != nil {
		return err
	}
	return sess.Destroy()
}

// UserID returns the logged-in user of the session, or 0.
func UserID(c *fiber.Ctx) uint {
	sess, err := get(c)
	if err != nil {
		return 0
	}
	if id, ok := sess.Get(KeyUserID).(uint); ok {
		return id
	}
	return 0
}
