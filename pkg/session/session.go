// Package session holds the persisted link between a GitHub token and the gist
// that stores the application backup.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
)

// Key is the per-account store key the session is persisted under.
const Key = "github_user"

// ErrIncomplete is returned by Decode when the stored record lacks the gist id or token.
var ErrIncomplete = errors.New("session is missing gist id or token")

// Session is the authenticated link to one backup gist.
type Session struct {
	GistID     string `json:"gist_id"`
	Token      string `json:"token"`
	UserName   string `json:"user_name"`
	UserAvatar string `json:"user_avatar"`
}

// Complete reports whether the session can be used to reach its gist.
func (s Session) Complete() bool {
	return s.GistID != "" && s.Token != ""
}

// Encode serializes the session for storage.
func Encode(s Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, nil
}

// Decode parses a stored session. A record that parses but is not Complete is
// returned together with ErrIncomplete.
func Decode(data []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("failed to decode session: %w", err)
	}
	if !s.Complete() {
		return s, ErrIncomplete
	}
	return s, nil
}

// Cache mirrors the session of the active account. It is owned by whoever
// constructs the provider; there is no package-level instance.
// The cached value is always replaced as a whole.
type Cache struct {
	current atomic.Pointer[Session]
}

// Load returns the cached session, if any.
func (c *Cache) Load() (Session, bool) {
	p := c.current.Load()
	if p == nil {
		return Session{}, false
	}
	return *p, true
}

// Store replaces the cached session.
func (c *Cache) Store(s Session) {
	c.current.Store(&s)
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.current.Store(nil)
}
