// Package session holds the process-wide authenticated session: the bearer
// token and the cached profile. Components that depend on auth state take a
// *Context by injection and subscribe to changes instead of reading ambient
// storage. The context is populated at login and cleared at logout or when
// a request comes back 401.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/crewlink-app/crewlink/internal/models"
	"gopkg.in/yaml.v3"
)

// Session is an immutable snapshot of the current auth state. Token is
// empty when logged out.
type Session struct {
	Token   string
	Profile models.Profile
}

// Context owns the mutable session state and its subscribers.
type Context struct {
	mu      sync.Mutex
	current Session
	subs    map[int]func(Session)
	nextSub int
}

// New returns an empty, logged-out Context.
func New() *Context {
	return &Context{subs: make(map[int]func(Session))}
}

// Get returns the current session snapshot and whether a token is present.
func (c *Context) Get() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current.Token != ""
}

// Token returns the current bearer token, or empty if logged out.
func (c *Context) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Token
}

// Set installs a new session and notifies subscribers.
func (c *Context) Set(token string, profile models.Profile) {
	c.mu.Lock()
	c.current = Session{Token: token, Profile: profile}
	snapshot := c.current
	fns := c.subscribers()
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

// Clear drops the session and notifies subscribers with an empty snapshot.
// Safe to call when already logged out.
func (c *Context) Clear() {
	c.mu.Lock()
	wasEmpty := c.current.Token == ""
	c.current = Session{}
	fns := c.subscribers()
	c.mu.Unlock()

	if wasEmpty {
		return
	}
	for _, fn := range fns {
		fn(Session{})
	}
}

// Subscribe registers fn to run on every session change. The returned
// cancel func removes the subscription and is safe to call more than once.
func (c *Context) Subscribe(fn func(Session)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// subscribers returns the current callbacks in registration order. Caller
// must hold mu.
func (c *Context) subscribers() []func(Session) {
	fns := make([]func(Session), 0, len(c.subs))
	for id := 0; id < c.nextSub; id++ {
		if fn, ok := c.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

// fileSession is the on-disk YAML shape of a persisted session.
type fileSession struct {
	Token   string         `yaml:"token"`
	Profile models.Profile `yaml:"profile"`
}

// LoadFile populates the context from a session file written by SaveFile.
// A missing file is not an error; the context is left logged out.
func (c *Context) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: read %s: %w", path, err)
	}
	var fs fileSession
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return fmt.Errorf("session: parse %s: %w", path, err)
	}
	if fs.Token != "" {
		c.Set(fs.Token, fs.Profile)
	}
	return nil
}

// SaveFile persists the current session to path, creating parent
// directories as needed. An empty session removes the file.
func (c *Context) SaveFile(path string) error {
	snapshot, ok := c.Get()
	if !ok {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("session: remove %s: %w", path, err)
		}
		return nil
	}

	data, err := yaml.Marshal(fileSession{Token: snapshot.Token, Profile: snapshot.Profile})
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("session: mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("session: write %s: %w", path, err)
	}
	return nil
}
