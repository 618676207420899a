package main

import (
	"context"
	"fmt"

	"github.com/crewlink-app/crewlink/internal/chatapi"
	"github.com/crewlink-app/crewlink/internal/config"
	"github.com/crewlink-app/crewlink/internal/session"
	"github.com/crewlink-app/crewlink/internal/store"
)

// clientContext bundles everything a client-side command needs.
type clientContext struct {
	cfg     *config.Config
	session *session.Context
	api     *chatapi.Client
}

// loadClient builds the API client from config and the persisted session.
func loadClient(configPath string) (*clientContext, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	sess := session.New()
	if err := sess.LoadFile(cfg.API.SessionFile); err != nil {
		return nil, err
	}

	api, err := chatapi.New(chatapi.Opts{BaseURL: cfg.API.BaseURL, Session: sess})
	if err != nil {
		return nil, err
	}
	return &clientContext{cfg: cfg, session: sess, api: api}, nil
}

// requireLogin ensures a session is present and returns its profile.
func (c *clientContext) requireLogin() (session.Session, error) {
	snapshot, ok := c.session.Get()
	if !ok {
		return session.Session{}, fmt.Errorf("not logged in; run 'crew login' first")
	}
	return snapshot, nil
}

// newStore builds a conversation store seeded from the server.
func (c *clientContext) newStore(ctx context.Context) (*store.Store, error) {
	snapshot, err := c.requireLogin()
	if err != nil {
		return nil, err
	}
	s, err := store.New(store.Opts{Transport: c.api, ViewerID: snapshot.Profile.UserID})
	if err != nil {
		return nil, err
	}
	if err := s.RefreshConversations(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Compile-time check that the API client drives the store.
var _ store.Transport = (*chatapi.Client)(nil)
