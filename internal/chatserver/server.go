// Package chatserver is the reference implementation of the marketplace
// chat API: the REST endpoints, the per-user websocket hub, and the
// scheduled unread digest. The client subsystem treats this server as an
// external collaborator; it exists so the subsystem has a real integration
// target.
package chatserver

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the chat server.
type StartOpts struct {
	DB   *gorm.DB
	Hub  *Hub // defaults to a fresh hub
	Port int
	Out  io.Writer
}

// Start launches the chat server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("chatserver: db is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub()
	}

	router := NewRouter(opts.DB, hub)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Chat server listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("chatserver: %w", err)
	}
	return nil
}

// NewRouter builds the Gin engine with all chat routes registered. Exposed
// separately so tests can serve it from httptest.
func NewRouter(db *gorm.DB, hub *Hub) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, db, hub)
	return router
}
