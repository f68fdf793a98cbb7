package http

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// Server wraps the fiber app behind the Stoppable contract so the cleanup
// registry can tear the transport down in the server tier.
type Server struct {
	app *fiber.App
}

// NewServer wraps a fiber app.
func NewServer(app *fiber.App) *Server {
	return &Server{app: app}
}

// Stop drains the listener within the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
