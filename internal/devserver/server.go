// Package devserver is a local stand-in for the support backend: it speaks
// the same channel and HTTP protocol as production, with a canned assistant
// and an HTTP surface for playing the operator.
package devserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/zulandar/chatline/internal/attachment"
)

// Responder produces the assistant's answer to a user message.
type Responder func(ctx context.Context, text string) (string, error)

// CannedResponder always answers with reply.
func CannedResponder(reply string) Responder {
	return func(ctx context.Context, text string) (string, error) {
		return reply, nil
	}
}

// Opts holds parameters for creating a Server.
type Opts struct {
	DB        *gorm.DB
	BotToken  string
	MediaDir  string
	Responder Responder
}

// Server serves the channel and HTTP endpoints.
type Server struct {
	store     *Store
	hub       *Hub
	validator *attachment.Validator
	botToken  string
	mediaDir  string
	respond   Responder
	upgrader  websocket.Upgrader
	router    *gin.Engine
}

// New creates a Server and its media directory.
func New(opts Opts) (*Server, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("devserver: db is required")
	}
	if opts.BotToken == "" {
		return nil, fmt.Errorf("devserver: bot token is required")
	}
	if opts.MediaDir == "" {
		return nil, fmt.Errorf("devserver: media dir is required")
	}
	if err := os.MkdirAll(opts.MediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("devserver: create media dir: %w", err)
	}
	respond := opts.Responder
	if respond == nil {
		respond = CannedResponder("Thanks for your message! Our assistant is looking into it.")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		store:     NewStore(opts.DB),
		hub:       NewHub(),
		validator: attachment.NewValidator(),
		botToken:  opts.BotToken,
		mediaDir:  opts.MediaDir,
		respond:   respond,
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
		router:    router,
	}
	s.registerRoutes(router)
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the connection hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// StartOpts holds configuration for running the server.
type StartOpts struct {
	Server *Server
	Port   int
	Out    io.Writer
}

// Start listens on Port. It blocks until ctx is cancelled, then shuts down
// gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Server == nil {
		return fmt.Errorf("devserver: server is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: opts.Server.Handler(),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dev server running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("devserver: %w", err)
	}
	return nil
}
