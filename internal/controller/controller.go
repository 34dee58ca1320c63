// Package controller owns one chat session: it resolves the user, drives
// the live channel, routes inbound envelopes and runs the outbound send
// paths.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/chatline/internal/attachment"
	"github.com/zulandar/chatline/internal/backend"
	"github.com/zulandar/chatline/internal/identity"
	"github.com/zulandar/chatline/internal/protocol"
	"github.com/zulandar/chatline/internal/router"
	"github.com/zulandar/chatline/internal/session"
	"github.com/zulandar/chatline/internal/transport"
	"github.com/zulandar/chatline/internal/view"
)

// User-facing notices.
const (
	NoticeIdentityUnavailable = "Error: could not get your user ID. Try restarting the chat from Telegram."
	NoticeConnected           = "Connection established."
	NoticeConnectionError     = "Connection error. Try reloading the page."
	NoticeMalformedFrame      = "Error processing a message from the server."
	NoticeNotConnected        = "No connection to the server."
	NoticeNoConversation      = "Error: files cannot be sent right now. You can send them after calling an operator."
	NoticeTooLarge            = "File too large. Maximum size: 250MB"
	NoticeUnsupportedType     = "Unsupported file type"
	NoticeFeedbackFailed      = "Failed to send feedback."
	NoticeNewConversation     = "Continuing the chat. Enter your message."
)

// ErrNoActiveConversation is returned when a file is sent before the
// backend has assigned a conversation.
var ErrNoActiveConversation = errors.New("no active conversation")

// Conn is the live channel. *transport.Manager satisfies it.
type Conn interface {
	Connect(ctx context.Context, launchData string) error
	Publish(frame []byte) error
	Events() <-chan transport.Event
	State() transport.State
	Close() error
}

// Backend is the HTTP side of the backend. *backend.Client satisfies it.
type Backend interface {
	Upload(ctx context.Context, req backend.UploadRequest) (*backend.UploadResult, error)
	Feedback(ctx context.Context, conversationID string) error
	RequestManager(ctx context.Context, conversationID string) error
}

// Controller serializes every reaction (inbound events, user actions,
// upload completion) under one mutex. The submission gate additionally
// spans the HTTP phase of an upload, which runs outside the mutex.
type Controller struct {
	conn       Conn
	backend    Backend
	view       view.View
	validator  *attachment.Validator
	launchData string
	now        func() time.Time

	gate session.Gate

	mu     sync.Mutex
	state  *session.State
	router *router.Router
}

// Opts holds parameters for creating a Controller.
type Opts struct {
	LaunchData string
	Conn       Conn
	Backend    Backend
	View       view.View
}

// New creates a Controller. Start must be called before any other method.
func New(opts Opts) (*Controller, error) {
	if opts.Conn == nil {
		return nil, fmt.Errorf("controller: conn is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("controller: backend is required")
	}
	if opts.View == nil {
		return nil, fmt.Errorf("controller: view is required")
	}
	return &Controller{
		conn:       opts.Conn,
		backend:    opts.Backend,
		view:       opts.View,
		validator:  attachment.NewValidator(),
		launchData: opts.LaunchData,
		now:        time.Now,
	}, nil
}

// Start resolves the user and opens the channel. Without a usable identity
// it renders one notice and never connects.
func (c *Controller) Start(ctx context.Context) error {
	id, err := identity.Resolve(c.launchData)
	if err != nil {
		log.Printf("controller: %v", err)
		c.view.Notice(NoticeIdentityUnavailable)
		return fmt.Errorf("controller: start: %w", err)
	}

	c.mu.Lock()
	c.state = session.New(id.UserID, id.UserName)
	c.router, err = router.New(router.Opts{State: c.state, View: c.view})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("controller: start: %w", err)
	}
	c.view.SetUploadLabel(view.UploadLabelIdle)
	c.view.SetControls(c.state.Controls())
	c.mu.Unlock()

	log.Printf("controller: connecting as user %s", id.UserID)
	if err := c.conn.Connect(ctx, c.launchData); err != nil {
		return fmt.Errorf("controller: connect: %w", err)
	}
	return nil
}

// Run pumps channel events until the event stream ends or ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	events := c.conn.Events()
	for {
		select {
		case <-ctx.Done():
			if err := c.conn.Close(); err != nil {
				log.Printf("controller: close channel: %v", err)
			}
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.HandleEvent(ev)
		}
	}
}

// HandleEvent applies one channel event.
func (c *Controller) HandleEvent(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		log.Printf("controller: dropping event %d before start", ev.Kind)
		return
	}

	switch ev.Kind {
	case transport.EventOpen:
		c.view.Notice(NoticeConnected)
	case transport.EventMessage:
		c.router.Handle(ev.Envelope)
	case transport.EventMalformed:
		log.Printf("controller: %v", ev.Err)
		c.view.Notice(NoticeMalformedFrame)
	case transport.EventError:
		log.Printf("controller: channel error: %v", ev.Err)
		c.view.Notice(NoticeConnectionError)
	case transport.EventClose:
		log.Printf("controller: channel closed (code %d, retrying=%v)", ev.Code, ev.Retrying)
		c.state.ChannelClosed()
		c.view.Notice(closeNotice(ev))
		c.view.SetControls(c.state.Controls())
	}
}

func closeNotice(ev transport.Event) string {
	parts := []string{fmt.Sprintf("Connection closed (code: %d).", ev.Code)}
	if r := strings.TrimSpace(ev.Reason); r != "" {
		parts = append(parts, r)
	}
	if ev.Retrying {
		parts = append(parts, "Reconnecting...")
	} else {
		parts = append(parts, "Try reloading the page.")
	}
	return strings.Join(parts, " ")
}

// Busy reports whether a send is in flight.
func (c *Controller) Busy() bool {
	return c.gate.Busy()
}

// Controls returns the current affordance snapshot.
func (c *Controller) Controls() view.Controls {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return view.Controls{}
	}
	return c.state.Controls()
}

// ConversationID returns the current conversation id, or "".
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return ""
	}
	return c.state.ConversationID
}

// requireOpen renders the no-connection notice unless the channel is open.
// Callers hold c.mu.
func (c *Controller) requireOpen(op string) error {
	if c.conn.State() == transport.StateOpen {
		return nil
	}
	c.view.Notice(NoticeNotConnected)
	return fmt.Errorf("controller: %s: %w", op, transport.ErrNotConnected)
}

// SendText publishes a text message. A send while another is in flight,
// while input is disabled or with empty text is silently ignored.
func (c *Controller) SendText(text string) error {
	if !c.gate.TryAcquire() {
		log.Printf("controller: send in flight, ignoring text")
		return nil
	}
	defer c.gate.Release()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return fmt.Errorf("controller: send text: %w", identity.ErrIdentityUnavailable)
	}
	if err := c.requireOpen("send text"); err != nil {
		return err
	}
	if text == "" || !c.state.InputEnabled {
		return nil
	}

	frame, err := protocol.TextMessage(text, c.state.ConversationID)
	if err != nil {
		return fmt.Errorf("controller: send text: %w", err)
	}
	if err := c.conn.Publish(frame); err != nil {
		c.view.Notice(NoticeNotConnected)
		return fmt.Errorf("controller: send text: %w", err)
	}

	sentAt := c.now()
	c.view.Render(protocol.ChatMessage{
		Text:     text,
		SenderID: c.state.UserID,
		Sender:   protocol.SenderClient,
		SentAt:   sentAt,
	})
	c.state.RecordSelfMessage(text, sentAt)
	c.state.HideActions()
	c.view.SetControls(c.state.Controls())
	return nil
}

// Satisfied reports that the user is happy with the answer. Without a
// conversation it does nothing.
func (c *Controller) Satisfied(ctx context.Context) error {
	id := c.ConversationID()
	if id == "" {
		return nil
	}
	err := c.backend.Feedback(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		log.Printf("controller: feedback for %s: %v", id, err)
		c.view.Notice(NoticeFeedbackFailed)
		return fmt.Errorf("controller: feedback: %w", err)
	}
	c.state.HideActions()
	c.view.SetControls(c.state.Controls())
	return nil
}

// RequestOperator asks for a human operator. Without a conversation it
// does nothing.
func (c *Controller) RequestOperator(ctx context.Context) error {
	id := c.ConversationID()
	if id == "" {
		return nil
	}
	err := c.backend.RequestManager(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		log.Printf("controller: request operator for %s: %v", id, err)
		c.view.Notice("Failed to request an operator: " + err.Error())
		return fmt.Errorf("controller: request operator: %w", err)
	}
	c.state.HideActions()
	c.view.SetControls(c.state.Controls())
	return nil
}

// StartNewChat asks the backend for a fresh conversation and resets the
// view.
func (c *Controller) StartNewChat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return fmt.Errorf("controller: new chat: %w", identity.ErrIdentityUnavailable)
	}
	if err := c.requireOpen("new chat"); err != nil {
		return err
	}

	frame, err := protocol.StartNewChat()
	if err != nil {
		return fmt.Errorf("controller: new chat: %w", err)
	}
	if err := c.conn.Publish(frame); err != nil {
		c.view.Notice(NoticeNotConnected)
		return fmt.Errorf("controller: new chat: %w", err)
	}
	c.view.Clear()
	c.view.Notice(NoticeNewConversation)
	c.state.StartNewConversation()
	c.view.SetControls(c.state.Controls())
	return nil
}

// Close ends the channel.
func (c *Controller) Close() error {
	return c.conn.Close()
}
