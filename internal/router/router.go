// Package router applies inbound channel envelopes to the session state
// and turns them into render instructions.
package router

import (
	"fmt"
	"log"
	"time"

	"github.com/zulandar/chatline/internal/protocol"
	"github.com/zulandar/chatline/internal/session"
	"github.com/zulandar/chatline/internal/view"
)

// OnboardingNotice is shown at the top of every initialized conversation.
const OnboardingNotice = "Start the conversation by sending a message. Our assistant will try to answer your question. " +
	"If you are not satisfied with the answer, you can always call an operator."

// aiLabel is the sender label shown on automated replies.
const aiLabel = "AI"

// Router classifies inbound envelopes and applies them. It is not safe for
// concurrent use; the controller serializes calls.
type Router struct {
	state *session.State
	view  view.View
	now   func() time.Time
}

// Opts holds parameters for creating a Router.
type Opts struct {
	State *session.State
	View  view.View
}

// New creates a Router.
func New(opts Opts) (*Router, error) {
	if opts.State == nil {
		return nil, fmt.Errorf("router: state is required")
	}
	if opts.View == nil {
		return nil, fmt.Errorf("router: view is required")
	}
	return &Router{state: opts.State, view: opts.View, now: time.Now}, nil
}

// Handle applies one inbound envelope. Envelopes without a type or payload,
// undecodable payloads and unknown types are logged and dropped.
func (r *Router) Handle(env protocol.Envelope) {
	if env.Type == "" || !env.HasPayload() {
		log.Printf("router: dropping envelope without type or payload (type=%q)", env.Type)
		return
	}

	var err error
	switch env.Type {
	case protocol.TypeInit:
		err = r.handleInit(env)
	case protocol.TypeMessage:
		err = r.handleMessage(env)
	case protocol.TypeAIResponse:
		err = r.handleAIResponse(env)
	case protocol.TypeStatusUpdate:
		err = r.handleStatusUpdate(env)
	case protocol.TypeError:
		err = r.handleError(env)
	default:
		log.Printf("router: ignoring unknown envelope type %q", env.Type)
		return
	}
	if err != nil {
		log.Printf("router: %v", err)
		return
	}
	r.view.SetControls(r.state.Controls())
}

// decode applies the conversation id the payload carries, then unmarshals
// the payload into v. The id is taken even when the rest of the payload
// does not fit v.
func (r *Router) decode(env protocol.Envelope, v interface{ ConversationID() string }) error {
	var common protocol.Common
	if err := env.Decode(&common); err == nil {
		r.state.AssignConversation(common.ConversationID())
	}
	return env.Decode(v)
}

func (r *Router) handleInit(env protocol.Envelope) error {
	var p protocol.InitPayload
	if err := r.decode(env, &p); err != nil {
		return err
	}

	r.view.Clear()
	r.view.Notice(OnboardingNotice)
	for _, w := range p.History {
		msg := protocol.Ingest(w, r.state.UserID)
		if !msg.Valid() {
			continue
		}
		r.view.Render(msg)
	}
	r.state.ApplyInit(p.ShowButtons)
	return nil
}

func (r *Router) handleMessage(env protocol.Envelope) error {
	var p protocol.WireMessage
	if err := r.decode(env, &p); err != nil {
		return err
	}

	if r.state.IsEchoOfStaged(p.Media) {
		log.Printf("router: suppressing echo of staged upload %s", p.Media.FileID)
		r.state.ClearSelfMessage()
		return nil
	}

	msg := protocol.Ingest(p, r.state.UserID)
	r.state.ClearSelfMessage()
	if !msg.Valid() {
		log.Printf("router: dropping message without text or media from %q", msg.SenderID)
		return nil
	}
	r.view.Render(msg)
	return nil
}

func (r *Router) handleAIResponse(env protocol.Envelope) error {
	var p protocol.AIResponsePayload
	if err := r.decode(env, &p); err != nil {
		return err
	}

	r.view.Render(protocol.ChatMessage{
		Text:     p.Text,
		Media:    p.Media,
		SenderID: aiLabel,
		Sender:   protocol.SenderAI,
		SentAt:   p.Timestamp.OrNow(),
	})
	r.state.ApplyAIButtons(p.ShowButtons)
	return nil
}

func (r *Router) handleStatusUpdate(env protocol.Envelope) error {
	var p protocol.StatusUpdatePayload
	if err := r.decode(env, &p); err != nil {
		return err
	}

	if p.Message != "" {
		r.renderSystem(p.Message)
	}
	r.state.AssignConversation(p.NewChatID)
	if p.Status == protocol.StatusClosed {
		r.state.ApplyClosed(p.ShowNewChatButton)
	}
	return nil
}

func (r *Router) handleError(env protocol.Envelope) error {
	var p protocol.ErrorPayload
	if err := r.decode(env, &p); err != nil {
		return err
	}

	r.renderSystem("Error: " + p.Message)
	r.state.ApplyErrorRecovery(p.ShowOperatorButton, p.ShowNewChatButton)
	return nil
}

func (r *Router) renderSystem(text string) {
	r.view.Render(protocol.ChatMessage{
		Text:   text,
		Sender: protocol.SenderSystem,
		SentAt: r.now(),
	})
}
