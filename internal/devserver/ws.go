package devserver

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/zulandar/chatline/internal/identity"
	"github.com/zulandar/chatline/internal/models"
	"github.com/zulandar/chatline/internal/protocol"
)

// User-facing texts sent over the channel.
const (
	msgChatFinished = "The current chat is finished. Please start a new chat."
	msgAIFailed     = "Sorry, something went wrong while processing your request. Try again later or call an operator."
	msgServerError  = "A server error occurred."
)

// statusNoChat is the init status for a user without any chat.
const statusNoChat = "no_chat"

func chatRef(id string) protocol.Common {
	if id == "" {
		return protocol.Common{}
	}
	return protocol.Common{ChatID: &id}
}

// wireMessage converts a stored message to its channel form.
func wireMessage(m models.Message) protocol.WireMessage {
	w := protocol.WireMessage{
		Common:    chatRef(m.ChatID),
		Text:      m.Text,
		SenderID:  protocol.ID(m.SenderID),
		Timestamp: protocol.Timestamp{Time: m.CreatedAt},
	}
	if m.HasMedia() {
		w.Media = &protocol.Attachment{
			Type:     protocol.MediaType(m.MediaType),
			FileID:   m.MediaFileID,
			Caption:  m.MediaCaption,
			MIMEType: m.MediaMIMEType,
			FileSize: m.MediaFileSize,
		}
	}
	return w
}

// handleWS authenticates the launch data, replays the current chat and
// then serves the user's frames until the socket ends.
func (s *Server) handleWS(c *gin.Context) {
	initData := c.Query("initData")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("devserver: upgrade: %v", err)
		return
	}

	id, err := identity.Verify(initData, s.botToken)
	var userID int64
	if err == nil {
		userID, err = strconv.ParseInt(id.UserID, 10, 64)
	}
	if err != nil {
		log.Printf("devserver: rejecting connection: %v", err)
		reject := &client{conn: conn}
		reject.close(websocket.ClosePolicyViolation, "invalid init data")
		return
	}

	cl := s.hub.register(userID, conn)
	defer s.hub.unregister(userID, cl)
	defer conn.Close()

	sess := &session{server: s, userID: userID, userName: id.DisplayName}
	ctx := c.Request.Context()
	if err := sess.start(); err != nil {
		log.Printf("devserver: init for %d: %v", userID, err)
		cl.close(websocket.CloseInternalServerErr, "")
		return
	}
	log.Printf("devserver: user %d (%s) connected", userID, id.DisplayName)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("devserver: read from %d: %v", userID, err)
			}
			return
		}
		sess.handle(ctx, data)
	}
}

// session is the per-socket conversation cursor.
type session struct {
	server   *Server
	userID   int64
	userName string
	chatID   string
}

func (ss *session) send(t protocol.Type, payload any) {
	if err := ss.server.hub.Send(ss.userID, t, payload); err != nil {
		log.Printf("devserver: %v", err)
	}
}

func (ss *session) start() error {
	store := ss.server.store
	chat, err := store.LatestChat(ss.userID)
	if err != nil {
		return err
	}
	if chat == nil {
		ss.send(protocol.TypeInit, protocol.InitPayload{History: []protocol.WireMessage{}, Status: statusNoChat})
		return nil
	}
	if chat.IsClosed() {
		if err := store.ResetToAIPending(chat.ID); err != nil {
			return err
		}
		if chat, err = store.ChatByID(chat.ID); err != nil {
			return err
		}
	}
	ss.chatID = chat.ID

	msgs, err := store.History(chat)
	if err != nil {
		return err
	}
	history := make([]protocol.WireMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, wireMessage(m))
	}
	showButtons := len(msgs) > 0 && msgs[len(msgs)-1].SenderID == "ai"
	ss.send(protocol.TypeInit, protocol.InitPayload{
		Common:      chatRef(chat.ID),
		History:     history,
		Status:      chat.Status,
		ShowButtons: showButtons,
	})
	return nil
}

func (ss *session) handle(ctx context.Context, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil || env.Type == "" || !env.HasPayload() {
		log.Printf("devserver: invalid frame from %d: %s", ss.userID, data)
		return
	}

	switch env.Type {
	case protocol.TypeMessage:
		var p protocol.OutboundMessage
		if err = env.Decode(&p); err == nil {
			if p.File != nil {
				err = ss.echoFile(p)
			} else {
				err = ss.handleText(ctx, p.Text)
			}
		}
	case protocol.TypeStartNewChat:
		err = ss.startNewChat()
	default:
		log.Printf("devserver: ignoring %q frame from %d", env.Type, ss.userID)
		return
	}
	if err != nil {
		log.Printf("devserver: handle %s from %d: %v", env.Type, ss.userID, err)
		ss.send(protocol.TypeError, protocol.ErrorPayload{Common: chatRef(ss.chatID), Message: msgServerError})
	}
}

// echoFile confirms a file message whose content already arrived through
// the upload endpoint.
func (ss *session) echoFile(p protocol.OutboundMessage) error {
	if ss.chatID == "" {
		return nil
	}
	last, err := ss.server.store.LastMessage(ss.chatID)
	if err != nil || last == nil || !last.HasMedia() {
		return err
	}
	w := wireMessage(*last)
	w.SenderID = protocol.ID(strconv.FormatInt(ss.userID, 10))
	w.Text = p.Text
	ss.send(protocol.TypeMessage, w)
	return nil
}

func (ss *session) handleText(ctx context.Context, text string) error {
	store := ss.server.store
	var chat *models.Chat
	var err error

	if ss.chatID == "" {
		if chat, err = store.LatestChat(ss.userID); err != nil {
			return err
		}
		switch {
		case chat == nil:
			if chat, err = store.CreateChat(ss.userID, ss.userName); err != nil {
				return err
			}
		case chat.IsClosed():
			if err := store.ResetToAIPending(chat.ID); err != nil {
				return err
			}
			chat.Status = models.ChatAIPending
		}
		ss.chatID = chat.ID
	} else {
		if chat, err = store.ChatByID(ss.chatID); err != nil {
			return err
		}
		if chat == nil || chat.IsClosed() {
			ss.send(protocol.TypeError, protocol.ErrorPayload{
				Common:            chatRef(ss.chatID),
				Message:           msgChatFinished,
				ShowNewChatButton: true,
			})
			ss.chatID = ""
			return nil
		}
	}

	userMsg := models.Message{ChatID: chat.ID, SenderID: strconv.FormatInt(ss.userID, 10), Text: text}
	if err := store.AddMessage(&userMsg); err != nil {
		return err
	}
	if chat.Status != models.ChatAIPending {
		log.Printf("devserver: chat %s is with an operator, not answering", chat.ID)
		return nil
	}

	reply, err := ss.server.respond(ctx, text)
	if err != nil || reply == "" {
		log.Printf("devserver: responder for chat %s: %v", chat.ID, err)
		ss.send(protocol.TypeError, protocol.ErrorPayload{
			Common:             chatRef(chat.ID),
			Message:            msgAIFailed,
			ShowOperatorButton: true,
		})
		return nil
	}
	aiMsg := models.Message{ChatID: chat.ID, SenderID: "ai", Text: reply}
	if err := store.AddMessage(&aiMsg); err != nil {
		return err
	}
	w := wireMessage(aiMsg)
	ss.send(protocol.TypeAIResponse, protocol.AIResponsePayload{WireMessage: w, ShowButtons: true})
	return nil
}

func (ss *session) startNewChat() error {
	store := ss.server.store
	chat, err := store.LatestChat(ss.userID)
	if err != nil {
		return err
	}
	if chat == nil {
		if chat, err = store.CreateChat(ss.userID, ss.userName); err != nil {
			return err
		}
	} else if err := store.ResetToAIPending(chat.ID); err != nil {
		return err
	}
	ss.chatID = chat.ID
	log.Printf("devserver: user %d started a new chat in %s", ss.userID, chat.ID)
	ss.send(protocol.TypeInit, protocol.InitPayload{
		Common:  chatRef(chat.ID),
		History: []protocol.WireMessage{},
		Status:  models.ChatAIPending,
	})
	return nil
}

// checkOrigin accepts any origin; the launch-data signature authenticates
// the user.
func checkOrigin(r *http.Request) bool { return true }
