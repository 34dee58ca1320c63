package devserver

import (
	"errors"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/zulandar/chatline/internal/attachment"
	"github.com/zulandar/chatline/internal/models"
	"github.com/zulandar/chatline/internal/protocol"
)

// detail answers with a FastAPI-style error body.
func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

// loadChat fetches the :id chat or answers 404.
func (s *Server) loadChat(c *gin.Context) (*models.Chat, bool) {
	chat, err := s.store.ChatByID(c.Param("id"))
	if err != nil {
		log.Printf("devserver: %v", err)
		detail(c, http.StatusInternalServerError, "Failed to load chat")
		return nil, false
	}
	if chat == nil {
		detail(c, http.StatusNotFound, "Chat not found")
		return nil, false
	}
	return chat, true
}

func (s *Server) notify(userID int64, t protocol.Type, payload any) {
	if err := s.hub.Send(userID, t, payload); err != nil {
		log.Printf("devserver: %v", err)
	}
}

// mediaTypeFor maps a MIME type to the attachment kind shown in chats.
func mediaTypeFor(mimeType string) protocol.MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return protocol.MediaPhoto
	case strings.HasPrefix(mimeType, "video/"):
		return protocol.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return protocol.MediaVoice
	default:
		return protocol.MediaDocument
	}
}

// safeSegment reports whether s can be used as one path element.
func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

func (s *Server) handleUpload(c *gin.Context) {
	chatID := c.Query("chat_id")
	message := c.Query("message")
	senderID := c.Query("sender_id")
	switch {
	case !safeSegment(chatID):
		detail(c, http.StatusBadRequest, "chat_id is required")
		return
	case message == "":
		detail(c, http.StatusBadRequest, "message is required")
		return
	case senderID == "":
		detail(c, http.StatusBadRequest, "sender_id is required")
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		detail(c, http.StatusBadRequest, "file is required")
		return
	}
	name := filepath.Base(fh.Filename)
	if !safeSegment(name) {
		detail(c, http.StatusBadRequest, "invalid file name")
		return
	}
	mimeType := attachment.BaseType(fh.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		if f, err := fh.Open(); err == nil {
			if m, err := mimetype.DetectReader(f); err == nil {
				mimeType = attachment.BaseType(m.String())
			}
			f.Close()
		}
	}
	err = s.validator.Validate(attachment.File{Name: name, Size: fh.Size, MIMEType: mimeType})
	switch {
	case errors.Is(err, attachment.ErrTooLarge):
		detail(c, http.StatusBadRequest, "File size exceeds 250MB")
		return
	case errors.Is(err, attachment.ErrUnsupportedType):
		detail(c, http.StatusBadRequest, "Unsupported file type")
		return
	case err != nil:
		detail(c, http.StatusBadRequest, err.Error())
		return
	}

	var text string
	if env, err := protocol.ParseEnvelope([]byte(message)); err == nil {
		var p protocol.OutboundMessage
		if env.Decode(&p) == nil {
			text = p.Text
		}
	}

	fileID := chatID + "/" + name
	dst := filepath.Join(s.mediaDir, chatID, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		log.Printf("devserver: media dir: %v", err)
		detail(c, http.StatusInternalServerError, "Failed to store file")
		return
	}
	if err := c.SaveUploadedFile(fh, dst); err != nil {
		log.Printf("devserver: save %s: %v", fileID, err)
		detail(c, http.StatusInternalServerError, "Failed to store file")
		return
	}

	msg := models.Message{
		ChatID:        chatID,
		SenderID:      senderID,
		Text:          text,
		MediaType:     string(mediaTypeFor(mimeType)),
		MediaFileID:   fileID,
		MediaMIMEType: mimeType,
		MediaFileSize: fh.Size,
	}
	if err := s.store.AddMessage(&msg); err != nil {
		log.Printf("devserver: %v", err)
		detail(c, http.StatusInternalServerError, "Failed to store message")
		return
	}
	log.Printf("devserver: stored %s (%s, %d bytes)", fileID, mimeType, fh.Size)
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"file_url":   "/api/media/" + fileID,
		"file_path":  fileID,
		"message_id": msg.ID,
	})
}

func (s *Server) handleFeedback(c *gin.Context) {
	var body struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Action != "satisfied" {
		detail(c, http.StatusBadRequest, "Invalid action")
		return
	}
	chat, ok := s.loadChat(c)
	if !ok {
		return
	}
	if chat.IsClosed() {
		c.JSON(http.StatusOK, gin.H{"message": "Chat already closed"})
		return
	}
	if err := s.store.Close(chat.ID); err != nil {
		log.Printf("devserver: %v", err)
		detail(c, http.StatusInternalServerError, "Failed to close chat")
		return
	}
	s.notify(chat.UserID, protocol.TypeStatusUpdate, protocol.StatusUpdatePayload{
		Common:            chatRef(chat.ID),
		Status:            protocol.StatusClosed,
		Message:           "Thanks for the feedback!",
		ShowNewChatButton: true,
	})
	c.JSON(http.StatusOK, gin.H{"message": "Chat closed successfully"})
}

func (s *Server) handleRequestManager(c *gin.Context) {
	chat, ok := s.loadChat(c)
	if !ok {
		return
	}
	if chat.IsClosed() {
		if err := s.store.Reopen(chat.ID); err != nil {
			log.Printf("devserver: %v", err)
			detail(c, http.StatusInternalServerError, "Failed to reopen chat")
			return
		}
	}
	if err := s.store.RequestManager(chat.ID); err != nil {
		log.Printf("devserver: %v", err)
		detail(c, http.StatusInternalServerError, "Failed to update chat status")
		return
	}
	log.Printf("devserver: operator requested for chat %s", chat.ID)
	s.notify(chat.UserID, protocol.TypeStatusUpdate, protocol.StatusUpdatePayload{
		Common:  chatRef(chat.ID),
		Message: "Request sent to the operator. Please wait.",
	})
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Operator request sent"})
}

func (s *Server) handleTake(c *gin.Context) {
	managerID, err := strconv.ParseInt(c.Query("manager_id"), 10, 64)
	if err != nil {
		detail(c, http.StatusBadRequest, "manager_id is required")
		return
	}
	chat, ok := s.loadChat(c)
	if !ok {
		return
	}
	switch {
	case chat.IsClosed():
		detail(c, http.StatusBadRequest, "Chat is already closed")
		return
	case !chat.ManagerRequested:
		detail(c, http.StatusBadRequest, "No operator was requested for this chat")
		return
	case chat.ManagerID != nil:
		detail(c, http.StatusBadRequest, "Chat already taken by another operator")
		return
	}
	if err := s.store.AssignManager(chat.ID, managerID); err != nil {
		log.Printf("devserver: %v", err)
		detail(c, http.StatusInternalServerError, "Failed to update chat status")
		return
	}
	s.notify(chat.UserID, protocol.TypeStatusUpdate, protocol.StatusUpdatePayload{
		Common:  chatRef(chat.ID),
		Message: "Operator joined the chat",
	})
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Chat taken"})
}

// handleReply posts an operator message into a chat.
func (s *Server) handleReply(c *gin.Context) {
	var body struct {
		ManagerID int64  `json:"manager_id" binding:"required"`
		Text      string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		detail(c, http.StatusBadRequest, "manager_id and text are required")
		return
	}
	chat, ok := s.loadChat(c)
	if !ok {
		return
	}
	if chat.IsClosed() {
		detail(c, http.StatusBadRequest, "Chat is already closed")
		return
	}
	msg := models.Message{ChatID: chat.ID, SenderID: strconv.FormatInt(body.ManagerID, 10), Text: body.Text}
	if err := s.store.AddMessage(&msg); err != nil {
		log.Printf("devserver: %v", err)
		detail(c, http.StatusInternalServerError, "Failed to store message")
		return
	}
	s.notify(chat.UserID, protocol.TypeMessage, wireMessage(msg))
	c.JSON(http.StatusOK, gin.H{"status": "success", "message_id": msg.ID})
}

// handleClose ends a chat on the operator side.
func (s *Server) handleClose(c *gin.Context) {
	chat, ok := s.loadChat(c)
	if !ok {
		return
	}
	if chat.IsClosed() {
		c.JSON(http.StatusOK, gin.H{"message": "Chat already closed"})
		return
	}
	if err := s.store.Close(chat.ID); err != nil {
		log.Printf("devserver: %v", err)
		detail(c, http.StatusInternalServerError, "Failed to close chat")
		return
	}
	s.notify(chat.UserID, protocol.TypeStatusUpdate, protocol.StatusUpdatePayload{
		Common:            chatRef(chat.ID),
		Status:            protocol.StatusClosed,
		Message:           "Chat closed by the operator.",
		ShowNewChatButton: true,
	})
	c.JSON(http.StatusOK, gin.H{"message": "Chat closed successfully"})
}

// handleMedia serves stored attachments. A request whose extension was
// guessed by the client falls back to the bare file id.
func (s *Server) handleMedia(c *gin.Context) {
	rel := strings.TrimPrefix(path.Clean("/"+c.Param("path")), "/")
	fs := http.Dir(s.mediaDir)
	for _, candidate := range []string{rel, strings.TrimSuffix(rel, path.Ext(rel))} {
		if candidate == "" {
			continue
		}
		f, err := fs.Open(candidate)
		if err != nil {
			continue
		}
		info, err := f.Stat()
		f.Close()
		if err != nil || info.IsDir() {
			continue
		}
		c.FileFromFS(candidate, fs)
		return
	}
	detail(c, http.StatusNotFound, "File not found")
}
