package controller

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zulandar/chatline/internal/attachment"
	"github.com/zulandar/chatline/internal/backend"
	"github.com/zulandar/chatline/internal/identity"
	"github.com/zulandar/chatline/internal/protocol"
	"github.com/zulandar/chatline/internal/session"
	"github.com/zulandar/chatline/internal/view"
)

// SendFile runs the two-phase attachment send: the file goes to the upload
// endpoint first, then the message carrying its metadata goes over the
// channel. The submission gate is held across both phases; the controller
// mutex is released while the upload is in flight so inbound events keep
// flowing.
func (c *Controller) SendFile(ctx context.Context, f attachment.File, caption string) error {
	if !c.gate.TryAcquire() {
		log.Printf("controller: send in flight, ignoring file %s", f.Name)
		return nil
	}
	defer c.gate.Release()

	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		return fmt.Errorf("controller: send file: %w", identity.ErrIdentityUnavailable)
	}
	if err := c.validator.Validate(f); err != nil {
		c.rejectFile(err)
		c.mu.Unlock()
		return fmt.Errorf("controller: send file: %w", err)
	}
	c.view.SetUploadLabel(view.UploadLabelFor(f.Name))

	if err := c.requireOpen("send file"); err != nil {
		c.view.SetUploadLabel(view.UploadLabelIdle)
		c.mu.Unlock()
		return err
	}
	if !c.state.InputEnabled {
		c.view.SetUploadLabel(view.UploadLabelIdle)
		c.mu.Unlock()
		return nil
	}
	if !c.state.HasConversation() {
		c.view.Notice(NoticeNoConversation)
		c.view.SetUploadLabel(view.UploadLabelIdle)
		c.mu.Unlock()
		return fmt.Errorf("controller: send file: %w", ErrNoActiveConversation)
	}

	msg := protocol.OutboundMessage{
		Text: caption,
		File: &protocol.FileInfo{Name: f.Name, Type: f.MIMEType, Size: f.Size},
	}
	// The upload carries the message before the conversation is stamped.
	unstamped, err := protocol.Marshal(protocol.TypeMessage, msg)
	if err != nil {
		c.view.SetUploadLabel(view.UploadLabelIdle)
		c.mu.Unlock()
		return fmt.Errorf("controller: send file: %w", err)
	}
	c.state.Stage(session.PendingUpload{File: f, Message: msg})
	c.state.RecordSelfMessage(caption, c.now())
	req := backend.UploadRequest{
		ConversationID: c.state.ConversationID,
		SenderID:       c.state.UserID,
		Message:        unstamped,
		File:           f,
	}
	c.mu.Unlock()

	log.Printf("controller: uploading %s (%d bytes) to conversation %s", f.Name, f.Size, req.ConversationID)
	_, uploadErr := c.backend.Upload(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if uploadErr != nil {
		c.failUpload(uploadErr)
		return fmt.Errorf("controller: upload %s: %w", f.Name, uploadErr)
	}

	msg.StampConversation(c.state.ConversationID)
	frame, err := protocol.Marshal(protocol.TypeMessage, msg)
	if err == nil {
		err = c.conn.Publish(frame)
	}
	if err != nil {
		c.failUpload(err)
		return fmt.Errorf("controller: publish %s: %w", f.Name, err)
	}

	c.state.ReleaseStaged()
	c.state.HideActions()
	c.view.SetUploadLabel(view.UploadLabelIdle)
	c.view.SetControls(c.state.Controls())
	return nil
}

// rejectFile reports a validation failure. Callers hold c.mu.
func (c *Controller) rejectFile(err error) {
	switch {
	case errors.Is(err, attachment.ErrTooLarge):
		c.view.Notice(NoticeTooLarge)
	case errors.Is(err, attachment.ErrUnsupportedType):
		c.view.Notice(NoticeUnsupportedType)
	default:
		c.view.Notice("File upload error: " + err.Error())
	}
	c.view.SetUploadLabel(view.UploadLabelIdle)
}

// failUpload reports a failed upload and drops the staged file. Callers
// hold c.mu.
func (c *Controller) failUpload(err error) {
	log.Printf("controller: %v", err)
	var ue *backend.UploadError
	detail := err.Error()
	if errors.As(err, &ue) {
		detail = ue.Error()
	}
	c.view.Notice("File upload error: " + detail)
	c.state.ReleaseStaged()
	c.state.ClearSelfMessage()
	c.view.SetUploadLabel(view.UploadLabelIdle)
}
