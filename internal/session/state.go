// Package session holds the client-side conversation state and the
// submission gate that serializes outbound sends.
package session

import (
	"time"

	"github.com/zulandar/chatline/internal/attachment"
	"github.com/zulandar/chatline/internal/protocol"
	"github.com/zulandar/chatline/internal/view"
)

// Fingerprint identifies the last message the local user sent.
type Fingerprint struct {
	Text   string
	UserID string
	SentAt time.Time
}

// PendingUpload is a file staged for the two-phase send.
type PendingUpload struct {
	File    attachment.File
	Message protocol.OutboundMessage
}

// State is the conversation state for one connected user. It is not safe
// for concurrent use; the owner serializes access.
type State struct {
	ConversationID string
	UserID         string
	UserName       string

	InputEnabled             bool
	ActionButtonsVisible     bool
	SatisfiedVisible         bool
	NewConversationAvailable bool

	LastSelf *Fingerprint
	Staged   *PendingUpload
}

// New creates the startup state for a resolved user: no conversation, input
// enabled, no actions shown.
func New(userID, userName string) *State {
	return &State{
		UserID:           userID,
		UserName:         userName,
		InputEnabled:     true,
		SatisfiedVisible: true,
	}
}

// HasConversation reports whether a conversation id is assigned.
func (s *State) HasConversation() bool {
	return s.ConversationID != ""
}

// AssignConversation overwrites the conversation id. Empty ids are ignored.
func (s *State) AssignConversation(id string) {
	if id != "" {
		s.ConversationID = id
	}
}

// ApplyInit resets affordances for a freshly initialized conversation.
func (s *State) ApplyInit(showButtons bool) {
	s.ActionButtonsVisible = showButtons
	s.SatisfiedVisible = true
	s.NewConversationAvailable = false
	s.InputEnabled = true
}

// ApplyAIButtons shows the full action group when show is set. A false
// value leaves the current visibility unchanged.
func (s *State) ApplyAIButtons(show bool) {
	if show {
		s.ActionButtonsVisible = true
		s.SatisfiedVisible = true
	}
}

// ApplyClosed ends the conversation.
func (s *State) ApplyClosed(showNewChat bool) {
	s.ActionButtonsVisible = false
	s.NewConversationAvailable = showNewChat
	s.InputEnabled = false
}

// ApplyErrorRecovery applies the recovery affordances of an error envelope.
// Only "request operator" becomes reachable; "satisfied" stays hidden.
func (s *State) ApplyErrorRecovery(showOperator, showNewChat bool) {
	if showOperator {
		s.ActionButtonsVisible = true
		s.SatisfiedVisible = false
	}
	if showNewChat {
		s.NewConversationAvailable = true
	}
}

// HideActions collapses the action button group.
func (s *State) HideActions() {
	s.ActionButtonsVisible = false
}

// StartNewConversation re-enables input after a new conversation request.
func (s *State) StartNewConversation() {
	s.NewConversationAvailable = false
	s.InputEnabled = true
}

// ChannelClosed disables every affordance after the live channel ends.
func (s *State) ChannelClosed() {
	s.InputEnabled = false
	s.ActionButtonsVisible = false
	s.NewConversationAvailable = false
}

// RecordSelfMessage stores the fingerprint of a locally sent message.
func (s *State) RecordSelfMessage(text string, at time.Time) {
	s.LastSelf = &Fingerprint{Text: text, UserID: s.UserID, SentAt: at}
}

// ClearSelfMessage drops the fingerprint.
func (s *State) ClearSelfMessage() {
	s.LastSelf = nil
}

// Stage holds a file for upload.
func (s *State) Stage(p PendingUpload) {
	s.Staged = &p
}

// ReleaseStaged drops any staged file.
func (s *State) ReleaseStaged() {
	s.Staged = nil
}

// StagedFileID returns the file id the backend assigns to the staged file,
// or "" when nothing is staged.
func (s *State) StagedFileID() string {
	if s.Staged == nil || s.ConversationID == "" {
		return ""
	}
	return s.ConversationID + "/" + s.Staged.File.Name
}

// IsEchoOfStaged reports whether media is the server echo of the client's
// own staged upload. A fingerprint must be present.
func (s *State) IsEchoOfStaged(media *protocol.Attachment) bool {
	if media == nil || s.LastSelf == nil {
		return false
	}
	id := s.StagedFileID()
	return id != "" && media.FileID == id
}

// Controls returns the affordance snapshot for the view.
func (s *State) Controls() view.Controls {
	return view.Controls{
		InputEnabled:             s.InputEnabled,
		ActionButtonsVisible:     s.ActionButtonsVisible,
		SatisfiedVisible:         s.ActionButtonsVisible && s.SatisfiedVisible,
		NewConversationAvailable: s.NewConversationAvailable,
	}
}
