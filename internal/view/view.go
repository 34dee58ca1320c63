// Package view defines the render boundary between the chat controller and
// whatever presents the conversation to the user.
package view

import (
	"sync"

	"github.com/zulandar/chatline/internal/protocol"
)

// Upload-control labels.
const (
	UploadLabelIdle = "Attach file"
)

// UploadLabelFor returns the upload-control label shown while name is staged.
func UploadLabelFor(name string) string {
	return "File: " + name
}

// Controls is the visibility snapshot of the interactive affordances.
type Controls struct {
	InputEnabled             bool
	ActionButtonsVisible     bool
	SatisfiedVisible         bool // only meaningful while ActionButtonsVisible
	NewConversationAvailable bool // the input form is hidden while this is set
}

// OperatorVisible reports whether the "request operator" action is reachable.
func (c Controls) OperatorVisible() bool {
	return c.ActionButtonsVisible
}

// View receives render instructions. Implementations must be safe to call
// from the controller goroutine; the controller never calls them
// concurrently.
type View interface {
	// Clear removes every rendered message.
	Clear()
	// Render appends a chat message.
	Render(msg protocol.ChatMessage)
	// Notice appends a system notice.
	Notice(text string)
	// SetControls updates affordance visibility.
	SetControls(c Controls)
	// SetUploadLabel updates the upload-control label.
	SetUploadLabel(label string)
}

// Instruction is one recorded render call.
type Instruction struct {
	Op       string // "clear", "render", "notice", "controls", "label"
	Message  protocol.ChatMessage
	Text     string
	Controls Controls
}

// Recorder implements View by recording every instruction. Used in tests.
type Recorder struct {
	mu  sync.Mutex
	ops []Instruction
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(in Instruction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, in)
}

// Clear records a clear instruction.
func (r *Recorder) Clear() { r.add(Instruction{Op: "clear"}) }

// Render records a rendered message.
func (r *Recorder) Render(msg protocol.ChatMessage) { r.add(Instruction{Op: "render", Message: msg}) }

// Notice records a system notice.
func (r *Recorder) Notice(text string) { r.add(Instruction{Op: "notice", Text: text}) }

// SetControls records a controls snapshot.
func (r *Recorder) SetControls(c Controls) { r.add(Instruction{Op: "controls", Controls: c}) }

// SetUploadLabel records a label change.
func (r *Recorder) SetUploadLabel(label string) { r.add(Instruction{Op: "label", Text: label}) }

// --- Test helpers ---

// All returns a copy of every recorded instruction.
func (r *Recorder) All() []Instruction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Instruction, len(r.ops))
	copy(out, r.ops)
	return out
}

// Rendered returns the messages rendered since the last Clear.
func (r *Recorder) Rendered() []protocol.ChatMessage {
	var out []protocol.ChatMessage
	for _, in := range r.All() {
		switch in.Op {
		case "clear":
			out = nil
		case "render":
			out = append(out, in.Message)
		}
	}
	return out
}

// Notices returns every recorded notice text in order.
func (r *Recorder) Notices() []string {
	var out []string
	for _, in := range r.All() {
		if in.Op == "notice" {
			out = append(out, in.Text)
		}
	}
	return out
}

// LastControls returns the most recent controls snapshot.
func (r *Recorder) LastControls() (Controls, bool) {
	ops := r.All()
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].Op == "controls" {
			return ops[i].Controls, true
		}
	}
	return Controls{}, false
}

// LastLabel returns the most recent upload label, or "" when none was set.
func (r *Recorder) LastLabel() string {
	ops := r.All()
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].Op == "label" {
			return ops[i].Text
		}
	}
	return ""
}

// Reset discards recorded instructions.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}
