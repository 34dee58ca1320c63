package view

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/zulandar/chatline/internal/protocol"
)

// Terminal renders the conversation as lines of text.
type Terminal struct {
	mu        sync.Mutex
	out       io.Writer
	pretty    bool
	mediaBase string
	controls  Controls
	hasCtl    bool
}

// TerminalOpts holds parameters for creating a Terminal.
type TerminalOpts struct {
	Out       io.Writer // defaults to os.Stdout
	Pretty    bool      // colour output
	MediaBase string    // prefixed to media paths, e.g. "http://localhost:8080"
}

// NewTerminal creates a Terminal renderer.
func NewTerminal(opts TerminalOpts) *Terminal {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Terminal{
		out:       out,
		pretty:    opts.Pretty,
		mediaBase: strings.TrimRight(opts.MediaBase, "/"),
	}
}

// Clear prints a separator; a terminal cannot take lines back.
func (t *Terminal) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, t.paint(color.HiBlackString, strings.Repeat("─", 40)))
}

// Render prints one chat message.
func (t *Terminal) Render(msg protocol.ChatMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sb strings.Builder
	ts := msg.SentAt.Format("15:04")
	label := msg.Sender.String()
	if msg.SenderID != "" {
		label += " (" + msg.SenderID + ")"
	}
	fmt.Fprintf(&sb, "%s %s: ", t.paint(color.HiBlackString, ts), t.senderLabel(msg.Sender, label))

	if msg.Media != nil {
		fmt.Fprintf(&sb, "[%s] %s", msg.Media.Type, t.mediaBase+protocol.MediaPath(*msg.Media))
		if msg.Media.Caption != "" {
			fmt.Fprintf(&sb, " %q", msg.Media.Caption)
		}
		if msg.Text != "" && msg.Media.Type != protocol.MediaDocument {
			sb.WriteString(" " + msg.Text)
		}
	} else {
		sb.WriteString(msg.Text)
	}
	fmt.Fprintln(t.out, sb.String())
}

// Notice prints a system notice.
func (t *Terminal) Notice(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s %s\n", t.paint(color.YellowString, "*"), text)
}

// SetControls prints the available actions when they change.
func (t *Terminal) SetControls(c Controls) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasCtl && c == t.controls {
		return
	}
	t.controls, t.hasCtl = c, true

	var actions []string
	if c.ActionButtonsVisible {
		if c.SatisfiedVisible {
			actions = append(actions, "/satisfied")
		}
		actions = append(actions, "/operator")
	}
	if c.NewConversationAvailable {
		actions = append(actions, "/new")
	}
	if c.InputEnabled && !c.NewConversationAvailable {
		actions = append(actions, "/file <path>")
	} else {
		actions = append(actions, "(input disabled)")
	}
	fmt.Fprintf(t.out, "%s %s\n", t.paint(color.CyanString, "actions:"), strings.Join(actions, " "))
}

// SetUploadLabel prints the new label.
func (t *Terminal) SetUploadLabel(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s %s\n", t.paint(color.HiBlackString, "upload:"), label)
}

func (t *Terminal) senderLabel(s protocol.Sender, label string) string {
	switch s {
	case protocol.SenderClient:
		return t.paint(color.GreenString, label)
	case protocol.SenderAI:
		return t.paint(color.MagentaString, label)
	case protocol.SenderManager:
		return t.paint(color.BlueString, label)
	default:
		return t.paint(color.YellowString, label)
	}
}

func (t *Terminal) paint(fn func(string, ...interface{}) string, s string) string {
	if !t.pretty {
		return s
	}
	return fn("%s", s)
}
