package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/zulandar/chatline/internal/attachment"
)

// --- Test helpers ---

type fakeChat struct {
	mu    sync.Mutex
	calls []string
	files []attachment.File
	err   error
}

func (f *fakeChat) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeChat) SendText(text string) error { return f.record("text:" + text) }

func (f *fakeChat) SendFile(ctx context.Context, file attachment.File, caption string) error {
	f.mu.Lock()
	f.files = append(f.files, file)
	f.mu.Unlock()
	return f.record("file:" + file.Name + ":" + caption)
}

func (f *fakeChat) Satisfied(ctx context.Context) error       { return f.record("satisfied") }
func (f *fakeChat) RequestOperator(ctx context.Context) error { return f.record("operator") }
func (f *fakeChat) StartNewChat() error                       { return f.record("new") }

func (f *fakeChat) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// --- runLine tests ---

func TestRunLine_Commands(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"hello there", "text:hello there"},
		{"  padded  ", "text:padded"},
		{"/satisfied", "satisfied"},
		{"/operator", "operator"},
		{"/new", "new"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			fc := &fakeChat{}
			if quit := runLine(context.Background(), fc, tt.line, new(bytes.Buffer)); quit {
				t.Error("unexpected quit")
			}
			calls := fc.Calls()
			if len(calls) != 1 || calls[0] != tt.want {
				t.Errorf("calls = %v, want [%s]", calls, tt.want)
			}
		})
	}
}

func TestRunLine_EmptyAndQuit(t *testing.T) {
	fc := &fakeChat{}
	out := new(bytes.Buffer)
	if runLine(context.Background(), fc, "   ", out) {
		t.Error("blank line should not quit")
	}
	if !runLine(context.Background(), fc, "/quit", out) {
		t.Error("/quit should quit")
	}
	if !runLine(context.Background(), fc, "/exit", out) {
		t.Error("/exit should quit")
	}
	if n := len(fc.Calls()); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
}

func TestRunLine_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("plain text notes\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fc := &fakeChat{}
	runLine(context.Background(), fc, "/file "+path+"  for review", new(bytes.Buffer))

	calls := fc.Calls()
	if len(calls) != 1 || calls[0] != "file:notes.txt:for review" {
		t.Fatalf("calls = %v", calls)
	}
	if fc.files[0].MIMEType != "text/plain" || fc.files[0].Size != 17 {
		t.Errorf("file = %+v", fc.files[0])
	}
}

func TestRunLine_FileErrors(t *testing.T) {
	fc := &fakeChat{}
	out := new(bytes.Buffer)
	runLine(context.Background(), fc, "/file", out)
	if !strings.Contains(out.String(), "usage: /file") {
		t.Errorf("output = %q, want usage", out.String())
	}
	out.Reset()
	runLine(context.Background(), fc, "/file /nonexistent/x.pdf", out)
	if !strings.Contains(out.String(), "Cannot read /nonexistent/x.pdf") {
		t.Errorf("output = %q, want read error", out.String())
	}
	if n := len(fc.Calls()); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
}

func TestRunLine_UnknownAndHelp(t *testing.T) {
	fc := &fakeChat{}
	out := new(bytes.Buffer)
	runLine(context.Background(), fc, "/dance", out)
	if !strings.Contains(out.String(), "Unknown command /dance") {
		t.Errorf("output = %q", out.String())
	}
	out.Reset()
	runLine(context.Background(), fc, "/help", out)
	if !strings.Contains(out.String(), "/satisfied") {
		t.Errorf("help output = %q", out.String())
	}
}

func TestRunLine_ErrorsDoNotQuit(t *testing.T) {
	fc := &fakeChat{err: errors.New("boom")}
	if runLine(context.Background(), fc, "hi", new(bytes.Buffer)) {
		t.Error("a failed send should not quit")
	}
}

// --- inputLoop tests ---

func TestInputLoop_StopsAtQuit(t *testing.T) {
	fc := &fakeChat{}
	in := strings.NewReader("first\n/new\n/quit\nnever sent\n")
	out := new(bytes.Buffer)
	inputLoop(context.Background(), fc, in, out, true)

	calls := fc.Calls()
	if len(calls) != 2 || calls[0] != "text:first" || calls[1] != "new" {
		t.Errorf("calls = %v", calls)
	}
	if got := strings.Count(out.String(), "> "); got != 3 {
		t.Errorf("prompts = %d, want 3", got)
	}
}

func TestInputLoop_EOFWithoutPrompt(t *testing.T) {
	fc := &fakeChat{}
	out := new(bytes.Buffer)
	inputLoop(context.Background(), fc, strings.NewReader("a\nb"), out, false)
	if n := len(fc.Calls()); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
	if out.Len() != 0 {
		t.Errorf("output = %q, want none", out.String())
	}
}

func TestInputLoop_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fc := &fakeChat{}
	inputLoop(ctx, fc, strings.NewReader("hello\n"), new(bytes.Buffer), false)
	if n := len(fc.Calls()); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
}

// --- Command tests ---

func TestConnectCmd_Help(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"connect", "--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("connect --help failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"--launch-data", "--base-url", "/file <path>"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected help to mention %q, got: %s", want, out)
		}
	}
}

func TestConnectCmd_MissingConfig(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"connect", "--config", "/nonexistent/chatline.yaml"})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %v, want load config error", err)
	}
}

func TestConnectCmd_NoIdentity(t *testing.T) {
	path := writeConfig(t, "server:\n  base_url: http://127.0.0.1:1\n")
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"connect", "--config", path, "--launch-data", "auth_date=1"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error without a user in the launch data")
	}
	if !strings.Contains(buf.String(), "Telegram") {
		t.Errorf("output = %q, want the identity notice", buf.String())
	}
}
