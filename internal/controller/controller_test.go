package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/zulandar/chatline/internal/attachment"
	"github.com/zulandar/chatline/internal/backend"
	"github.com/zulandar/chatline/internal/identity"
	"github.com/zulandar/chatline/internal/protocol"
	"github.com/zulandar/chatline/internal/transport"
	"github.com/zulandar/chatline/internal/view"
)

// --- Test helpers ---

type fakeBackend struct {
	mu        sync.Mutex
	uploads   []backend.UploadRequest
	feedbacks []string
	managers  []string

	uploadErr   error
	feedbackErr error
	managerErr  error

	// When block is non-nil, Upload signals started and waits on block.
	started chan struct{}
	block   chan struct{}
}

func (b *fakeBackend) Upload(ctx context.Context, req backend.UploadRequest) (*backend.UploadResult, error) {
	b.mu.Lock()
	b.uploads = append(b.uploads, req)
	block, started, err := b.block, b.started, b.uploadErr
	b.mu.Unlock()
	if block != nil {
		started <- struct{}{}
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &backend.UploadResult{Success: true, FilePath: req.ConversationID + "/" + req.File.Name}, nil
}

func (b *fakeBackend) Feedback(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.feedbacks = append(b.feedbacks, id)
	return b.feedbackErr
}

func (b *fakeBackend) RequestManager(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.managers = append(b.managers, id)
	return b.managerErr
}

func (b *fakeBackend) uploadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.uploads)
}

type harness struct {
	c    *Controller
	m    *transport.Manager
	d    *transport.MockDialer
	sock *transport.MockSocket
	be   *fakeBackend
	rec  *view.Recorder
}

func launchData(t *testing.T) string {
	t.Helper()
	data, err := identity.NewLaunchData(models.User{ID: 777, FirstName: "Ann", Username: "ann"}, 1700000000, "test-token")
	if err != nil {
		t.Fatalf("NewLaunchData: %v", err)
	}
	return data
}

func newHarness(t *testing.T, data string) *harness {
	t.Helper()
	d := transport.NewMockDialer()
	m, err := transport.New(transport.Opts{BaseURL: "http://backend.test", Dialer: d})
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}
	be := &fakeBackend{}
	rec := view.NewRecorder()
	c, err := New(Opts{LaunchData: data, Conn: m, Backend: be, View: rec})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return &harness{c: c, m: m, d: d, be: be, rec: rec}
}

// started returns a harness that is connected and has processed the open
// event.
func started(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, launchData(t))
	if err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sock, ok := h.d.LastSocket()
	if !ok {
		t.Fatal("expected a dialed socket")
	}
	h.sock = sock
	h.pump(t)
	return h
}

// pump applies the next channel event.
func (h *harness) pump(t *testing.T) transport.Event {
	t.Helper()
	select {
	case ev, ok := <-h.m.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		h.c.HandleEvent(ev)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return transport.Event{}
}

// inbound injects a frame and applies it.
func (h *harness) inbound(t *testing.T, frame string) {
	t.Helper()
	h.sock.SimulateFrame(frame)
	h.pump(t)
}

func memFile(name, mimeType string, size int64) attachment.File {
	return attachment.File{
		Name:     name,
		Size:     size,
		MIMEType: mimeType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("data")), nil
		},
	}
}

func hasNotice(rec *view.Recorder, prefix string) bool {
	for _, n := range rec.Notices() {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

const init42 = `{"type":"init","payload":{"chat_id":"42","status":"ai_pending","history":[]}}`

func TestNew_Validation(t *testing.T) {
	m, _ := transport.New(transport.Opts{BaseURL: "http://x", Dialer: transport.NewMockDialer()})
	if _, err := New(Opts{Backend: &fakeBackend{}, View: view.NewRecorder()}); err == nil {
		t.Error("expected error for missing conn")
	}
	if _, err := New(Opts{Conn: m, View: view.NewRecorder()}); err == nil {
		t.Error("expected error for missing backend")
	}
	if _, err := New(Opts{Conn: m, Backend: &fakeBackend{}}); err == nil {
		t.Error("expected error for missing view")
	}
}

// --- Start tests ---

func TestStart_IdentityUnavailable(t *testing.T) {
	h := newHarness(t, "auth_date=1&hash=abc")
	err := h.c.Start(context.Background())
	if !errors.Is(err, identity.ErrIdentityUnavailable) {
		t.Fatalf("err = %v, want ErrIdentityUnavailable", err)
	}
	notices := h.rec.Notices()
	if len(notices) != 1 || notices[0] != NoticeIdentityUnavailable {
		t.Errorf("Notices = %v, want one identity notice", notices)
	}
	if n := len(h.d.URLs()); n != 0 {
		t.Errorf("dial count = %d, want 0", n)
	}
	if err := h.c.SendText("hi"); !errors.Is(err, identity.ErrIdentityUnavailable) {
		t.Errorf("SendText err = %v, want ErrIdentityUnavailable", err)
	}
}

func TestStart_Connects(t *testing.T) {
	h := started(t)
	urls := h.d.URLs()
	if len(urls) != 1 || !strings.HasPrefix(urls[0], "ws://backend.test/ws?initData=") {
		t.Errorf("URLs = %v", urls)
	}
	if !hasNotice(h.rec, NoticeConnected) {
		t.Errorf("Notices = %v, want connected notice", h.rec.Notices())
	}
	if h.rec.LastLabel() != view.UploadLabelIdle {
		t.Errorf("label = %q, want %q", h.rec.LastLabel(), view.UploadLabelIdle)
	}
}

// --- SendText tests ---

func TestSendText_Hello(t *testing.T) {
	h := started(t)
	h.inbound(t, init42)

	if err := h.c.SendText("hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	got, ok := h.sock.LastSent()
	if !ok {
		t.Fatal("nothing published")
	}
	want := `{"type":"message","payload":{"text":"hello","file":null,"chat_id":"42"}}`
	if got != want {
		t.Errorf("frame = %s, want %s", got, want)
	}

	rendered := h.rec.Rendered()
	if len(rendered) != 1 {
		t.Fatalf("rendered %d messages, want 1", len(rendered))
	}
	if m := rendered[0]; m.Sender != protocol.SenderClient || m.Text != "hello" || m.SenderID != "777" {
		t.Errorf("rendered = %+v, want own message", m)
	}

	h.c.mu.Lock()
	last := h.c.state.LastSelf
	h.c.mu.Unlock()
	if last == nil || last.Text != "hello" || last.UserID != "777" {
		t.Errorf("LastSelf = %+v", last)
	}
	if c := h.c.Controls(); c.ActionButtonsVisible {
		t.Error("expected action buttons hidden after send")
	}
}

func TestSendText_WithoutConversation(t *testing.T) {
	h := started(t)
	if err := h.c.SendText("first"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	got, _ := h.sock.LastSent()
	if got != `{"type":"message","payload":{"text":"first","file":null}}` {
		t.Errorf("frame = %s", got)
	}
}

func TestSendText_IgnoredWhenEmptyOrDisabled(t *testing.T) {
	h := started(t)
	if err := h.c.SendText(""); err != nil {
		t.Errorf("SendText(empty) = %v", err)
	}
	h.inbound(t, `{"type":"status_update","payload":{"chat_id":"42","status":"closed","message":"bye","show_new_chat_button":true}}`)
	if err := h.c.SendText("late"); err != nil {
		t.Errorf("SendText(disabled) = %v", err)
	}
	if n := len(h.sock.Sent()); n != 0 {
		t.Errorf("sent %d frames, want 0", n)
	}
}

func TestSendText_NotConnected(t *testing.T) {
	h := newHarness(t, launchData(t))
	h.d.FailNext(errors.New("refused"))
	if err := h.c.Start(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	err := h.c.SendText("hi")
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if !hasNotice(h.rec, NoticeNotConnected) {
		t.Errorf("Notices = %v", h.rec.Notices())
	}
}

// --- SendFile tests ---

func TestSendFile_TwoPhase(t *testing.T) {
	h := started(t)
	h.inbound(t, init42)

	if err := h.c.SendFile(context.Background(), memFile("scan.pdf", "application/pdf", 4), "see attached"); err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	if len(h.be.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(h.be.uploads))
	}
	req := h.be.uploads[0]
	if req.ConversationID != "42" || req.SenderID != "777" {
		t.Errorf("upload = %+v", req)
	}
	if strings.Contains(string(req.Message), "chat_id") {
		t.Errorf("upload message %s must not carry chat_id", req.Message)
	}

	frame, _ := h.sock.LastSent()
	var env struct {
		Type    string                  `json:"type"`
		Payload protocol.OutboundMessage `json:"payload"`
	}
	if err := json.Unmarshal([]byte(frame), &env); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	p := env.Payload
	if env.Type != "message" || p.ChatID == nil || *p.ChatID != "42" || p.File == nil || p.File.Name != "scan.pdf" || p.Text != "see attached" {
		t.Errorf("frame = %s", frame)
	}

	if n := len(h.rec.Rendered()); n != 0 {
		t.Errorf("rendered %d messages before echo, want 0", n)
	}
	if h.rec.LastLabel() != view.UploadLabelIdle {
		t.Errorf("label = %q, want idle", h.rec.LastLabel())
	}
	if h.c.Busy() {
		t.Error("gate still held")
	}

	h.inbound(t, `{"type":"message","payload":{"chat_id":"42","sender_id":"777","text":"see attached",
		"media":{"type":"document","file_id":"42/scan.pdf","mime_type":"application/pdf"}}}`)
	rendered := h.rec.Rendered()
	if len(rendered) != 1 || rendered[0].Media == nil || rendered[0].Sender != protocol.SenderClient {
		t.Errorf("Rendered = %+v, want the echoed attachment", rendered)
	}
}

func TestSendFile_SuppressesEchoDuringUpload(t *testing.T) {
	h := started(t)
	h.inbound(t, init42)
	h.be.block = make(chan struct{})
	h.be.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		done <- h.c.SendFile(context.Background(), memFile("a.png", "image/png", 10), "")
	}()
	<-h.be.started

	h.inbound(t, `{"type":"message","payload":{"chat_id":"42","sender_id":"777","media":{"type":"photo","file_id":"42/a.png"}}}`)
	if n := len(h.rec.Rendered()); n != 0 {
		t.Errorf("rendered %d, want echo suppressed", n)
	}

	close(h.be.block)
	if err := <-done; err != nil {
		t.Fatalf("SendFile: %v", err)
	}
}

func TestSendFile_Validation(t *testing.T) {
	tests := []struct {
		name   string
		file   attachment.File
		want   error
		notice string
	}{
		{"too large", memFile("big.mp4", "video/mp4", attachment.MaxSize+1), attachment.ErrTooLarge, NoticeTooLarge},
		{"unsupported", memFile("run.exe", "application/x-msdownload", 10), attachment.ErrUnsupportedType, NoticeUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := started(t)
			h.inbound(t, init42)
			err := h.c.SendFile(context.Background(), tt.file, "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !hasNotice(h.rec, tt.notice) {
				t.Errorf("Notices = %v, want %q", h.rec.Notices(), tt.notice)
			}
			if h.be.uploadCount() != 0 {
				t.Error("upload must not be attempted")
			}
			if h.rec.LastLabel() != view.UploadLabelIdle {
				t.Errorf("label = %q, want idle", h.rec.LastLabel())
			}
		})
	}
}

func TestSendFile_NoConversation(t *testing.T) {
	h := started(t)
	err := h.c.SendFile(context.Background(), memFile("a.pdf", "application/pdf", 3), "")
	if !errors.Is(err, ErrNoActiveConversation) {
		t.Fatalf("err = %v, want ErrNoActiveConversation", err)
	}
	if !hasNotice(h.rec, NoticeNoConversation) {
		t.Errorf("Notices = %v", h.rec.Notices())
	}
	if h.be.uploadCount() != 0 || len(h.sock.Sent()) != 0 {
		t.Error("nothing may be sent without a conversation")
	}
}

func TestSendFile_UploadFails(t *testing.T) {
	h := started(t)
	h.inbound(t, init42)
	h.be.uploadErr = &backend.UploadError{Status: 400, Detail: "Unsupported file type"}

	err := h.c.SendFile(context.Background(), memFile("a.pdf", "application/pdf", 3), "")
	if !errors.Is(err, backend.ErrUploadRejected) {
		t.Fatalf("err = %v, want ErrUploadRejected", err)
	}
	if !hasNotice(h.rec, "File upload error: server error: 400 Unsupported file type") {
		t.Errorf("Notices = %v", h.rec.Notices())
	}
	if n := len(h.sock.Sent()); n != 0 {
		t.Errorf("sent %d frames, want 0", n)
	}
	h.c.mu.Lock()
	staged, last := h.c.state.Staged, h.c.state.LastSelf
	h.c.mu.Unlock()
	if staged != nil || last != nil {
		t.Error("expected staged file and fingerprint released")
	}
	if h.c.Busy() {
		t.Error("gate still held")
	}
}

// --- Gate tests ---

func TestGate_SingleFlightAcrossUpload(t *testing.T) {
	h := started(t)
	h.inbound(t, init42)
	h.be.block = make(chan struct{})
	h.be.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		done <- h.c.SendFile(context.Background(), memFile("a.pdf", "application/pdf", 3), "")
	}()
	<-h.be.started

	if !h.c.Busy() {
		t.Error("expected gate held during upload")
	}
	if err := h.c.SendText("while busy"); err != nil {
		t.Errorf("SendText = %v, want silent no-op", err)
	}
	if err := h.c.SendFile(context.Background(), memFile("b.pdf", "application/pdf", 3), ""); err != nil {
		t.Errorf("SendFile = %v, want silent no-op", err)
	}
	if n := len(h.sock.Sent()); n != 0 {
		t.Errorf("sent %d frames while busy, want 0", n)
	}

	// Inbound traffic still flows while the upload is in flight.
	h.inbound(t, `{"type":"message","payload":{"chat_id":"42","sender_id":"555","text":"operator here"}}`)
	if n := len(h.rec.Rendered()); n != 1 {
		t.Errorf("rendered %d, want 1", n)
	}

	close(h.be.block)
	if err := <-done; err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	if h.be.uploadCount() != 1 {
		t.Errorf("uploads = %d, want 1", h.be.uploadCount())
	}

	if err := h.c.SendText("after"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if n := len(h.sock.Sent()); n != 2 {
		t.Errorf("sent %d frames, want 2", n)
	}
}

// --- Channel lifecycle tests ---

func TestAbnormalClose(t *testing.T) {
	h := started(t)
	h.inbound(t, init42)

	h.sock.SimulateClose(transport.CloseAbnormal, "")
	ev := h.pump(t)
	if ev.Kind != transport.EventClose || ev.Code != transport.CloseAbnormal {
		t.Fatalf("event = %+v, want close 1006", ev)
	}

	if !hasNotice(h.rec, "Connection closed (code: 1006).") {
		t.Errorf("Notices = %v", h.rec.Notices())
	}
	if c := h.c.Controls(); c != (view.Controls{}) {
		t.Errorf("Controls = %+v, want everything disabled", c)
	}
	if n := len(h.d.URLs()); n != 1 {
		t.Errorf("dial count = %d, want 1", n)
	}
	if err := h.c.SendText("anyone?"); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("SendText err = %v, want ErrNotConnected", err)
	}
}

func TestCloseNotice(t *testing.T) {
	tests := []struct {
		ev   transport.Event
		want string
	}{
		{transport.Event{Code: 1006}, "Connection closed (code: 1006). Try reloading the page."},
		{transport.Event{Code: 4000, Reason: "bye"}, "Connection closed (code: 4000). bye Try reloading the page."},
		{transport.Event{Code: 1006, Retrying: true}, "Connection closed (code: 1006). Reconnecting..."},
	}
	for _, tt := range tests {
		if got := closeNotice(tt.ev); got != tt.want {
			t.Errorf("closeNotice(%+v) = %q, want %q", tt.ev, got, tt.want)
		}
	}
}

func TestMalformedFrame(t *testing.T) {
	h := started(t)
	h.inbound(t, `not json`)
	if !hasNotice(h.rec, NoticeMalformedFrame) {
		t.Errorf("Notices = %v", h.rec.Notices())
	}
	if h.m.State() != transport.StateOpen {
		t.Errorf("State = %v, want open", h.m.State())
	}
}

func TestRun_StopsWhenStreamEnds(t *testing.T) {
	h := started(t)
	done := make(chan error, 1)
	go func() { done <- h.c.Run(context.Background()) }()

	h.sock.SimulateFrame(init42)
	h.sock.SimulateClose(transport.CloseNormal, "")
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if h.c.ConversationID() != "42" {
		t.Errorf("ConversationID = %q, want 42", h.c.ConversationID())
	}
}

func TestRun_ContextCancel(t *testing.T) {
	h := started(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if !h.sock.Closed() {
		t.Error("expected socket closed")
	}
}

// --- Feedback / escalation / new chat tests ---

func TestSatisfied(t *testing.T) {
	h := started(t)
	h.inbound(t, `{"type":"ai_response","payload":{"chat_id":"42","text":"Try this.","show_buttons":true}}`)

	if err := h.c.Satisfied(context.Background()); err != nil {
		t.Fatalf("Satisfied: %v", err)
	}
	if len(h.be.feedbacks) != 1 || h.be.feedbacks[0] != "42" {
		t.Errorf("feedbacks = %v", h.be.feedbacks)
	}
	if h.c.Controls().ActionButtonsVisible {
		t.Error("expected buttons hidden")
	}
}

func TestSatisfied_Failure(t *testing.T) {
	h := started(t)
	h.inbound(t, init42)
	h.be.feedbackErr = errors.New("boom")
	if err := h.c.Satisfied(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !hasNotice(h.rec, NoticeFeedbackFailed) {
		t.Errorf("Notices = %v", h.rec.Notices())
	}
}

func TestSatisfied_NoConversation(t *testing.T) {
	h := started(t)
	if err := h.c.Satisfied(context.Background()); err != nil {
		t.Errorf("Satisfied = %v", err)
	}
	if len(h.be.feedbacks) != 0 {
		t.Error("feedback must not be sent without a conversation")
	}
}

func TestRequestOperator(t *testing.T) {
	h := started(t)
	h.inbound(t, init42)
	if err := h.c.RequestOperator(context.Background()); err != nil {
		t.Fatalf("RequestOperator: %v", err)
	}
	if len(h.be.managers) != 1 || h.be.managers[0] != "42" {
		t.Errorf("managers = %v", h.be.managers)
	}

	h.be.managerErr = &backend.StatusError{Status: 500, StatusText: "Internal Server Error", Detail: "no topic"}
	if err := h.c.RequestOperator(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !hasNotice(h.rec, "Failed to request an operator: server error: 500 Internal Server Error - no topic") {
		t.Errorf("Notices = %v", h.rec.Notices())
	}
}

func TestStartNewChat(t *testing.T) {
	h := started(t)
	h.inbound(t, init42)
	h.inbound(t, `{"type":"status_update","payload":{"chat_id":"42","status":"closed","message":"done","show_new_chat_button":true}}`)

	if err := h.c.StartNewChat(); err != nil {
		t.Fatalf("StartNewChat: %v", err)
	}
	got, _ := h.sock.LastSent()
	if got != `{"type":"start_new_chat","payload":{}}` {
		t.Errorf("frame = %s", got)
	}
	if n := len(h.rec.Rendered()); n != 0 {
		t.Errorf("rendered %d after clear, want 0", n)
	}
	if !hasNotice(h.rec, NoticeNewConversation) {
		t.Errorf("Notices = %v", h.rec.Notices())
	}
	c := h.c.Controls()
	if !c.InputEnabled || c.NewConversationAvailable {
		t.Errorf("Controls = %+v, want input enabled", c)
	}
}
