// Package backend is the HTTP client for the support backend's upload,
// feedback, escalation and media endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/chatline/internal/attachment"
	"github.com/zulandar/chatline/internal/protocol"
)

// maxErrorBody caps how much of an error response is read for its detail.
const maxErrorBody = 4 << 10

// ErrUploadRejected matches every *UploadError.
var ErrUploadRejected = errors.New("upload rejected")

// UploadError reports a failed upload. Status is 0 when the backend
// answered 2xx with success=false.
type UploadError struct {
	Status int
	Detail string
}

func (e *UploadError) Error() string {
	detail := e.Detail
	if detail == "" {
		detail = "unknown error"
	}
	if e.Status != 0 {
		return fmt.Sprintf("server error: %d %s", e.Status, detail)
	}
	return detail
}

// Is makes errors.Is(err, ErrUploadRejected) hold.
func (e *UploadError) Is(target error) bool {
	return target == ErrUploadRejected
}

// StatusError reports a non-2xx answer from a JSON endpoint.
type StatusError struct {
	Status     int
	StatusText string
	Detail     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("server error: %d %s", e.Status, e.StatusText)
	if e.Detail != "" {
		msg += " - " + e.Detail
	}
	return msg
}

// Client talks to the backend over HTTP.
type Client struct {
	base          string
	http          *http.Client
	uploadTimeout time.Duration
}

// Opts holds parameters for creating a Client.
type Opts struct {
	BaseURL       string
	HTTPClient    *http.Client  // defaults to a client without timeout
	UploadTimeout time.Duration // 0 means no timeout
}

// New creates a Client.
func New(opts Opts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("backend: base url is required")
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend: base url %q must be http or https", opts.BaseURL)
	}
	u.RawQuery, u.Fragment = "", ""
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{base: strings.TrimRight(u.String(), "/"), http: hc, uploadTimeout: opts.UploadTimeout}, nil
}

// endpoint joins an already escaped path onto the base URL.
func (c *Client) endpoint(escapedPath string, query url.Values) string {
	s := c.base + escapedPath
	if query != nil {
		s += "?" + query.Encode()
	}
	return s
}

// UploadRequest is phase 1 of an attachment send.
type UploadRequest struct {
	ConversationID string
	SenderID       string
	// Message is the serialized outbound envelope, without media.
	Message []byte
	File    attachment.File
}

// UploadResult is the backend's answer to a successful upload.
type UploadResult struct {
	Success   bool   `json:"success"`
	Detail    string `json:"detail,omitempty"`
	FileURL   string `json:"file_url,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Upload streams the file as multipart field "file" to POST /upload.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.File.Open == nil {
		return nil, fmt.Errorf("backend: upload %s: file has no content", req.File.Name)
	}
	if c.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.uploadTimeout)
		defer cancel()
	}

	query := url.Values{}
	query.Set("chat_id", req.ConversationID)
	query.Set("message", string(req.Message))
	query.Set("sender_id", req.SenderID)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeFilePart(mw, req.File))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload", query), pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("backend: upload: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	// Unblocks the writer if the backend answers before reading the body.
	defer pr.Close()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UploadError{Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("backend: upload: decode response: %w", err)
	}
	if !result.Success {
		return nil, &UploadError{Detail: result.Detail}
	}
	return &result, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFilePart(mw *multipart.Writer, f attachment.File) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer src.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(f.Name)))
	ct := f.MIMEType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copy %s: %w", f.Name, err)
	}
	return mw.Close()
}

// Feedback reports that the user is satisfied, which closes the
// conversation server-side.
func (c *Client) Feedback(ctx context.Context, conversationID string) error {
	return c.postJSON(ctx, "/chat/"+url.PathEscape(conversationID)+"/feedback", map[string]string{"action": "satisfied"})
}

// RequestManager asks for a human operator.
func (c *Client) RequestManager(ctx context.Context, conversationID string) error {
	return c.postJSON(ctx, "/chat/"+url.PathEscape(conversationID)+"/request_manager", struct{}{})
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("backend: encode %s body: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("backend: %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Detail:     readDetail(resp.Body),
		}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

// OpenMedia fetches an attachment. The caller closes the returned body.
func (c *Client) OpenMedia(ctx context.Context, a protocol.Attachment) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(protocol.MediaPath(a), nil), nil)
	if err != nil {
		return nil, "", fmt.Errorf("backend: media %s: %w", a.FileID, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("backend: media %s: %w", a.FileID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, "", &StatusError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Detail:     readDetail(resp.Body),
		}
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// readDetail extracts a FastAPI-style {"detail": ...} message, falling back
// to the raw body text.
func readDetail(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil && body.Detail != nil {
		if s, ok := body.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(body.Detail); err == nil {
			return string(b)
		}
	}
	return strings.TrimSpace(string(data))
}
