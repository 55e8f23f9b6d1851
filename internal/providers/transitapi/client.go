package transitapi

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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"stationear/internal/domain"
)

const (
	defaultBaseURL = "https://yeonhee.shop/api"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

var ErrMissingSessionID = errors.New("session id missing from response")

// Config controls the backend HTTP client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTP overrides the client used for request/response calls.
	HTTP *http.Client
}

// Client talks to the announcement backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
}

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	// The alert stream stays open indefinitely, so it must not inherit the request timeout.
	streamClient := &http.Client{Transport: httpClient.Transport}
	return &Client{baseURL: base, http: httpClient, stream: streamClient}
}

// BaseURL returns the resolved backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RequestError is returned for any non-2xx backend response.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	// Payload holds the decoded JSON error body, or the raw text when it is not JSON.
	Payload any
}

func (e *RequestError) Error() string {
	detail := ""
	switch payload := e.Payload.(type) {
	case map[string]any:
		if d, ok := payload["detail"].(string); ok {
			detail = d
		} else if encoded, err := json.Marshal(payload); err == nil {
			detail = string(encoded)
		}
	case string:
		detail = payload
	case nil:
	default:
		if encoded, err := json.Marshal(payload); err == nil {
			detail = string(encoded)
		}
	}
	if detail == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, detail)
}

// Unwrap maps 410 Gone onto domain.ErrSessionExpired.
func (e *RequestError) Unwrap() error {
	if e.StatusCode == http.StatusGone {
		return domain.ErrSessionExpired
	}
	return nil
}

// Do issues a JSON request against path and decodes a JSON response into out.
func (c *Client) Do(ctx context.Context, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.send(req, path, out)
}

func (c *Client) send(req *http.Request, path string, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", req.Method, path, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return newRequestError(req.Method, path, res.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, path, err)
	}
	return nil
}

func newRequestError(method string, path string, status int, body []byte) *RequestError {
	reqErr := &RequestError{Method: method, Path: path, StatusCode: status}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return reqErr
	}
	var payload any
	if err := json.Unmarshal(trimmed, &payload); err == nil {
		reqErr.Payload = payload
	} else {
		reqErr.Payload = string(trimmed)
	}
	return reqErr
}

// CreateSession creates a session, optionally linked to the one it replaces.
func (c *Client) CreateSession(ctx context.Context, previous domain.SessionID) (domain.SessionID, error) {
	payload := map[string]any{}
	if !previous.IsZero() {
		payload["previous_session_id"] = previous.String()
	}

	var resp struct {
		ID        json.RawMessage `json:"id"`
		SessionID json.RawMessage `json:"session_id"`
	}
	if err := c.Do(ctx, http.MethodPost, "/session/", payload, &resp); err != nil {
		return "", err
	}

	id := rawID(resp.ID)
	if id.IsZero() {
		id = rawID(resp.SessionID)
	}
	if id.IsZero() {
		return "", ErrMissingSessionID
	}
	return id, nil
}

func (c *Client) DeleteSession(ctx context.Context, id domain.SessionID) error {
	return c.Do(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
}

func (c *Client) SessionStatus(ctx context.Context, id domain.SessionID) (domain.SessionStatus, error) {
	var status domain.SessionStatus
	if err := c.Do(ctx, http.MethodGet, sessionPath(id, "status/"), nil, &status); err != nil {
		return domain.SessionStatus{}, err
	}
	return status, nil
}

func (c *Client) SessionResults(ctx context.Context, id domain.SessionID) (domain.SessionResult, error) {
	var result domain.SessionResult
	if err := c.Do(ctx, http.MethodGet, sessionPath(id, "results/"), nil, &result); err != nil {
		return domain.SessionResult{}, err
	}
	return result, nil
}

// UploadAudio posts one chunk as multipart form data.
func (c *Client) UploadAudio(ctx context.Context, upload domain.ChunkUpload) (domain.UploadAck, error) {
	file, err := os.Open(upload.Path)
	if err != nil {
		return domain.UploadAck{}, fmt.Errorf("open chunk: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("session_id", upload.SessionID.String()); err != nil {
		return domain.UploadAck{}, err
	}
	if upload.Duration != nil {
		if err := writer.WriteField("duration", strconv.Itoa(*upload.Duration)); err != nil {
			return domain.UploadAck{}, err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio_file"; filename=%q`, filepath.Base(upload.Path)))
	header.Set("Content-Type", "audio/m4a")
	part, err := writer.CreatePart(header)
	if err != nil {
		return domain.UploadAck{}, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return domain.UploadAck{}, fmt.Errorf("read chunk: %w", err)
	}
	if err := writer.Close(); err != nil {
		return domain.UploadAck{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/", &body)
	if err != nil {
		return domain.UploadAck{}, fmt.Errorf("build upload: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var ack domain.UploadAck
	if err := c.send(req, "/audio/", &ack); err != nil {
		return domain.UploadAck{}, err
	}
	return ack, nil
}

// ListKeywords accepts both `{"keywords": [...]}` and a bare array, with items
// either as strings or as objects carrying `word` or `keyword`.
func (c *Client) ListKeywords(ctx context.Context, id domain.SessionID) ([]domain.Keyword, error) {
	path := "/keywords/?session_id=" + url.QueryEscape(id.String())
	var raw json.RawMessage
	if err := c.Do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return decodeKeywords(raw, id)
}

func (c *Client) RegisterKeywords(ctx context.Context, id domain.SessionID, words []string) error {
	if len(words) == 0 {
		return nil
	}
	payload := map[string]any{
		"session_id": id.String(),
		"keywords":   words,
	}
	return c.Do(ctx, http.MethodPost, "/keywords/", payload, nil)
}

func (c *Client) DeleteKeyword(ctx context.Context, keywordID int64) error {
	return c.Do(ctx, http.MethodDelete, "/keywords/"+strconv.FormatInt(keywordID, 10)+"/", nil, nil)
}

// StreamURL is the server-sent-events endpoint for a session.
func (c *Client) StreamURL(id domain.SessionID) string {
	return c.baseURL + sessionPath(id, "stream/")
}

func sessionPath(id domain.SessionID, suffix string) string {
	return "/session/" + url.PathEscape(id.String()) + "/" + suffix
}

func rawID(raw json.RawMessage) domain.SessionID {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return domain.SessionID(strings.TrimSpace(text))
	}
	return domain.SessionID(trimmed)
}

type keywordItem struct {
	ID        *int64 `json:"id"`
	Word      string `json:"word"`
	Keyword   string `json:"keyword"`
	CreatedAt string `json:"created_at"`
}

func decodeKeywords(raw json.RawMessage, id domain.SessionID) ([]domain.Keyword, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var items []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode keywords: %w", err)
		}
	} else {
		var wrapper struct {
			Keywords []json.RawMessage `json:"keywords"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("decode keywords: %w", err)
		}
		items = wrapper.Keywords
	}

	keywords := make([]domain.Keyword, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}
		if item[0] == '"' {
			var word string
			if err := json.Unmarshal(item, &word); err != nil {
				return nil, fmt.Errorf("decode keyword: %w", err)
			}
			if word = strings.TrimSpace(word); word != "" {
				keywords = append(keywords, domain.Keyword{Text: word, SessionID: id})
			}
			continue
		}

		var parsed keywordItem
		if err := json.Unmarshal(item, &parsed); err != nil {
			return nil, fmt.Errorf("decode keyword: %w", err)
		}
		text := strings.TrimSpace(parsed.Word)
		if text == "" {
			text = strings.TrimSpace(parsed.Keyword)
		}
		if text == "" {
			continue
		}
		keyword := domain.Keyword{ID: parsed.ID, Text: text, SessionID: id}
		if createdAt, err := time.Parse(time.RFC3339Nano, parsed.CreatedAt); err == nil {
			keyword.CreatedAt = createdAt
		}
		keywords = append(keywords, keyword)
	}
	return keywords, nil
}
