package transitapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"stationear/internal/domain"
)

const (
	eventTypeKeywordAlert = "keyword_alert"
	maxEventBytes         = 1024 * 1024
)

// AlertStream is an open server-sent-events subscription for one session.
type AlertStream struct {
	ctx    context.Context
	body   io.ReadCloser
	events chan domain.KeywordAlert
	stop   chan struct{}
	done   chan struct{}

	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// Subscribe opens the live alert stream for a session. The stream ends when ctx
// is cancelled, Close is called, or the server closes the connection.
func (c *Client) Subscribe(ctx context.Context, id domain.SessionID) (*AlertStream, error) {
	if id.IsZero() {
		return nil, errors.New("alert stream requires a session id")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StreamURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	res, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open alert stream: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
		_ = res.Body.Close()
		return nil, newRequestError(http.MethodGet, sessionPath(id, "stream/"), res.StatusCode, data)
	}

	stream := &AlertStream{
		ctx:    ctx,
		body:   res.Body,
		events: make(chan domain.KeywordAlert, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go stream.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-stream.done:
		}
	}()
	return stream, nil
}

// Events yields keyword alerts until the stream ends.
func (s *AlertStream) Events() <-chan domain.KeywordAlert {
	return s.events
}

// Done is closed once the stream has ended.
func (s *AlertStream) Done() <-chan struct{} {
	return s.done
}

// Err returns the read error that ended the stream, if any.
func (s *AlertStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *AlertStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		_ = s.body.Close()
	})
	<-s.done
	return s.Err()
}

func (s *AlertStream) readLoop() {
	defer close(s.done)
	defer close(s.events)

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 64*1024), maxEventBytes)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				if !s.dispatch(strings.Join(data, "\n")) {
					return
				}
				data = data[:0]
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field == "data" {
			data = append(data, value)
		}
	}

	if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
		select {
		case <-s.stop:
		default:
			s.errMu.Lock()
			s.err = fmt.Errorf("read alert stream: %w", err)
			s.errMu.Unlock()
		}
	}
}

func (s *AlertStream) dispatch(payload string) bool {
	alert, ok := parseAlert(payload)
	if !ok {
		return true
	}
	select {
	case s.events <- alert:
		return true
	case <-s.stop:
		return false
	}
}

func parseAlert(payload string) (domain.KeywordAlert, bool) {
	var frame struct {
		Type string `json:"type"`
		domain.KeywordAlert
	}
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return domain.KeywordAlert{}, false
	}
	if frame.Type != eventTypeKeywordAlert || strings.TrimSpace(frame.Keyword) == "" {
		return domain.KeywordAlert{}, false
	}
	return frame.KeywordAlert, true
}
