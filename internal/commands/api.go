package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BioHazard786/classmesh/internal/auth"
	"github.com/BioHazard786/classmesh/internal/config"
	"github.com/BioHazard786/classmesh/internal/protocol"
	"github.com/BioHazard786/classmesh/internal/sessions"
)

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// apiClient talks to the /v1 REST API on behalf of the configured user.
type apiClient struct {
	cfg  *config.Client
	http *http.Client
}

func newAPIClient(cfg *config.Client) *apiClient {
	return &apiClient{cfg: cfg, http: &http.Client{Timeout: 15 * time.Second}}
}

// identityHeaders carries the caller for servers running without tokens.
func identityHeaders(cfg *config.Client) http.Header {
	h := http.Header{}
	if cfg.Token != "" {
		h.Set("Authorization", "Bearer "+cfg.Token)
		return h
	}
	if cfg.UserID != "" {
		h.Set(auth.HeaderUserID, cfg.UserID)
		h.Set(auth.HeaderUserRole, cfg.Role)
		h.Set(auth.HeaderUserName, cfg.UserName)
	}
	return h
}

func (c *apiClient) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	target, err := c.cfg.APIURL(path)
	if err != nil {
		return nil, err
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, err
	}
	for k, v := range identityHeaders(c.cfg) {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb) == nil {
			apiErr.Message = eb.Error
		}
		return nil, apiErr
	}
	return resp, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.request(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func sessionPath(id string, parts ...string) string {
	p := "sessions/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *apiClient) CreateSession(ctx context.Context, in sessions.CreateInput) (sessions.Session, error) {
	var s sessions.Session
	err := c.do(ctx, http.MethodPost, "sessions", in, &s)
	return s, err
}

func (c *apiClient) GetSession(ctx context.Context, id string) (sessions.Session, error) {
	var s sessions.Session
	err := c.do(ctx, http.MethodGet, sessionPath(id), nil, &s)
	return s, err
}

// Transition moves a session: action is start, end or cancel.
func (c *apiClient) Transition(ctx context.Context, id, action string) (sessions.Session, error) {
	var s sessions.Session
	err := c.do(ctx, http.MethodPost, sessionPath(id, action), nil, &s)
	return s, err
}

func (c *apiClient) Join(ctx context.Context, id string) (protocol.JoinInfo, error) {
	var info protocol.JoinInfo
	err := c.do(ctx, http.MethodPost, sessionPath(id, "join"), nil, &info)
	return info, err
}

func (c *apiClient) Participants(ctx context.Context, id string) ([]protocol.ParticipantInfo, error) {
	var out []protocol.ParticipantInfo
	err := c.do(ctx, http.MethodGet, sessionPath(id, "participants"), nil, &out)
	return out, err
}

func (c *apiClient) Attendance(ctx context.Context, id string) ([]protocol.AttendanceView, error) {
	var out []protocol.AttendanceView
	err := c.do(ctx, http.MethodGet, sessionPath(id, "attendance"), nil, &out)
	return out, err
}

func (c *apiClient) Mark(ctx context.Context, id, studentID string, isPresent bool) error {
	return c.do(ctx, http.MethodPost, sessionPath(id, "attendance"),
		protocol.MarkRequest{StudentID: studentID, IsPresent: isPresent}, nil)
}

func (c *apiClient) MarkBatch(ctx context.Context, id string, studentIDs []string, isPresent bool) (protocol.BatchMarkResponse, error) {
	var out protocol.BatchMarkResponse
	err := c.do(ctx, http.MethodPost, sessionPath(id, "attendance", "batch"),
		protocol.BatchMarkRequest{StudentIDs: studentIDs, IsPresent: isPresent}, &out)
	return out, err
}

// Export streams the CSV sheet into w.
func (c *apiClient) Export(ctx context.Context, id string, w io.Writer) error {
	resp, err := c.request(ctx, http.MethodGet, sessionPath(id, "attendance", "export"), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read export: %w", err)
	}
	return nil
}

// isStatus reports whether err is an APIError with the given status.
func isStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
