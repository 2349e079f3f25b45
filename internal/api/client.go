// Package api is the HTTP client for the remote capture service.
//
// Every failure is returned as a classified *Error so the dispatcher and
// synchronizers can tell transient faults (retry with backoff) from
// permanent ones (surface to the user).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Default request timeout. Classification calls can take a while on the
// model side, so this is generous.
const defaultTimeout = 60 * time.Second

// Client talks to the remote capture service.
type Client struct {
	baseURL  string
	token    string
	deviceID string
	http     *http.Client
	logger   *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Tests use this to
// point at an httptest server with a short timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a client for the given service endpoint.
func NewClient(baseURL, token, deviceID string, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		token:    token,
		deviceID: deviceID,
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DeviceID returns the device identifier sent with every request.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// envelope is the common response wrapper on classification endpoints.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error,omitempty"`
}

// ScheduleInfoDTO carries extracted schedule fields on the wire.
type ScheduleInfoDTO struct {
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Location  string     `json:"location,omitempty"`
	IsAllDay  bool       `json:"is_all_day"`
}

// TodoInfoDTO carries the extracted deadline on the wire.
type TodoInfoDTO struct {
	Deadline *time.Time `json:"deadline,omitempty"`
}

// SplitItemDTO is one intent of a multi-intent capture on the wire.
type SplitItemDTO struct {
	Text           string             `json:"text"`
	Classification *ClassificationDTO `json:"classification"`
}

// ClassificationDTO is the classify endpoint's result payload.
type ClassificationDTO struct {
	ClassifiedType string           `json:"classified_type"`
	NoteSubType    string           `json:"note_sub_type,omitempty"`
	Confidence     string           `json:"confidence"`
	AITitle        string           `json:"ai_title,omitempty"`
	Tags           []string         `json:"tags,omitempty"`
	ScheduleInfo   *ScheduleInfoDTO `json:"schedule_info,omitempty"`
	TodoInfo       *TodoInfoDTO     `json:"todo_info,omitempty"`
	SplitItems     []SplitItemDTO   `json:"split_items,omitempty"`
}

type classifyRequest struct {
	Text     string `json:"text"`
	Source   string `json:"source"`
	DeviceID string `json:"device_id"`
}

// Classify submits capture text for classification.
func (c *Client) Classify(ctx context.Context, text, source string) (*ClassificationDTO, error) {
	req := classifyRequest{Text: text, Source: source, DeviceID: c.deviceID}

	var env envelope
	if err := c.post(ctx, "/v1/classify", req, &env); err != nil {
		return nil, err
	}
	if env.Status != "success" {
		return nil, &Error{Kind: KindInvalid, Message: env.Error}
	}

	var result ClassificationDTO
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return nil, &Error{Kind: KindInvalid, Message: "malformed classification payload", Err: err}
	}
	return &result, nil
}

// Change is one entity change in a push request.
type Change struct {
	EntityType      string          `json:"entity_type"`
	Operation       string          `json:"operation"` // create, update, delete
	ClientID        string          `json:"client_id"`
	Data            json.RawMessage `json:"data,omitempty"`
	ClientUpdatedAt time.Time       `json:"client_updated_at"`
}

type pushRequest struct {
	DeviceID string   `json:"device_id"`
	Changes  []Change `json:"changes"`
}

// PushResponse acknowledges a pushed changeset.
type PushResponse struct {
	ServerTimestamp time.Time `json:"server_timestamp"`
	Acknowledged    int       `json:"acknowledged"`
}

// Push uploads a changeset. An empty changeset is valid; the server
// responds with its timestamp so the cursor still advances.
func (c *Client) Push(ctx context.Context, changes []Change) (*PushResponse, error) {
	req := pushRequest{DeviceID: c.deviceID, Changes: changes}
	if req.Changes == nil {
		req.Changes = []Change{}
	}

	var resp PushResponse
	if err := c.post(ctx, "/v1/sync/push", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoteChange is one entity change in a pull response.
type RemoteChange struct {
	EntityType      string          `json:"entity_type"`
	Operation       string          `json:"operation"`
	ServerID        string          `json:"server_id"`
	Data            json.RawMessage `json:"data,omitempty"`
	ServerUpdatedAt time.Time       `json:"server_updated_at"`
}

type pullRequest struct {
	DeviceID string `json:"device_id"`
	Cursor   string `json:"cursor,omitempty"`
}

// PullResponse carries remote changes since the given cursor.
type PullResponse struct {
	Changes    []RemoteChange `json:"changes"`
	NextCursor string         `json:"next_cursor"`
}

// Pull downloads remote changes since cursor. An empty cursor requests
// the full remote state.
func (c *Client) Pull(ctx context.Context, cursor string) (*PullResponse, error) {
	var resp PullResponse
	if err := c.post(ctx, "/v1/sync/pull", pullRequest{DeviceID: c.deviceID, Cursor: cursor}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Account identifies the authenticated user.
type Account struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// Me returns the account the current token belongs to. The session guard
// compares this against the stored sync owner.
func (c *Client) Me(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.get(ctx, "/v1/me", &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Kind: KindInvalid, Message: "failed to encode request", Err: err}
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(payload), out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Kind: KindInvalid, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		apiErr := classifyTransport(err)
		c.logger.Debug("request failed",
			zap.String("path", path),
			zap.String("kind", string(apiErr.Kind)),
			zap.Duration("elapsed", time.Since(start)))
		return apiErr
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		message := readErrorMessage(resp.Body)
		apiErr := classifyStatus(resp.StatusCode, message)
		c.logger.Debug("request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", string(apiErr.Kind)))
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Kind: KindServer, Message: "malformed response body", Err: err}
		}
	}
	return nil
}

// readErrorMessage pulls a human-readable message out of an error body,
// tolerating both the envelope shape and plain text.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var env envelope
	if json.Unmarshal(raw, &env) == nil && env.Error != "" {
		return env.Error
	}
	var generic struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &generic) == nil && generic.Message != "" {
		return generic.Message
	}
	return fmt.Sprintf("%.200s", string(raw))
}
