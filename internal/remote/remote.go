// Package remote is the HTTP client of the decision API. Every failure it
// returns wraps one of the workflow taxonomy errors, so callers can tell a
// rejected event from a lost connection with errors.Is.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"site-decisions/internal/workflow"
)

const idempotencyHeader = "Idempotency-Key"

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// API is the remote side of the decision workflow. Apply methods return
// the authoritative entity after the event.
type API interface {
	GetApproval(ctx context.Context, id string) (workflow.ApprovalRequest, error)
	ListApprovals(ctx context.Context, q ApprovalQuery) ([]workflow.ApprovalRequest, error)
	CreateApproval(ctx context.Context, in workflow.ApprovalInput) (workflow.ApprovalRequest, error)
	ApplyApproval(ctx context.Context, id string, ev workflow.ApprovalEvent, idempotencyKey string) (workflow.ApprovalRequest, error)

	GetMeeting(ctx context.Context, id string) (workflow.Meeting, error)
	ListMeetings(ctx context.Context, q MeetingQuery) ([]workflow.Meeting, error)
	CreateMeeting(ctx context.Context, in workflow.MeetingInput) (workflow.Meeting, error)
	ApplyMeeting(ctx context.Context, id string, ev workflow.MeetingEvent, idempotencyKey string) (workflow.Meeting, error)
}

type ApprovalQuery struct {
	EntityType workflow.EntityType
	EntityID   string
	Status     workflow.ApprovalStatus
}

func (q ApprovalQuery) values() url.Values {
	v := url.Values{}
	setIf(v, "entityType", string(q.EntityType))
	setIf(v, "entityId", q.EntityID)
	setIf(v, "status", string(q.Status))
	return v
}

type MeetingQuery struct {
	// "me" stands for the caller
	Owner       string
	Participant string
	Status      workflow.MeetingStatus
}

func (q MeetingQuery) values() url.Values {
	v := url.Values{}
	setIf(v, "owner", q.Owner)
	setIf(v, "participant", q.Participant)
	setIf(v, "status", string(q.Status))
	return v
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

type apiError struct {
	Success bool     `json:"success"`
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Code    []string `json:"code"`
}

type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ API = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient replaces the default client, e.g. with one from httptest.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New returns a client for the server at baseURL that authenticates with
// the bearer token tok.
func New(baseURL, tok string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	c := &Client{
		baseURL:    u,
		token:      strings.TrimSpace(tok),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.With("component", "remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) GetApproval(ctx context.Context, id string) (workflow.ApprovalRequest, error) {
	var r workflow.ApprovalRequest
	err := c.doJSON(ctx, http.MethodGet, "/api/approvals/"+url.PathEscape(id), nil, nil, "", &r)
	if err != nil {
		return workflow.ApprovalRequest{}, err
	}
	r.Normalize()
	return r, nil
}

func (c *Client) ListApprovals(ctx context.Context, q ApprovalQuery) ([]workflow.ApprovalRequest, error) {
	var list []workflow.ApprovalRequest
	if err := c.doJSON(ctx, http.MethodGet, "/api/approvals", q.values(), nil, "", &list); err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Normalize()
	}
	return list, nil
}

func (c *Client) CreateApproval(ctx context.Context, in workflow.ApprovalInput) (workflow.ApprovalRequest, error) {
	var r workflow.ApprovalRequest
	err := c.doJSON(ctx, http.MethodPost, "/api/approvals", nil, in, "", &r)
	if err != nil {
		return workflow.ApprovalRequest{}, err
	}
	r.Normalize()
	return r, nil
}

// ApplyApproval sends ev to the route that accepts it.
func (c *Client) ApplyApproval(ctx context.Context, id string, ev workflow.ApprovalEvent, idempotencyKey string) (workflow.ApprovalRequest, error) {
	base := "/api/approvals/" + url.PathEscape(id)
	var (
		path string
		body any
	)
	switch ev := ev.(type) {
	case workflow.SubmitRequest:
		path = base + "/submit"
	case workflow.ClaimStep:
		path = base + "/steps/" + url.PathEscape(ev.StepID) + "/claim"
	case workflow.DecideStep:
		path = base + "/steps/" + url.PathEscape(ev.StepID) + "/decision"
		body = map[string]any{"decision": ev.Decision, "comment": ev.Comment}
	default:
		return workflow.ApprovalRequest{}, fmt.Errorf("%w: unsupported event %T", workflow.ErrInvalidEvent, ev)
	}

	var r workflow.ApprovalRequest
	err := c.doJSON(ctx, http.MethodPost, path, nil, body, idempotencyKey, &r)
	if err != nil {
		return workflow.ApprovalRequest{}, err
	}
	r.Normalize()
	return r, nil
}

func (c *Client) GetMeeting(ctx context.Context, id string) (workflow.Meeting, error) {
	var m workflow.Meeting
	err := c.doJSON(ctx, http.MethodGet, "/api/meetings/"+url.PathEscape(id), nil, nil, "", &m)
	if err != nil {
		return workflow.Meeting{}, err
	}
	m.Normalize()
	return m, nil
}

func (c *Client) ListMeetings(ctx context.Context, q MeetingQuery) ([]workflow.Meeting, error) {
	var list []workflow.Meeting
	if err := c.doJSON(ctx, http.MethodGet, "/api/meetings", q.values(), nil, "", &list); err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Normalize()
	}
	return list, nil
}

func (c *Client) CreateMeeting(ctx context.Context, in workflow.MeetingInput) (workflow.Meeting, error) {
	var m workflow.Meeting
	err := c.doJSON(ctx, http.MethodPost, "/api/meetings", nil, in, "", &m)
	if err != nil {
		return workflow.Meeting{}, err
	}
	m.Normalize()
	return m, nil
}

// ApplyMeeting sends ev to the route that accepts it.
func (c *Client) ApplyMeeting(ctx context.Context, id string, ev workflow.MeetingEvent, idempotencyKey string) (workflow.Meeting, error) {
	base := "/api/meetings/" + url.PathEscape(id)
	method := http.MethodPost
	var (
		path string
		body any
	)
	switch ev := ev.(type) {
	case workflow.CastVote:
		path = base + "/votes"
		body = map[string]string{"attendeeId": ev.AttendeeID, "slotId": ev.SlotID}
	case workflow.ConfirmSlot:
		path = base + "/confirm"
		body = map[string]string{"slotId": ev.SlotID}
	case workflow.SetRSVP:
		method = http.MethodPut
		path = base + "/attendees/" + url.PathEscape(ev.AttendeeID) + "/rsvp"
		body = map[string]any{"status": ev.Status}
	case workflow.SendInvitations:
		path = base + "/invitations"
	case workflow.CancelMeeting:
		path = base + "/cancel"
		body = map[string]string{"reason": ev.Reason}
	case workflow.CompleteMeeting:
		path = base + "/complete"
	default:
		return workflow.Meeting{}, fmt.Errorf("%w: unsupported event %T", workflow.ErrInvalidEvent, ev)
	}

	var m workflow.Meeting
	err := c.doJSON(ctx, method, path, nil, body, idempotencyKey, &m)
	if err != nil {
		return workflow.Meeting{}, err
	}
	m.Normalize()
	return m, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, reqBody any, idempotencyKey string, out any) error {
	// path is already escaped
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("json marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := statusError(resp.StatusCode, respBody)
		c.logger.Debug("Request rejected", "method", method, "path", path, "status", resp.StatusCode, "error", err)
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: json unmarshal response: %v", ErrUnexpectedStatus, err)
	}
	return nil
}

// transportError classifies a failure to get any response at all.
func transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", workflow.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", workflow.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", workflow.ErrNetworkFailure, err)
}

// statusError maps an error response back to the taxonomy. Stop codes win
// over the HTTP status.
func statusError(status int, body []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	msg := strings.TrimSpace(apiErr.Message)
	if msg == "" {
		msg = http.StatusText(status)
	}

	for _, code := range apiErr.Code {
		if sentinel := workflow.FromCode(code); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, msg)
		}
	}

	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", workflow.ErrNotAuthorized, msg)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", workflow.ErrNotFound, msg)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s", workflow.ErrConflictRejected, msg)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", workflow.ErrInvalidInput, msg)
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: server returned %d", workflow.ErrNetworkFailure, status)
	default:
		return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, status, msg)
	}
}
