package handshake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"sentinel/internal/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	handshakePath     = "/api/proctor/handshake"
	verifyProfilePath = "/api/proctor/verify-profile"
	verifyIDPath      = "/api/proctor/verify-id"
	sentinelPath      = "/api/proctor/ws/sentinel"

	DefaultFrameInterval = 500 * time.Millisecond
	DefaultTimeout       = 10 * time.Second
	DefaultDialTimeout   = 10 * time.Second
)

type (
	// TokenSource supplies the bearer token of the signed in user, if any.
	TokenSource interface {
		Token() string
	}

	Client struct {
		baseURL    *url.URL
		httpClient *http.Client
		dialer     *websocket.Dialer
		tokens     TokenSource
		logger     *zap.Logger
		observer   Observer

		frameInterval time.Duration
		dialTimeout   time.Duration
		newSessionID  func() string
	}

	Option func(*Client)
)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithTokenSource(tokens TokenSource) Option {
	return func(c *Client) {
		c.tokens = tokens
	}
}

// WithObserver registers a callback notified on every status change of the
// sessions created by the client.
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

func WithFrameInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.frameInterval = d
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("backend url %q has no host", baseURL)
	}

	c := &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:        zap.NewNop(),
		frameInterval: DefaultFrameInterval,
		dialTimeout:   DefaultDialTimeout,
		newSessionID:  uuid.NewString,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.dialTimeout,
	}

	return c, nil
}

// Start opens a new handshake session for the candidate.
func (c *Client) Start(ctx context.Context, candidateID string) (*Session, error) {
	candidateID = strings.TrimSpace(candidateID)
	if candidateID == "" {
		return nil, newError(KindSessionInitFailed, "", "candidate id is required", nil)
	}

	// The backend may honour the proposal or allocate its own id.
	proposed := c.newSessionID()

	var resp model.HandshakeResponse
	err := c.postForm(ctx, handshakePath, map[string]string{
		"candidate_id": candidateID,
		"session_id":   proposed,
	}, nil, &resp)
	if err != nil {
		return nil, newError(KindSessionInitFailed, "", "creating handshake session", err)
	}

	if resp.SessionID == "" {
		return nil, newError(KindSessionInitFailed, "", "backend returned no session id", nil)
	}

	challenge := resp.FirstChallenge
	if challenge == "" {
		challenge = model.ChallengeLookCenter
	}

	s := newSession(resp.SessionID, candidateID, challenge, c.observer)
	s.setMessage("Step 1: upload a clear, current portrait")

	c.logger.Info("handshake session started",
		zap.String("session_id", s.ID()),
		zap.String("candidate_id", candidateID),
		zap.String("challenge", string(challenge)),
	)

	return s, nil
}

// Restart discards old and starts a new session for the same candidate. The
// new session never reuses the old session id.
func (c *Client) Restart(ctx context.Context, old *Session) (*Session, error) {
	old.Discard()

	s, err := c.Start(ctx, old.CandidateID())
	if err != nil {
		return nil, err
	}

	if s.ID() == old.ID() {
		s.Discard()
		return nil, newError(KindSessionInitFailed, "", fmt.Sprintf("backend reused session id %s", old.ID()), nil)
	}

	c.logger.Info("handshake session restarted",
		zap.String("old_session_id", old.ID()),
		zap.String("session_id", s.ID()),
	)

	return s, nil
}

type filePart struct {
	field    string
	filename string
	data     []byte
}

func (c *Client) postForm(ctx context.Context, path string, fields map[string]string, file *filePart, target any) error {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	for key, val := range fields {
		if err := w.WriteField(key, val); err != nil {
			return err
		}
	}

	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, file.field, file.filename))
		h.Set("Content-Type", http.DetectContentType(file.data))

		part, err := w.CreatePart(h)
		if err != nil {
			return err
		}
		if _, err := part.Write(file.data); err != nil {
			return err
		}
	}

	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), &b)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.setHeaders(req.Header)

	c.logger.Debug("make request", zap.String("url", req.URL.String()))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		var detail model.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&detail) == nil && detail.Detail != "" {
			return fmt.Errorf("bad status: %s: %s", resp.Status, detail.Detail)
		}
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	if target == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(h http.Header) {
	if c.tokens == nil {
		return
	}
	if token := c.tokens.Token(); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func (c *Client) liveURL() string {
	u := *c.baseURL
	u.Scheme = "ws"
	if c.baseURL.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + sentinelPath
	return u.String()
}
