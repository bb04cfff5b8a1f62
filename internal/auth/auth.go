// Package auth holds the signed in user for the lifetime of a client run.
// A Context is created at start up, filled by Login and cleared by Logout.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"sentinel/internal/model"

	"go.uber.org/zap"
)

const loginPath = "/api/auth/login"

var ErrNotLoggedIn = errors.New("auth: not logged in")

type Context struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
	user  *model.User
}

func New(baseURL string, httpClient *http.Client, logger *zap.Logger) *Context {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Context{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Login exchanges credentials for an access token and keeps it until Logout.
func (a *Context) Login(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, errors.New("auth: email and password are required")
	}

	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(&model.LoginRequest{Email: email, Password: password}); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+loginPath, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: login request: %w", err)
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		var detail model.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&detail) == nil && detail.Detail != "" {
			return nil, fmt.Errorf("auth: login failed: %s", detail.Detail)
		}
		return nil, fmt.Errorf("auth: login failed: %s", resp.Status)
	}

	var out model.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("auth: decoding login response: %w", err)
	}
	if out.AccessToken == "" {
		return nil, errors.New("auth: login response has no access token")
	}

	a.mu.Lock()
	a.token = out.AccessToken
	a.user = out.User
	a.mu.Unlock()

	a.logger.Info("logged in", zap.String("email", email))
	return out.User, nil
}

func (a *Context) Logout() {
	a.mu.Lock()
	a.token = ""
	a.user = nil
	a.mu.Unlock()
}

// Token returns the current access token or "" when logged out.
func (a *Context) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *Context) User() (*model.User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.token == "" {
		return nil, ErrNotLoggedIn
	}
	return a.user, nil
}
