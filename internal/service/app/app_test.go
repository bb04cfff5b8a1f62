package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sentinel/internal/capture"
	"sentinel/internal/config"
	"sentinel/internal/handshake"
	"sentinel/internal/model"
	"sentinel/internal/service/server"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jpegImage = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00face")
	pngImage  = []byte("\x89PNG\r\n\x1a\nportrait")
)

// flakyBiometrics fails the face match of the first failures sessions.
type flakyBiometrics struct {
	server.Passthrough

	mu       sync.Mutex
	failures int
	calls    int
}

func (b *flakyBiometrics) Similarity(reference, sample []byte) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	// two comparisons per session
	if (b.calls+1)/2 <= b.failures {
		return 0.1, nil
	}
	return 0.95, nil
}

// blindBiometrics never sees the requested head position.
type blindBiometrics struct {
	server.Passthrough
	checks atomic.Int32
}

func (b *blindBiometrics) CheckLiveness([]byte, model.Challenge) (bool, error) {
	b.checks.Add(1)
	return false, nil
}

// simScreen reports when the view initialised it, so keys can be injected.
type simScreen struct {
	tcell.SimulationScreen
	ready chan struct{}
}

func newSimScreen() *simScreen {
	return &simScreen{
		SimulationScreen: tcell.NewSimulationScreen("UTF-8"),
		ready:            make(chan struct{}),
	}
}

func (s *simScreen) Init() error {
	err := s.SimulationScreen.Init()
	close(s.ready)
	return err
}

type runResult struct {
	res *handshake.Result
	err error
}

func runAsync(a *App, req Request) <-chan runResult {
	out := make(chan runResult, 1)
	go func() {
		res, err := a.Run(context.Background(), req)
		out <- runResult{res, err}
	}()
	return out
}

func wait(t *testing.T, out <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-out:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("status view did not stop")
		return runResult{}
	}
}

type backend struct {
	url        string
	handshakes atomic.Int32
}

func newBackend(t *testing.T, biometrics server.Biometrics) *backend {
	t.Helper()

	s := server.NewHttpServer(server.NewMemoryStore(time.Hour), nil, biometrics,
		server.WithChallenges(model.ChallengeLookCenter))
	router := s.Router()

	b := &backend{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/proctor/handshake" {
			b.handshakes.Add(1)
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	b.url = srv.URL
	return b
}

func testConfig(url string) *config.Config {
	return &config.Config{
		Backend: &config.BackendConfig{URL: url, Timeout: 5 * time.Second},
		Live:    &config.LiveConfig{FrameInterval: 5 * time.Millisecond, DialTimeout: time.Second},
	}
}

func request() Request {
	return Request{
		CandidateID: "CAND_1",
		Documents: handshake.Documents{
			ProfilePhoto: pngImage,
			IDDocument:   jpegImage,
		},
		Frames: capture.NewStaticSource(jpegImage),
	}
}

func TestRunVerifies(t *testing.T) {
	b := newBackend(t, server.Passthrough{})

	a, err := NewApp(testConfig(b.url), nil)
	require.NoError(t, err)

	res, err := a.Run(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, "CAND_1", res.CandidateID)
	assert.EqualValues(t, 1, b.handshakes.Load())
}

func TestRunRetriesWithFreshSession(t *testing.T) {
	b := newBackend(t, &flakyBiometrics{failures: 1})

	a, err := NewApp(testConfig(b.url), nil, WithAttempts(3), WithRetryDelay(0))
	require.NoError(t, err)

	res, err := a.Run(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.EqualValues(t, 2, b.handshakes.Load())
}

func TestRunGivesUp(t *testing.T) {
	b := newBackend(t, &flakyBiometrics{failures: 5})

	a, err := NewApp(testConfig(b.url), nil, WithAttempts(2), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	_, err = a.Run(context.Background(), request())
	require.Error(t, err)
	assert.True(t, handshake.IsKind(err, handshake.KindChallengeError))
	assert.EqualValues(t, 2, b.handshakes.Load())
}

func TestRunDoesNotRetryRejectedDocuments(t *testing.T) {
	b := newBackend(t, server.Passthrough{})

	a, err := NewApp(testConfig(b.url), nil, WithAttempts(3), WithRetryDelay(0))
	require.NoError(t, err)

	req := request()
	req.Documents.IDDocument = nil

	_, err = a.Run(context.Background(), req)
	require.Error(t, err)
	assert.True(t, handshake.IsKind(err, handshake.KindDocumentRejected))
	assert.EqualValues(t, 1, b.handshakes.Load())
}

func TestRetryable(t *testing.T) {
	for _, tc := range []struct {
		kind handshake.Kind
		want bool
	}{
		{handshake.KindSessionInitFailed, true},
		{handshake.KindConnectionFailed, true},
		{handshake.KindChallengeError, true},
		{handshake.KindDocumentRejected, false},
		{handshake.KindInvalidStage, false},
	} {
		err := &handshake.HandshakeError{Kind: tc.kind, Message: "x"}
		assert.Equal(t, tc.want, retryable(err), tc.kind.String())
	}

	cancelled := &handshake.HandshakeError{Kind: handshake.KindConnectionFailed, Cause: context.Canceled}
	assert.False(t, retryable(cancelled))
	assert.False(t, retryable(errors.New("boom")))
}

func TestSleep(t *testing.T) {
	require.NoError(t, sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleep(ctx, 0), context.Canceled)
}

func TestRunUIVerifies(t *testing.T) {
	b := newBackend(t, server.Passthrough{})

	a, err := NewApp(testConfig(b.url), nil, WithUI(true))
	require.NoError(t, err)
	a.screen = newSimScreen()

	r := wait(t, runAsync(a, request()))
	require.NoError(t, r.err)
	assert.True(t, r.res.Verified)
	assert.Nil(t, a.logV)
}

func TestRunUIStopsAfterFastFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a, err := NewApp(testConfig(url), nil, WithUI(true))
	require.NoError(t, err)
	a.screen = newSimScreen()

	r := wait(t, runAsync(a, request()))
	require.Error(t, r.err)
	assert.True(t, handshake.IsKind(r.err, handshake.KindSessionInitFailed))
}

func TestRunUIEscapeCancels(t *testing.T) {
	bio := &blindBiometrics{}
	b := newBackend(t, bio)

	a, err := NewApp(testConfig(b.url), nil, WithUI(true), WithAttempts(3))
	require.NoError(t, err)
	screen := newSimScreen()
	a.screen = screen

	out := runAsync(a, request())

	select {
	case <-screen.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("screen was not initialised")
	}
	require.Eventually(t, func() bool {
		return bio.checks.Load() > 0
	}, 5*time.Second, 5*time.Millisecond)

	screen.InjectKey(tcell.KeyEscape, 0, tcell.ModNone)

	r := wait(t, out)
	require.Error(t, r.err)
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.EqualValues(t, 1, b.handshakes.Load())
}
