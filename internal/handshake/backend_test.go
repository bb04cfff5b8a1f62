package handshake

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"sentinel/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jpegFrame = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00frame")
	pngImage  = []byte("\x89PNG\r\n\x1a\nimage")
)

type upload struct {
	sessionID string
	field     string
	size      int
}

// fakeBackend records every request and answers frames with a script.
type fakeBackend struct {
	t      *testing.T
	server *httptest.Server

	mu             sync.Mutex
	sessionIDs     []string
	proposed       []string
	initStatus     int
	firstChallenge model.Challenge
	uploadStatus   map[string]int
	uploads        []upload
	frames         []model.FrameMessage
	authHeaders    []string
	wsConnects     int
	liveDisabled   bool

	// script returns the replies for the n-th frame (1 based). Returning
	// closeConn drops the connection.
	script func(n int) []model.ResultData

	wsClosed chan struct{}
}

var closeConn = []model.ResultData{{Status: "__close__"}}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	fb := &fakeBackend{
		t:              t,
		initStatus:     http.StatusOK,
		firstChallenge: model.ChallengeLookCenter,
		uploadStatus:   make(map[string]int),
		script:         func(int) []model.ResultData { return nil },
		wsClosed:       make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(handshakePath, fb.handleInit)
	mux.HandleFunc(verifyProfilePath, fb.handleUpload("profile_photo"))
	mux.HandleFunc(verifyIDPath, fb.handleUpload("id_card"))
	mux.HandleFunc(sentinelPath, fb.handleWS)

	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBackend) client(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithFrameInterval(10 * time.Millisecond)}, opts...)
	c, err := NewClient(fb.server.URL, opts...)
	require.NoError(t, err)
	return c
}

func (fb *fakeBackend) handleInit(w http.ResponseWriter, r *http.Request) {
	if !assert.NoError(fb.t, r.ParseMultipartForm(1<<20)) {
		return
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.authHeaders = append(fb.authHeaders, r.Header.Get("Authorization"))
	fb.proposed = append(fb.proposed, r.FormValue("session_id"))

	if fb.initStatus != http.StatusOK {
		w.WriteHeader(fb.initStatus)
		json.NewEncoder(w).Encode(&model.ErrorResponse{Detail: "init refused"})
		return
	}

	id := fmt.Sprintf("s%d", len(fb.proposed))
	if len(fb.sessionIDs) > 0 {
		id, fb.sessionIDs = fb.sessionIDs[0], fb.sessionIDs[1:]
	}

	json.NewEncoder(w).Encode(&model.HandshakeResponse{
		SessionID:      id,
		FirstChallenge: fb.firstChallenge,
	})
}

func (fb *fakeBackend) handleUpload(field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(fb.t, r.ParseMultipartForm(1<<20)) {
			return
		}

		file, _, err := r.FormFile(field)
		if !assert.NoError(fb.t, err) {
			return
		}
		data, err := io.ReadAll(file)
		if !assert.NoError(fb.t, err) {
			return
		}

		fb.mu.Lock()
		defer fb.mu.Unlock()

		fb.uploads = append(fb.uploads, upload{
			sessionID: r.FormValue("session_id"),
			field:     field,
			size:      len(data),
		})

		if status, ok := fb.uploadStatus[field]; ok && status != http.StatusOK {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(&model.ErrorResponse{Detail: "image rejected"})
			return
		}
		json.NewEncoder(w).Encode(&model.UploadResponse{Status: "success"})
	}
}

func (fb *fakeBackend) handleWS(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	disabled := fb.liveDisabled
	fb.mu.Unlock()
	if disabled {
		http.NotFound(w, r)
		return
	}

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer close(fb.wsClosed)
	defer conn.Close()

	fb.mu.Lock()
	fb.wsConnects++
	fb.authHeaders = append(fb.authHeaders, r.Header.Get("Authorization"))
	fb.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg model.FrameMessage
		if !assert.NoError(fb.t, json.Unmarshal(data, &msg)) {
			return
		}

		fb.mu.Lock()
		fb.frames = append(fb.frames, msg)
		n := len(fb.frames)
		script := fb.script
		fb.mu.Unlock()

		for _, reply := range script(n) {
			if reply.Status == "__close__" {
				return
			}
			if err := conn.WriteJSON(&model.ResultMessage{Type: model.MessageTypeHandshakeResult, Data: reply}); err != nil {
				return
			}
		}
	}
}

func (fb *fakeBackend) frameCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.frames)
}

// configure changes the backend behaviour while requests may be in flight.
func (fb *fakeBackend) configure(fn func(fb *fakeBackend)) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fn(fb)
}

func (fb *fakeBackend) proposals() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.proposed...)
}

func (fb *fakeBackend) authorizations() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.authHeaders...)
}

func (fb *fakeBackend) liveConnects() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.wsConnects
}

func (fb *fakeBackend) uploadList() []upload {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]upload(nil), fb.uploads...)
}

func (fb *fakeBackend) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-fb.wsClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("live connection was not closed")
	}
}

// liveSession returns a session that passed both document uploads.
func liveSession(t *testing.T, c *Client) *Session {
	t.Helper()
	ctx := context.Background()

	s, err := c.Start(ctx, "CAND_1")
	require.NoError(t, err)
	require.NoError(t, c.SubmitProfilePhoto(ctx, s, pngImage))
	require.NoError(t, c.SubmitIDDocument(ctx, s, pngImage))
	require.Equal(t, model.StageLiveChallenge, s.Stage())
	return s
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) observe(st Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, st)
	r.mu.Unlock()
}

func (r *statusRecorder) list() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}
