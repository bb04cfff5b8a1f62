package server

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"sentinel/internal/model"
	"sentinel/internal/utils/log"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	lockStripes    = 64
	maxUploadBytes = 10 << 20
)

var defaultChallenges = []model.Challenge{
	model.ChallengeLookCenter,
	model.ChallengeTurnLeft,
	model.ChallengeTurnRight,
}

type (
	// Recorder persists finished handshakes.
	Recorder interface {
		Create(ctx context.Context, v *model.Verification) (primitive.ObjectID, error)
		GetBySessionID(ctx context.Context, sessionID string) (*model.Verification, error)
		ListByCandidate(ctx context.Context, candidateID string, limit int64) ([]*model.Verification, error)
	}

	HttpServer struct {
		store      SessionStore
		recorder   Recorder
		biometrics Biometrics
		challenges []model.Challenge
		upgrader   websocket.Upgrader

		// read-modify-write of one session is serialized by its stripe
		locks [lockStripes]sync.Mutex

		newSessionID func() string
	}

	Option func(*HttpServer)
)

// WithChallenges overrides the liveness challenge sequence.
func WithChallenges(challenges ...model.Challenge) Option {
	return func(s *HttpServer) {
		if len(challenges) > 0 {
			s.challenges = challenges
		}
	}
}

// NewHttpServer builds the verification backend. recorder may be nil, in
// which case outcomes are only logged.
func NewHttpServer(store SessionStore, recorder Recorder, biometrics Biometrics, opts ...Option) *HttpServer {
	if biometrics == nil {
		biometrics = Passthrough{}
	}

	s := &HttpServer{
		store:      store,
		recorder:   recorder,
		biometrics: biometrics,
		challenges: defaultChallenges,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		newSessionID: uuid.NewString,
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/proctor").Subrouter()
	api.HandleFunc("/handshake", s.HandleHandshake()).Methods(http.MethodPost)
	api.HandleFunc("/verify-profile", s.HandleVerifyProfile()).Methods(http.MethodPost)
	api.HandleFunc("/verify-id", s.HandleVerifyID()).Methods(http.MethodPost)
	api.HandleFunc("/ws/sentinel", s.HandleSentinelWS()).Methods(http.MethodGet)
	api.HandleFunc("/verifications/{session_id}", s.GetVerification()).Methods(http.MethodGet)
	api.HandleFunc("/candidates/{candidate_id}/verifications", s.ListVerifications()).Methods(http.MethodGet)

	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *HttpServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("verification backend listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HttpServer) lock(sessionID string) func() {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal response failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, &model.ErrorResponse{Detail: detail})
}
