package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sentinel/internal/model"
	"sentinel/internal/utils/log"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *HttpServer) HandleHandshake() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "multipart form expected")
			return
		}

		candidateID := strings.TrimSpace(r.FormValue("candidate_id"))
		if candidateID == "" {
			writeError(w, http.StatusBadRequest, "candidate_id cannot be empty")
			return
		}

		session := &model.VerificationSession{
			SessionID:      strings.TrimSpace(r.FormValue("session_id")),
			CandidateID:    candidateID,
			Status:         sessionPending,
			Challenges:     s.challenges,
			CapturedFrames: make(map[model.Challenge][]byte),
			CreatedAt:      time.Now().UTC(),
		}

		// Honour the proposed id unless it is already taken.
		if session.SessionID == "" {
			session.SessionID = s.newSessionID()
		}

		created, err := s.store.Create(ctx, session)
		if err == nil && !created {
			session.SessionID = s.newSessionID()
			created, err = s.store.Create(ctx, session)
		}
		if err != nil || !created {
			log.Error("create session failed", zap.String("candidate_id", candidateID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not create session")
			return
		}

		log.Info("handshake initiated",
			zap.String("session_id", session.SessionID),
			zap.String("candidate_id", candidateID),
		)

		writeJSON(w, http.StatusOK, &model.HandshakeResponse{
			SessionID:      session.SessionID,
			FirstChallenge: session.CurrentChallenge(),
			Message:        "Initiate 3-axis biometric scan.",
		})
	}
}

func (s *HttpServer) HandleVerifyProfile() http.HandlerFunc {
	return s.handleDocument("profile_photo", "Profile photo uploaded", func(session *model.VerificationSession, image []byte) (int, string) {
		session.ProfilePhoto = image
		return http.StatusOK, ""
	})
}

func (s *HttpServer) HandleVerifyID() http.HandlerFunc {
	return s.handleDocument("id_card", "ID card uploaded", func(session *model.VerificationSession, image []byte) (int, string) {
		if len(session.ProfilePhoto) == 0 {
			return http.StatusConflict, "profile photo must be uploaded first"
		}
		session.IDCard = image
		return http.StatusOK, ""
	})
}

// handleDocument stores one uploaded image on the session. apply returns a
// non-200 status and detail to reject the upload.
func (s *HttpServer) handleDocument(field, message string, apply func(*model.VerificationSession, []byte) (int, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "multipart form expected")
			return
		}

		sessionID := r.FormValue("session_id")
		if sessionID == "" {
			writeError(w, http.StatusBadRequest, "session_id cannot be empty")
			return
		}

		file, _, err := r.FormFile(field)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s is required", field))
			return
		}
		defer file.Close()

		image, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil || len(image) == 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s is empty", field))
			return
		}

		unlock := s.lock(sessionID)
		defer unlock()

		session, err := s.store.Get(ctx, sessionID)
		if err != nil {
			log.Error("get session failed", zap.String("session_id", sessionID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not load session")
			return
		}
		if session == nil {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}

		if status, detail := apply(session, image); status != http.StatusOK {
			writeError(w, status, detail)
			return
		}

		if err := s.store.Save(ctx, session); err != nil {
			log.Error("save session failed", zap.String("session_id", sessionID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not save session")
			return
		}

		log.Info("document uploaded", zap.String("session_id", sessionID), zap.String("field", field), zap.Int("bytes", len(image)))
		writeJSON(w, http.StatusOK, &model.UploadResponse{Status: "success", Message: message})
	}
}

func (s *HttpServer) GetVerification() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.recorder == nil {
			writeError(w, http.StatusNotImplemented, "verification history is disabled")
			return
		}

		sessionID := mux.Vars(r)["session_id"]
		v, err := s.recorder.GetBySessionID(r.Context(), sessionID)
		if err != nil {
			log.Error("get verification failed", zap.String("session_id", sessionID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not load verification")
			return
		}
		if v == nil {
			writeError(w, http.StatusNotFound, "verification not found")
			return
		}

		writeJSON(w, http.StatusOK, v)
	}
}

func (s *HttpServer) ListVerifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.recorder == nil {
			writeError(w, http.StatusNotImplemented, "verification history is disabled")
			return
		}

		candidateID := mux.Vars(r)["candidate_id"]

		var limit int64
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		list, err := s.recorder.ListByCandidate(r.Context(), candidateID, limit)
		if err != nil {
			log.Error("list verifications failed", zap.String("candidate_id", candidateID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not list verifications")
			return
		}
		if list == nil {
			list = []*model.Verification{}
		}

		writeJSON(w, http.StatusOK, list)
	}
}
