package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sentinel/internal/capture"
	"sentinel/internal/model"
	"sentinel/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

const (
	sessionPending  = "pending"
	sessionVerified = "verified"
	sessionFailed   = "failed"
)

func (s *HttpServer) HandleSentinelWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("upgrade failed", zap.Error(err))
			return
		}

		s.processWSMessage(r.Context(), conn)
	}
}

func (s *HttpServer) processWSMessage(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	seen := make(map[string]struct{})
	defer s.release(context.WithoutCancel(ctx), seen)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("sentinel web socket closed", zap.Error(err))
			return
		}

		var msg model.FrameMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error("unmarshal frame failed", zap.Error(err))
			continue
		}

		if msg.Frame == "" || msg.Type != model.MessageTypeHandshakeFrame {
			continue
		}

		frame, _, err := capture.DecodeDataURL(msg.Frame)
		if err != nil {
			log.Error("frame decoding failed", zap.String("session_id", msg.SessionID), zap.Error(err))
			continue
		}

		seen[msg.SessionID] = struct{}{}
		result := s.verifyFrame(ctx, msg.SessionID, frame)
		if err := conn.WriteJSON(&model.ResultMessage{
			Type: model.MessageTypeHandshakeResult,
			Data: result,
		}); err != nil {
			log.Debug("write result failed", zap.String("session_id", msg.SessionID), zap.Error(err))
			return
		}
	}
}

// verifyFrame checks frame against the session's current challenge and
// advances the challenge sequence. Once every challenge is captured the
// documents and the centre frame are cross matched.
func (s *HttpServer) verifyFrame(ctx context.Context, sessionID string, frame []byte) model.ResultData {
	unlock := s.lock(sessionID)
	defer unlock()

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		log.Error("get session failed", zap.String("session_id", sessionID), zap.Error(err))
		return model.ResultData{Error: "session temporarily unavailable"}
	}
	if session == nil {
		return model.ResultData{Status: model.ResultStatusFailed, Error: "Session expired or invalid"}
	}

	switch session.Status {
	case sessionVerified:
		return model.ResultData{Verified: true, Message: "Identity already verified."}
	case sessionFailed:
		return model.ResultData{Status: model.ResultStatusFailed, Error: "Session already failed"}
	}

	if len(session.ProfilePhoto) == 0 || len(session.IDCard) == 0 {
		return model.ResultData{Error: "Waiting for ID and profile photo uploads."}
	}

	target := session.CurrentChallenge()
	if target == "" {
		return s.finalize(ctx, session)
	}

	ok, err := s.biometrics.CheckLiveness(frame, target)
	if err != nil {
		log.Error("liveness check failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	if !ok {
		return model.ResultData{
			Status:           model.ResultStatusWaiting,
			Error:            fmt.Sprintf("Align head to %s", strings.ReplaceAll(string(target), "_", " ")),
			CurrentChallenge: target,
		}
	}

	if session.CapturedFrames == nil {
		session.CapturedFrames = make(map[model.Challenge][]byte)
	}
	session.CapturedFrames[target] = frame
	session.ChallengeIndex++

	if next := session.CurrentChallenge(); next != "" {
		if err := s.store.Save(ctx, session); err != nil {
			log.Error("save session failed", zap.String("session_id", sessionID), zap.Error(err))
			return model.ResultData{Error: "session temporarily unavailable"}
		}
		return model.ResultData{Status: model.ResultStatusProgressing, NextChallenge: next}
	}

	return s.finalize(ctx, session)
}

func (s *HttpServer) finalize(ctx context.Context, session *model.VerificationSession) model.ResultData {
	center, ok := session.CapturedFrames[model.ChallengeLookCenter]
	if !ok && len(session.Challenges) > 0 {
		center, ok = session.CapturedFrames[session.Challenges[0]]
	}
	if !ok {
		return s.conclude(ctx, session, model.ResultData{Status: model.ResultStatusFailed, Error: "Live center frame missing"})
	}

	idSimilarity, err := s.biometrics.Similarity(session.ProfilePhoto, session.IDCard)
	if err != nil {
		log.Error("id similarity failed", zap.String("session_id", session.SessionID), zap.Error(err))
	}
	liveSimilarity, err := s.biometrics.Similarity(session.ProfilePhoto, center)
	if err != nil {
		log.Error("live similarity failed", zap.String("session_id", session.SessionID), zap.Error(err))
	}

	confidence := (idSimilarity + liveSimilarity) / 2

	switch {
	case idSimilarity < idMatchThreshold:
		return s.conclude(ctx, session, model.ResultData{
			Status:     model.ResultStatusFailed,
			Error:      "Face on ID does not match profile photo.",
			Confidence: confidence,
		})
	case liveSimilarity < liveMatchThreshold:
		return s.conclude(ctx, session, model.ResultData{
			Status:     model.ResultStatusFailed,
			Error:      "Live biometrics do not match profile photo.",
			Confidence: confidence,
		})
	}

	return s.conclude(ctx, session, model.ResultData{
		Verified:   true,
		Confidence: confidence,
		Message:    "Identity verified with 180-biometrics.",
	})
}

// conclude records the outcome and stores the terminal state of session.
func (s *HttpServer) conclude(ctx context.Context, session *model.VerificationSession, result model.ResultData) model.ResultData {
	session.Status = sessionFailed
	if result.Verified {
		session.Status = sessionVerified
	}
	// captured frames are no longer needed once the outcome is known
	session.CapturedFrames = nil

	if s.recorder != nil {
		_, err := s.recorder.Create(ctx, &model.Verification{
			SessionID:     session.SessionID,
			CandidateID:   session.CandidateID,
			Verified:      result.Verified,
			Confidence:    result.Confidence,
			Reason:        result.Error,
			ProfileDigest: digest(session.ProfilePhoto),
			IDCardDigest:  digest(session.IDCard),
			CreatedAt:     time.Now().UTC(),
		})
		if err != nil {
			log.Error("record verification failed", zap.String("session_id", session.SessionID), zap.Error(err))
		} else {
			session.Recorded = true
		}
	}

	if err := s.store.Save(ctx, session); err != nil {
		log.Error("save session failed", zap.String("session_id", session.SessionID), zap.Error(err))
	}

	log.Info("handshake concluded",
		zap.String("session_id", session.SessionID),
		zap.String("candidate_id", session.CandidateID),
		zap.Bool("verified", result.Verified),
		zap.Float64("confidence", result.Confidence),
	)
	return result
}

// release drops the snapshots of recorded sessions once their live
// connection is gone. Sessions without a record stay until they expire.
func (s *HttpServer) release(ctx context.Context, sessionIDs map[string]struct{}) {
	for id := range sessionIDs {
		unlock := s.lock(id)
		session, err := s.store.Get(ctx, id)
		if err == nil && session != nil && session.Recorded {
			err = s.store.Delete(ctx, id)
		}
		unlock()

		if err != nil {
			log.Error("release session failed", zap.String("session_id", id), zap.Error(err))
		}
	}
}

func digest(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}
