package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	// VerificationSession is the backend's view of one handshake attempt.
	VerificationSession struct {
		SessionID      string               `json:"session_id"`
		CandidateID    string               `json:"candidate_id"`
		Status         string               `json:"status"`
		ProfilePhoto   []byte               `json:"profile_photo,omitempty"`
		IDCard         []byte               `json:"id_card,omitempty"`
		Challenges     []Challenge          `json:"challenges"`
		ChallengeIndex int                  `json:"challenge_index"`
		CapturedFrames map[Challenge][]byte `json:"captured_frames,omitempty"`
		// Recorded is set once the outcome reached the verification record.
		Recorded  bool      `json:"recorded,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}

	// Verification is the persisted outcome of a finished handshake.
	Verification struct {
		ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
		SessionID     string             `bson:"session_id" json:"session_id"`
		CandidateID   string             `bson:"candidate_id" json:"candidate_id"`
		Verified      bool               `bson:"verified" json:"verified"`
		Confidence    float64            `bson:"confidence" json:"confidence"`
		Reason        string             `bson:"reason,omitempty" json:"reason,omitempty"`
		ProfileDigest string             `bson:"profile_digest" json:"profile_digest"`
		IDCardDigest  string             `bson:"id_card_digest" json:"id_card_digest"`
		CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	}
)

// CurrentChallenge returns the challenge the session waits for, or "" once
// every challenge was captured.
func (s *VerificationSession) CurrentChallenge() Challenge {
	if s.ChallengeIndex < 0 || s.ChallengeIndex >= len(s.Challenges) {
		return ""
	}
	return s.Challenges[s.ChallengeIndex]
}
