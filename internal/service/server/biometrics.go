package server

import (
	"net/http"
	"strings"

	"sentinel/internal/model"
)

const (
	// Faces on ID documents match worse than live portraits.
	idMatchThreshold   = 0.6
	liveMatchThreshold = 0.75
)

// Biometrics is the computer vision backend: liveness checks per challenge
// and face similarity between two images in [0, 1].
type Biometrics interface {
	CheckLiveness(frame []byte, challenge model.Challenge) (bool, error)
	Similarity(reference, sample []byte) (float64, error)
}

// Passthrough accepts every image and scores every pair of images as a
// match. It lets the handshake run end to end without a vision model.
type Passthrough struct{}

func (Passthrough) CheckLiveness(frame []byte, _ model.Challenge) (bool, error) {
	return isImage(frame), nil
}

func (Passthrough) Similarity(reference, sample []byte) (float64, error) {
	if !isImage(reference) || !isImage(sample) {
		return 0, nil
	}
	return 1, nil
}

func isImage(b []byte) bool {
	return len(b) > 0 && strings.HasPrefix(http.DetectContentType(b), "image/")
}
