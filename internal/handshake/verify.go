package handshake

import (
	"context"

	"sentinel/internal/capture"
	"sentinel/internal/model"
)

type Documents struct {
	ProfilePhoto []byte
	IDDocument   []byte
}

// Verify runs a whole handshake for candidateID. The session is returned
// alongside any error so the caller can decide whether to Restart it.
func (c *Client) Verify(ctx context.Context, candidateID string, docs Documents, source capture.Source) (*Session, *Result, error) {
	s, err := c.Start(ctx, candidateID)
	if err != nil {
		return nil, nil, err
	}

	res, err := c.Resume(ctx, s, docs, source)
	return s, res, err
}

// Resume drives s from its current stage to a terminal state, skipping the
// document uploads that already succeeded.
func (c *Client) Resume(ctx context.Context, s *Session, docs Documents, source capture.Source) (*Result, error) {
	if s.Stage() == model.StageProfileUpload {
		if err := c.SubmitProfilePhoto(ctx, s, docs.ProfilePhoto); err != nil {
			return nil, err
		}
	}

	if s.Stage() == model.StageIDUpload {
		if err := c.SubmitIDDocument(ctx, s, docs.IDDocument); err != nil {
			return nil, err
		}
	}

	return c.RunLiveChallenge(ctx, s, source)
}
