package handshake

import (
	"context"
	"fmt"

	"sentinel/internal/model"

	"go.uber.org/zap"
)

type document struct {
	stage    model.Stage
	next     model.Stage
	path     string
	field    string
	filename string
	pending  string
	done     string
}

var (
	profileDocument = document{
		stage:    model.StageProfileUpload,
		next:     model.StageIDUpload,
		path:     verifyProfilePath,
		field:    "profile_photo",
		filename: "profile.jpg",
		pending:  "Processing profile portrait...",
		done:     "Step 2: upload your government ID",
	}

	idDocument = document{
		stage:    model.StageIDUpload,
		next:     model.StageLiveChallenge,
		path:     verifyIDPath,
		field:    "id_card",
		filename: "id_card.jpg",
		pending:  "Processing ID document...",
	}
)

// SubmitProfilePhoto uploads the reference portrait. The session moves to
// id_upload on success.
func (c *Client) SubmitProfilePhoto(ctx context.Context, s *Session, image []byte) error {
	return c.submitDocument(ctx, s, profileDocument, image)
}

// SubmitIDDocument uploads the identity document, which the backend matches
// against the profile photo. It requires a successful SubmitProfilePhoto.
func (c *Client) SubmitIDDocument(ctx context.Context, s *Session, image []byte) error {
	return c.submitDocument(ctx, s, idDocument, image)
}

func (c *Client) submitDocument(ctx context.Context, s *Session, doc document, image []byte) error {
	if err := s.expect(doc.stage); err != nil {
		return err
	}

	if len(image) == 0 {
		return newError(KindDocumentRejected, doc.stage, "image is empty", nil)
	}

	s.setMessage(doc.pending)

	var resp model.UploadResponse
	err := c.postForm(ctx, doc.path, map[string]string{
		"session_id": s.ID(),
	}, &filePart{
		field:    doc.field,
		filename: doc.filename,
		data:     image,
	}, &resp)
	if err != nil {
		s.setMessage(fmt.Sprintf("Upload failed: %v", err))
		c.logger.Warn("document rejected",
			zap.String("session_id", s.ID()),
			zap.String("stage", string(doc.stage)),
			zap.Error(err),
		)
		return newError(KindDocumentRejected, doc.stage, "uploading "+doc.field, err)
	}

	if resp.Status != "success" {
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %q", resp.Status)
		}
		s.setMessage(msg)
		return newError(KindDocumentRejected, doc.stage, msg, nil)
	}

	done := doc.done
	if done == "" {
		done = "Biometric sync: " + humanize(s.Challenge())
	}

	if err := s.advance(doc.stage, doc.next, done); err != nil {
		return err
	}

	c.logger.Info("document accepted",
		zap.String("session_id", s.ID()),
		zap.String("field", doc.field),
		zap.String("stage", string(doc.next)),
	)
	return nil
}
