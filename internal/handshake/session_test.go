package handshake

import (
	"testing"

	"sentinel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionAdvance(t *testing.T) {
	var seen []model.Stage
	s := newSession("s1", "CAND_1", model.ChallengeLookCenter, func(st Status) {
		seen = append(seen, st.Stage)
	})

	require.NoError(t, s.advance(model.StageProfileUpload, model.StageIDUpload, "next"))

	err := s.advance(model.StageIDUpload, model.StageVerified, "skip")
	assert.True(t, IsKind(err, KindInvalidStage))
	assert.Equal(t, model.StageIDUpload, s.Stage())

	err = s.advance(model.StageProfileUpload, model.StageIDUpload, "again")
	assert.True(t, IsKind(err, KindInvalidStage))

	require.NoError(t, s.advance(model.StageIDUpload, model.StageLiveChallenge, "live"))
	require.NoError(t, s.advance(model.StageLiveChallenge, model.StageVerified, "done"))

	assert.Equal(t, []model.Stage{model.StageIDUpload, model.StageLiveChallenge, model.StageVerified}, seen)
	assert.Equal(t, "done", s.Status().Message)
}

func TestSessionFailIsFinal(t *testing.T) {
	s := newSession("s1", "CAND_1", model.ChallengeLookCenter, nil)

	s.fail("boom")
	assert.Equal(t, model.StageFailed, s.Stage())

	s.fail("again")
	assert.Equal(t, "boom", s.Status().Message)

	err := s.advance(model.StageFailed, model.StageVerified, "late")
	assert.True(t, IsKind(err, KindInvalidStage))
	assert.Equal(t, model.StageFailed, s.Stage())
}

func TestSessionLiveGuard(t *testing.T) {
	s := newSession("s1", "CAND_1", model.ChallengeLookCenter, nil)
	assert.True(t, IsKind(s.beginLive(), KindInvalidStage))

	s.stage = model.StageLiveChallenge
	require.NoError(t, s.beginLive())
	assert.True(t, IsKind(s.beginLive(), KindInvalidStage))

	s.endLive()
	require.NoError(t, s.beginLive())
	s.endLive()

	s.Discard()
	assert.True(t, IsKind(s.beginLive(), KindInvalidStage))
}
