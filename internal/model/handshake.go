package model

type (
	Stage     string
	Challenge string
)

const (
	StageProfileUpload Stage = "profile_upload"
	StageIDUpload      Stage = "id_upload"
	StageLiveChallenge Stage = "live_challenge"
	StageVerified      Stage = "verified"
	StageFailed        Stage = "failed"
)

const (
	ChallengeLookCenter Challenge = "look_center"
	ChallengeLookLeft   Challenge = "look_left"
	ChallengeLookRight  Challenge = "look_right"
	ChallengeLookUp     Challenge = "look_up"
	ChallengeLookDown   Challenge = "look_down"
	ChallengeTurnLeft   Challenge = "turn_left"
	ChallengeTurnRight  Challenge = "turn_right"
)

// Terminal reports whether no transition leaves the stage.
func (s Stage) Terminal() bool {
	return s == StageVerified || s == StageFailed
}

// order is the position of a stage in the handshake; failed shares the last
// slot with verified since both end the session.
func (s Stage) order() int {
	switch s {
	case StageProfileUpload:
		return 0
	case StageIDUpload:
		return 1
	case StageLiveChallenge:
		return 2
	case StageVerified, StageFailed:
		return 3
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next keeps the stage
// monotonic.
func (s Stage) CanAdvanceTo(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return s.order() >= 0
	}
	return next.order() == s.order()+1 || (next == s && s == StageLiveChallenge)
}
