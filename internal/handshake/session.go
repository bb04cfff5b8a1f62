package handshake

import (
	"fmt"
	"strings"
	"sync"

	"sentinel/internal/model"
)

type (
	// Status is the latest known stage and human readable message of a
	// session. Err is set for non-fatal notices reported by the backend.
	Status struct {
		SessionID string
		Stage     model.Stage
		Challenge model.Challenge
		Message   string
		Err       error
	}

	Observer func(Status)

	// Session is one verification attempt. It is owned by the flow that
	// created it; the mutex only serializes the live stage reader and writer.
	Session struct {
		mu sync.Mutex

		id          string
		candidateID string
		challenge   model.Challenge
		stage       model.Stage
		message     string

		discarded bool
		live      bool

		observer Observer
	}
)

func newSession(id, candidateID string, challenge model.Challenge, observer Observer) *Session {
	return &Session{
		id:          id,
		candidateID: candidateID,
		challenge:   challenge,
		stage:       model.StageProfileUpload,
		observer:    observer,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) CandidateID() string {
	return s.candidateID
}

func (s *Session) Stage() model.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

func (s *Session) Challenge() model.Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenge
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(nil)
}

// Discard abandons the session. Every later operation on it fails.
func (s *Session) Discard() {
	s.mu.Lock()
	s.discarded = true
	s.mu.Unlock()
}

func (s *Session) Discarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discarded
}

func (s *Session) statusLocked(err error) Status {
	return Status{
		SessionID: s.id,
		Stage:     s.stage,
		Challenge: s.challenge,
		Message:   s.message,
		Err:       err,
	}
}

// change runs fn under the lock and returns a func that notifies the
// observer with the resulting status. Callers holding other locks run it once
// they are released.
func (s *Session) change(fn func() error, notice error) (func(), error) {
	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	st := s.statusLocked(notice)
	observer := s.observer
	s.mu.Unlock()

	return func() {
		if observer != nil {
			observer(st)
		}
	}, nil
}

func (s *Session) update(fn func() error, notice error) error {
	notify, err := s.change(fn, notice)
	if err != nil {
		return err
	}
	notify()
	return nil
}

func (s *Session) checkLocked(stage model.Stage) error {
	if s.discarded {
		return newError(KindInvalidStage, s.stage, fmt.Sprintf("session %s was discarded", s.id), nil)
	}
	if s.stage != stage {
		return newError(KindInvalidStage, s.stage, fmt.Sprintf("operation requires stage %s", stage), nil)
	}
	return nil
}

func (s *Session) expect(stage model.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked(stage)
}

func (s *Session) advance(from, to model.Stage, message string) error {
	notify, err := s.moveTo(from, to, message)
	if err != nil {
		return err
	}
	notify()
	return nil
}

// moveTo is advance without the observer call.
func (s *Session) moveTo(from, to model.Stage, message string) (func(), error) {
	return s.change(func() error {
		if err := s.checkLocked(from); err != nil {
			return err
		}
		if !s.stage.CanAdvanceTo(to) {
			return newError(KindInvalidStage, s.stage, fmt.Sprintf("cannot move to %s", to), nil)
		}
		s.stage = to
		s.message = message
		return nil
	}, nil)
}

func (s *Session) fail(message string) {
	s.markFailed(message)()
}

// markFailed is fail without the observer call.
func (s *Session) markFailed(message string) func() {
	notify, _ := s.change(func() error {
		if s.stage.Terminal() {
			return nil
		}
		s.stage = model.StageFailed
		s.message = message
		return nil
	}, nil)
	return notify
}

func (s *Session) setMessage(message string) {
	_ = s.update(func() error {
		s.message = message
		return nil
	}, nil)
}

func (s *Session) setChallenge(challenge model.Challenge, message string) {
	_ = s.update(func() error {
		s.challenge = challenge
		s.message = message
		return nil
	}, nil)
}

func (s *Session) notice(challenge model.Challenge, message string, err error) {
	_ = s.update(func() error {
		if challenge != "" {
			s.challenge = challenge
		}
		s.message = message
		return nil
	}, err)
}

// beginLive marks the live connection as open. Only one live connection may
// exist per session.
func (s *Session) beginLive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(model.StageLiveChallenge); err != nil {
		return err
	}
	if s.live {
		return newError(KindInvalidStage, s.stage, "live connection already open", nil)
	}
	s.live = true
	return nil
}

func (s *Session) endLive() {
	s.mu.Lock()
	s.live = false
	s.mu.Unlock()
}

// humanize turns look_left into LOOK LEFT.
func humanize(c model.Challenge) string {
	return strings.ToUpper(strings.ReplaceAll(string(c), "_", " "))
}
