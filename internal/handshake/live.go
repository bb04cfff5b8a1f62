package handshake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"sentinel/internal/capture"
	"sentinel/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

type (
	// Result is the outcome of a verified handshake.
	Result struct {
		SessionID   string
		CandidateID string
		Verified    bool
		Confidence  float64
		Message     string
		FramesSent  int
	}

	liveOutcome struct {
		result *Result
		err    error
	}

	liveLoop struct {
		session *Session
		conn    *websocket.Conn
		source  capture.Source
		logger  *zap.Logger

		// sendMu guards stopped and every frame write, so no frame leaves
		// after a terminal message or cancellation was applied.
		sendMu  sync.Mutex
		stopped bool

		framesSent   int
		ticksSkipped int

		outcome chan liveOutcome
	}
)

// RunLiveChallenge opens the live channel for s and streams frames from
// source until the backend verifies the session, reports a terminal failure,
// the connection drops, or ctx is cancelled. Cancellation discards the
// session.
func (c *Client) RunLiveChallenge(ctx context.Context, s *Session, source capture.Source) (*Result, error) {
	if err := s.beginLive(); err != nil {
		return nil, err
	}
	defer s.endLive()

	header := http.Header{}
	c.setHeaders(header)

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, _, err := c.dialer.DialContext(dialCtx, c.liveURL(), header)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			s.Discard()
			return nil, fmt.Errorf("live challenge abandoned: %w", ctx.Err())
		}
		s.fail("Could not open the live verification channel")
		return nil, newError(KindConnectionFailed, model.StageLiveChallenge, "opening live connection", err)
	}

	s.setMessage("Target position: " + humanize(s.Challenge()))

	l := &liveLoop{
		session: s,
		conn:    conn,
		source:  source,
		logger:  c.logger.With(zap.String("session_id", s.ID())),
		outcome: make(chan liveOutcome, 1),
	}

	return l.run(ctx, c.frameInterval)
}

func (l *liveLoop) run(ctx context.Context, interval time.Duration) (*Result, error) {
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		l.read()
	}()

	ticker := time.NewTicker(interval)

	var out liveOutcome
loop:
	for {
		select {
		case <-ctx.Done():
			l.stop()
			select {
			case out = <-l.outcome:
			default:
				l.session.Discard()
				out = liveOutcome{err: fmt.Errorf("live challenge abandoned: %w", ctx.Err())}
			}
			break loop
		case out = <-l.outcome:
			break loop
		case <-ticker.C:
			if err := l.tick(ctx); err != nil {
				out = l.connectionLost(err)
				break loop
			}
			// Skip ticks that fired while the previous capture was in flight.
			select {
			case <-ticker.C:
				l.ticksSkipped++
			default:
			}
		}
	}

	ticker.Stop()
	l.close()
	<-readerDone

	l.logger.Debug("live challenge finished",
		zap.Int("frames_sent", l.framesSent),
		zap.Int("ticks_skipped", l.ticksSkipped),
		zap.Error(out.err),
	)

	if out.result != nil {
		out.result.FramesSent = l.framesSent
	}
	return out.result, out.err
}

func (l *liveLoop) tick(ctx context.Context) error {
	if l.isStopped() || ctx.Err() != nil {
		return nil
	}

	frame, err := l.source.Capture(ctx)
	if err != nil || len(frame) == 0 {
		l.logger.Debug("no frame captured", zap.Error(err))
		return nil
	}

	data, err := json.Marshal(&model.FrameMessage{
		Type:      model.MessageTypeHandshakeFrame,
		SessionID: l.session.ID(),
		Frame:     capture.EncodeDataURL(frame),
	})
	if err != nil {
		return err
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	if l.stopped {
		return nil
	}

	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	l.framesSent++
	return nil
}

func (l *liveLoop) read() {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if l.isStopped() {
				return
			}
			l.deliver(l.connectionLost(err))
			return
		}

		var msg model.ResultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			l.logger.Error("unmarshal message failed", zap.Error(err))
			continue
		}

		if msg.Type != model.MessageTypeHandshakeResult {
			l.logger.Debug("ignoring message", zap.String("type", msg.Type))
			continue
		}

		if l.apply(msg.Data) {
			return
		}
	}
}

// apply handles one handshake_result payload and reports whether it ended
// the live stage.
func (l *liveLoop) apply(res model.ResultData) bool {
	s := l.session

	switch {
	case res.Status == model.ResultStatusProgressing && res.NextChallenge != "":
		s.setChallenge(res.NextChallenge, "Target position: "+humanize(res.NextChallenge))
		l.logger.Debug("challenge progressed", zap.String("challenge", string(res.NextChallenge)))
		return false

	case res.Verified:
		message := res.Message
		if message == "" {
			message = "Verification complete"
		}

		var advanceErr error
		l.terminate(func() func() {
			notify, err := s.moveTo(model.StageLiveChallenge, model.StageVerified, message)
			advanceErr = err
			return notify
		})
		if advanceErr != nil {
			l.deliver(liveOutcome{err: advanceErr})
			return true
		}

		l.logger.Info("handshake verified", zap.Float64("confidence", res.Confidence))
		l.deliver(liveOutcome{result: &Result{
			SessionID:   s.ID(),
			CandidateID: s.CandidateID(),
			Verified:    true,
			Confidence:  res.Confidence,
			Message:     message,
		}})
		return true

	case res.Status == model.ResultStatusFailed:
		message := res.Error
		if message == "" {
			message = "Verification failed"
		}

		l.terminate(func() func() {
			return s.markFailed(message)
		})

		l.logger.Warn("handshake failed", zap.String("reason", message))
		l.deliver(liveOutcome{err: newError(KindChallengeError, model.StageLiveChallenge, message, nil)})
		return true

	case res.Error != "":
		// Errors without a terminal status are notices; the stream goes on.
		s.notice(res.CurrentChallenge, res.Error, newError(KindChallengeError, model.StageLiveChallenge, res.Error, nil))
		l.logger.Debug("challenge notice", zap.String("error", res.Error))
		return false

	default:
		l.logger.Debug("ignoring handshake result", zap.String("status", res.Status))
		return false
	}
}

func (l *liveLoop) connectionLost(err error) liveOutcome {
	l.terminate(func() func() {
		return l.session.markFailed("Live verification channel closed unexpectedly")
	})
	l.logger.Warn("live connection lost", zap.Error(err))
	return liveOutcome{err: newError(KindConnectionFailed, model.StageLiveChallenge, "live connection lost", err)}
}

// terminate stops frame sending and applies fn while no write can be in
// flight. The notification fn returns runs after sendMu is released.
func (l *liveLoop) terminate(fn func() func()) {
	l.sendMu.Lock()
	l.stopped = true
	notify := fn()
	l.sendMu.Unlock()

	if notify != nil {
		notify()
	}
}

func (l *liveLoop) deliver(out liveOutcome) {
	select {
	case l.outcome <- out:
	default:
	}
}

func (l *liveLoop) stop() {
	l.sendMu.Lock()
	l.stopped = true
	l.sendMu.Unlock()
}

func (l *liveLoop) isStopped() bool {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	return l.stopped
}

func (l *liveLoop) close() {
	l.stop()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	l.conn.Close()
}
