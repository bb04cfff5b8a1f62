package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"sentinel/internal/auth"
	"sentinel/internal/capture"
	"sentinel/internal/config"
	"sentinel/internal/handshake"
	"sentinel/internal/model"
	"sentinel/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type (
	// Request is what one verification run needs from the caller.
	Request struct {
		CandidateID string
		Documents   handshake.Documents
		Frames      capture.Source
	}

	App struct {
		screen  tcell.Screen
		statusV *tview.TextView
		logV    *tview.TextView
		redraw  chan struct{}

		client *handshake.Client
		auth   *auth.Context
		cfg    *config.Config

		attempts   int
		retryDelay time.Duration
		ui         bool
	}

	Option func(*App)
)

// WithAttempts sets how many handshakes are started before giving up.
func WithAttempts(n int) Option {
	return func(c *App) {
		if n > 0 {
			c.attempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(c *App) {
		c.retryDelay = d
	}
}

// WithUI renders the handshake status in a terminal view instead of logs.
func WithUI(ui bool) Option {
	return func(c *App) {
		c.ui = ui
	}
}

func NewApp(cfg *config.Config, authCtx *auth.Context, opts ...Option) (*App, error) {
	c := &App{
		auth:       authCtx,
		cfg:        cfg,
		attempts:   1,
		retryDelay: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	clientOpts := []handshake.Option{
		handshake.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		handshake.WithLogger(log.L()),
		handshake.WithObserver(c.observe),
		handshake.WithFrameInterval(cfg.Live.FrameInterval),
		handshake.WithDialTimeout(cfg.Live.DialTimeout),
	}
	if authCtx != nil {
		clientOpts = append(clientOpts, handshake.WithTokenSource(authCtx))
	}

	client, err := handshake.NewClient(cfg.Backend.URL, clientOpts...)
	if err != nil {
		return nil, err
	}
	c.client = client

	return c, nil
}

// Run signs in when credentials are configured, then verifies the candidate.
func (c *App) Run(ctx context.Context, req Request) (*handshake.Result, error) {
	if c.auth != nil && c.cfg.Auth != nil && c.cfg.Auth.Email != "" {
		if _, err := c.auth.Login(ctx, c.cfg.Auth.Email, c.cfg.Auth.Password); err != nil {
			return nil, err
		}
		defer c.auth.Logout()
	}

	if !c.ui {
		return c.verify(ctx, req)
	}
	return c.runUI(ctx, req)
}

// verify runs handshakes until one verifies or the attempts are used up.
// Only failures that a fresh session can fix are retried.
func (c *App) verify(ctx context.Context, req Request) (*handshake.Result, error) {
	var (
		session *handshake.Session
		lastErr error
	)

	for attempt := 1; attempt <= c.attempts; attempt++ {
		var err error
		if session == nil {
			session, err = c.client.Start(ctx, req.CandidateID)
		} else {
			session, err = c.client.Restart(ctx, session)
		}

		if err == nil {
			var res *handshake.Result
			res, err = c.client.Resume(ctx, session, req.Documents, req.Frames)
			if err == nil {
				return res, nil
			}
		}

		lastErr = err
		if !retryable(err) || attempt == c.attempts {
			break
		}

		log.Warn("handshake attempt failed, restarting",
			zap.Int("attempt", attempt),
			zap.Int("attempts", c.attempts),
			zap.Error(err),
		)

		if err := sleep(ctx, c.retryDelay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return handshake.IsKind(err, handshake.KindSessionInitFailed) ||
		handshake.IsKind(err, handshake.KindConnectionFailed) ||
		handshake.IsKind(err, handshake.KindChallengeError)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *App) observe(st handshake.Status) {
	fields := []zap.Field{
		zap.String("session_id", st.SessionID),
		zap.String("stage", string(st.Stage)),
		zap.String("challenge", string(st.Challenge)),
	}

	if c.logV == nil {
		if st.Err != nil {
			log.Warn(st.Message, fields...)
			return
		}
		log.Info(st.Message, fields...)
		return
	}

	// Text views lock themselves; the event loop only needs a redraw.
	c.statusV.SetText(fmt.Sprintf("[::b]Stage:[-] %s\n[::b]Challenge:[-] %s\n[::b]Session:[-] %s",
		st.Stage, st.Challenge, st.SessionID))

	color := "white"
	switch {
	case st.Err != nil, st.Stage == model.StageFailed:
		color = "red"
	case st.Stage == model.StageVerified:
		color = "green"
	}
	fmt.Fprintf(c.logV, "[%s]%s[-]\n", color, tview.Escape(st.Message))

	select {
	case c.redraw <- struct{}{}:
	default:
	}
}

// runUI blocks until the handshake finishes or the user quits with Esc.
func (c *App) runUI(ctx context.Context, req Request) (*handshake.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app := tview.NewApplication()
	if c.screen != nil {
		app.SetScreen(c.screen)
	}

	c.statusV = tview.NewTextView().SetDynamicColors(true)
	c.statusV.SetBorder(true).SetTitle(" Sentinel handshake ")

	c.logV = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.logV.SetBorder(true).SetTitle(" Messages (Esc to abort) ")
	c.logV.ScrollToEnd()

	c.redraw = make(chan struct{}, 1)
	defer func() {
		c.statusV, c.logV, c.redraw = nil, nil, nil
	}()

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyCtrlC {
			cancel()
			app.Stop()
			return nil
		}
		return event
	})

	// Stop is a no-op until Run has set up the screen, so the handshake
	// waits for the first draw.
	started := make(chan struct{})
	var once sync.Once
	app.SetAfterDrawFunc(func(tcell.Screen) {
		once.Do(func() { close(started) })
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.statusV, 5, 0, false).
		AddItem(c.logV, 0, 1, true)

	uiDone := make(chan struct{})
	go func(redraw <-chan struct{}) {
		for {
			select {
			case <-uiDone:
				return
			case <-redraw:
				app.Draw()
			}
		}
	}(c.redraw)

	var (
		res *handshake.Result
		err error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-started:
		case <-uiDone:
			return
		}
		res, err = c.verify(ctx, req)
		app.Stop()
	}()

	uiErr := app.SetRoot(layout, true).SetFocus(c.logV).Run()
	close(uiDone)

	// The view may stop before the handshake, e.g. on Esc.
	cancel()
	<-done

	if uiErr != nil {
		return nil, fmt.Errorf("running status view: %w", uiErr)
	}
	if res == nil && err == nil {
		return nil, ctx.Err()
	}
	return res, err
}
