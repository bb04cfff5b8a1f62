package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"sentinel/internal/auth"
	"sentinel/internal/capture"
	"sentinel/internal/config"
	"sentinel/internal/handshake"
	"sentinel/internal/service/app"
	"sentinel/internal/utils/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		cfgFile     string
		candidateID string
		profilePath string
		idPath      string
		framesPath  string
		attempts    int
		ui          bool
	)

	v := viper.New()

	cmd := &cobra.Command{
		Use:          "sentinel-client",
		Short:        "Run the biometric verification handshake for a candidate",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}

			if err := log.Init(cfg.JSON, cfg.Debug); err != nil {
				return fmt.Errorf("creating a logger: %w", err)
			}
			defer log.Sync()

			profile, err := os.ReadFile(profilePath)
			if err != nil {
				return fmt.Errorf("reading profile photo: %w", err)
			}
			id, err := os.ReadFile(idPath)
			if err != nil {
				return fmt.Errorf("reading id document: %w", err)
			}
			frames, err := capture.Open(framesPath)
			if err != nil {
				return fmt.Errorf("opening frames: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			authCtx := auth.New(cfg.Backend.URL, &http.Client{Timeout: cfg.Backend.Timeout}, log.L())

			a, err := app.NewApp(cfg, authCtx, app.WithAttempts(attempts), app.WithUI(ui))
			if err != nil {
				return err
			}

			res, err := a.Run(ctx, app.Request{
				CandidateID: candidateID,
				Documents: handshake.Documents{
					ProfilePhoto: profile,
					IDDocument:   id,
				},
				Frames: frames,
			})
			if err != nil {
				log.Error("verification failed", zap.Error(err))
				return err
			}

			log.Info("candidate verified",
				zap.String("candidate_id", res.CandidateID),
				zap.String("session_id", res.SessionID),
				zap.Float64("confidence", res.Confidence),
				zap.Int("frames_sent", res.FramesSent),
			)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "a config file (default is sentinel.yaml in current directory)")
	flags.StringVarP(&candidateID, "candidate", "c", "", "candidate id to verify")
	flags.StringVar(&profilePath, "profile", "", "reference portrait image")
	flags.StringVar(&idPath, "id", "", "government ID image")
	flags.StringVar(&framesPath, "frames", "", "camera frame image or directory of frames")
	flags.IntVar(&attempts, "attempts", 1, "handshakes to start before giving up")
	flags.BoolVar(&ui, "ui", false, "show a terminal status view")
	flags.String("backend", "", "verification backend base url")
	flags.BoolP("debug", "d", false, "verbose/debug output")
	flags.BoolP("json", "j", false, "json format for logging")

	for _, name := range []string{"candidate", "profile", "id", "frames"} {
		_ = cmd.MarkFlagRequired(name)
	}

	v.BindPFlag("backend.url", flags.Lookup("backend"))
	v.BindPFlag("debug", flags.Lookup("debug"))
	v.BindPFlag("json", flags.Lookup("json"))

	return cmd
}
