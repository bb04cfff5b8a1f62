package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/repository/verification"
	redisSvc "sentinel/internal/service/redis"
	"sentinel/internal/service/server"
	"sentinel/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgFile string

	v := viper.New()

	cmd := &cobra.Command{
		Use:          "sentinel-server",
		Short:        "Reference backend for the biometric verification handshake",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}

			if err := log.Init(cfg.JSON, cfg.Debug); err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mongoDBClient, err := initMongo(ctx, cfg.Mongo.URI)
			if err != nil {
				log.Fatal("connect mongo failed", zap.Error(err))
			}
			defer mongoDBClient.Disconnect(context.Background())

			db := mongoDBClient.Database(cfg.Mongo.Database)

			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer rdb.Close()

			redis := redisSvc.NewRedis(rdb)
			if err := redis.Ping(ctx); err != nil {
				log.Fatal("connect redis failed", zap.Error(err))
			}

			store := server.NewRedisStore(redis, cfg.Redis.TTL)
			repo := verification.NewVerificationRepo(db)

			s := server.NewHttpServer(store, repo, server.Passthrough{})
			return s.Run(ctx, cfg.Server.Addr)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "a config file (default is sentinel.yaml in current directory)")
	flags.String("addr", "", "listen address")
	flags.BoolP("debug", "d", false, "verbose/debug output")
	flags.BoolP("json", "j", false, "json format for logging")

	v.BindPFlag("server.addr", flags.Lookup("addr"))
	v.BindPFlag("debug", flags.Lookup("debug"))
	v.BindPFlag("json", flags.Lookup("json"))

	return cmd
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
