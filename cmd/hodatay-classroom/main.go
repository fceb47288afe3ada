package main

import (
	"context"
	"errors"
	stdlog "log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"

	"github.com/kgellert/hodatay-classroom/internal/channels"
	channelshandler "github.com/kgellert/hodatay-classroom/internal/channels/handler"
	channelsservice "github.com/kgellert/hodatay-classroom/internal/channels/service"
	appConfig "github.com/kgellert/hodatay-classroom/internal/config"
	confighandler "github.com/kgellert/hodatay-classroom/internal/config/handler"
	"github.com/kgellert/hodatay-classroom/internal/http-server/router"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/handlers/slogpretty"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/sl"
	"github.com/kgellert/hodatay-classroom/internal/messages"
	messageshandler "github.com/kgellert/hodatay-classroom/internal/messages/handler"
	messagesservice "github.com/kgellert/hodatay-classroom/internal/messages/service"
	"github.com/kgellert/hodatay-classroom/internal/storage/memory"
	"github.com/kgellert/hodatay-classroom/internal/storage/postgres"
	uploadshandler "github.com/kgellert/hodatay-classroom/internal/uploads/handler"
	uploadsservice "github.com/kgellert/hodatay-classroom/internal/uploads/service"
	userhandlers "github.com/kgellert/hodatay-classroom/internal/users/handlers"
	usersrepo "github.com/kgellert/hodatay-classroom/internal/users/repo"
	"github.com/kgellert/hodatay-classroom/internal/ws/hub"
)

const (
	envLocal = "local"
	envDev   = "dev"
)

type store interface {
	channels.Repo
	messages.Repo
}

func main() {
	if err := godotenv.Load("infra/.env"); err != nil {
		stdlog.Println("No .env file found, skipping...")
	}

	cfg := appConfig.MustLoad()

	log := setupLogger(cfg.Env)
	log.Info("starting hodatay-classroom", slog.String("env", cfg.Env), slog.String("storage", cfg.Storage))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		log.Error("failed to init storage", sl.Err(err))
		os.Exit(1)
	}
	defer closeStore()

	h := hub.NewHub()
	go h.Run()
	defer h.Stop()

	roster := usersrepo.Seed()

	channelsSvc := channelsservice.New(st, log)
	messagesSvc := messagesservice.New(st, st, roster, h, messagesservice.Limits{
		MaxAttachments: cfg.Messages.MaxAttachments,
		MaxTextLength:  cfg.Messages.MaxTextLength,
	}, log)

	uh, err := setupUploads(ctx, cfg.Uploads, log)
	if err != nil {
		log.Error("failed to load aws config", sl.Err(err))
		os.Exit(1)
	}

	handler := router.New(router.Deps{
		Log:      log,
		Users:    userhandlers.New(roster, log),
		Channels: channelshandler.New(channelsSvc, log),
		Messages: messageshandler.New(messagesSvc, log),
		Authz:    messagesSvc,
		Uploads:  uh,
		Config:   confighandler.New(*cfg, log),
		Hub:      h,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown server", sl.Err(err))
		}
	}()

	log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to start server", sl.Err(err))
	}

	log.Info("server stopped")
}

func openStorage(ctx context.Context, cfg *appConfig.Config) (store, func(), error) {
	if cfg.Storage == appConfig.StorageMemory {
		return memory.New(), func() {}, nil
	}

	st, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

// setupUploads returns nil when no bucket is configured.
func setupUploads(ctx context.Context, cfg appConfig.UploadsConfig, log *slog.Logger) (*uploadshandler.UploadsHandler, error) {
	if cfg.Bucket == "" {
		log.Warn("uploads disabled, S3_BUCKET is not set")
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	svc := uploadsservice.New(s3.NewPresignClient(s3Client), s3Client, uploadsservice.Options{
		Bucket:          cfg.Bucket,
		TTL:             cfg.PresignTTL,
		MaxImageSize:    cfg.MaxImageSize,
		MaxDocumentSize: cfg.MaxDocumentSize,
	})

	return uploadshandler.New(svc, log), nil
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return setupPrettySlog()
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}
