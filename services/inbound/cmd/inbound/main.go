package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"storeops/internal/ratelimit"
	"storeops/internal/servicetoken"
	"storeops/internal/util"
	"storeops/pkg/ai"
	"storeops/pkg/classify"
	"storeops/pkg/extract"
	"storeops/pkg/media"
	"storeops/pkg/notify"
	"storeops/pkg/ocr"
	"storeops/pkg/queue"
	"storeops/pkg/sheets"
	"storeops/pkg/storage"
	"storeops/pkg/store"
	"storeops/services/inbound/internal/app"
	"storeops/services/inbound/internal/config"
	"storeops/services/inbound/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup := util.InitLogger(cfg.LogLevel, "inbound", cfg.LogsDir)
	if cleanup != nil {
		defer cleanup()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = util.ContextWithLogger(ctx, logger)

	loc, err := cfg.Location()
	if err != nil {
		util.Fatal("invalid timezone", "err", err)
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init store", "err", err)
	}
	defer dataStore.Close()

	generator, err := ai.NewGenerator(ai.Config{
		Provider:    cfg.GenerationProvider,
		BaseURL:     cfg.GenerationBaseURL,
		APIKey:      cfg.GenerationAPIKey,
		Model:       cfg.GenerationModel,
		Temperature: cfg.GenerationTemperature,
		Timeout:     60 * time.Second,
	})
	if err != nil {
		util.Fatal("failed to init generator", "err", err)
	}

	ocrExtractor, err := buildOCR(ctx, cfg)
	if err != nil {
		util.Fatal("failed to init ocr", "err", err)
	}

	var mediaHandler app.MediaHandler
	if cfg.MinioEndpoint != "" {
		objects, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MediaPublicBaseURL,
		})
		if err != nil {
			util.Fatal("failed to init object storage", "err", err)
		}
		mediaHandler = media.NewHandler(cfg.WhatsAppGraphURL, cfg.WhatsAppAccessToken, objects, 30*time.Second)
	} else {
		logger.Warn("minio not configured, attachments will be skipped")
	}

	creds, err := os.ReadFile(cfg.SheetsCredentialsPath)
	if err != nil {
		util.Fatal("failed to read sheets credentials", "path", cfg.SheetsCredentialsPath, "err", err)
	}
	sheetsClient, err := sheets.NewServiceAccountClient(ctx, creds, cfg.SheetsBaseURL)
	if err != nil {
		util.Fatal("failed to init sheets client", "err", err)
	}

	sender, err := notify.NewWhatsAppSender(notify.WhatsAppConfig{
		GraphURL:      cfg.WhatsAppGraphURL,
		AccessToken:   cfg.WhatsAppAccessToken,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		RatePerSecond: cfg.WhatsAppSendRatePerSecond,
	})
	if err != nil {
		util.Fatal("failed to init whatsapp sender", "err", err)
	}

	jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueName,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
	})
	if err != nil {
		util.Fatal("failed to init job queue", "err", err)
	}
	defer jobQueue.Close()

	var insights ai.TextGenerator
	if cfg.SummaryInsights {
		insights = generator
	}
	appCore, err := app.New(app.Config{
		Store:              dataStore,
		Classifier:         classify.New(generator),
		ClassifierFallback: cfg.ClassifierFallback,
		Media:              mediaHandler,
		OCR:                ocrExtractor,
		Extractor:          extract.New(generator),
		Sink:               sheets.NewRouter(sheetsClient),
		Notifier:           sender,
		Insights:           insights,
		Queue:              jobQueue,
		Location:           loc,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	keyPaths, err := servicetoken.ParseKeyPaths(cfg.IngressJWTVerifyPublicKeys)
	if err != nil {
		util.Fatal("failed to parse ingress verify public keys", "err", err)
	}
	verifier, err := servicetoken.NewVerifier(servicetoken.VerifierOptions{
		PublicKeyPath:  cfg.IngressJWTPublicKeyPath,
		KeyPaths:       keyPaths,
		DefaultKeyID:   cfg.IngressJWTKeyID,
		Audience:       servicetoken.AudienceInbound,
		AllowedIssuers: cfg.IngressAllowedIssuers,
	})
	if err != nil {
		util.Fatal("failed to init ingress verifier", "err", err)
	}

	var limiter server.SenderLimiter
	if cfg.SenderRateLimit > 0 {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		limiter, err = ratelimit.NewSenderLimiter(rdb, ratelimit.DefaultPrefix, cfg.SenderRateLimit,
			time.Duration(cfg.SenderRateWindowSeconds)*time.Second)
		if err != nil {
			util.Fatal("failed to init sender rate limit", "err", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:      appCore,
		Verifier: verifier,
		Limiter:  limiter,
		Ready:    jobQueue.Ping,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	jobQueue.Start(ctx, cfg.QueueConcurrency, appCore.HandleJob)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("inbound server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return appCore.RunExpirySweeper(gctx, cfg.ExpirySweepSchedule)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}

func buildOCR(ctx context.Context, cfg config.FileConfig) (ocr.Extractor, error) {
	timeout := time.Duration(cfg.OCRTimeoutSeconds) * time.Second
	var base ocr.Extractor
	switch strings.ToLower(strings.TrimSpace(cfg.OCRProvider)) {
	case "vision":
		v, err := ocr.NewVisionExtractor(ctx, cfg.VisionAPIKey, cfg.VisionBaseURL, timeout)
		if err != nil {
			return nil, err
		}
		base = v
	case "command":
		c, err := ocr.NewCommandExtractor(cfg.OCRCommand, cfg.OCRArgs, timeout)
		if err != nil {
			return nil, err
		}
		base = c
	default:
		base = ocr.Nop{}
	}
	return ocr.NewPDFExtractor(base), nil
}
