package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/imrishuroy/tshirt-orderflow/internal/aws"
	"github.com/imrishuroy/tshirt-orderflow/internal/bgremove"
	"github.com/imrishuroy/tshirt-orderflow/internal/config"
	"github.com/imrishuroy/tshirt-orderflow/internal/handlers"
	"github.com/imrishuroy/tshirt-orderflow/internal/idempotency"
	"github.com/imrishuroy/tshirt-orderflow/internal/lifecycle"
	"github.com/imrishuroy/tshirt-orderflow/internal/objectstore"
	"github.com/imrishuroy/tshirt-orderflow/internal/orders"
)

// apiBase is where the order and helper routes are mounted.
const apiBase = "/api/tshirt"

func setupRouter(cfg handlers.HandlerConfig, reg *prometheus.Registry, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	// Client IPs come from the connection (API Gateway's source IP on Lambda),
	// never from X-Forwarded-For, so per-IP limits cannot be sidestepped.
	if err := r.SetTrustedProxies(nil); err != nil {
		logger.Warn("disable trusted proxies", "err", err)
	}
	r.Use(gin.Recovery())
	r.Use(handlers.RequestLogger(logger))
	r.Use(handlers.RequestMetrics(reg))

	handlers.RegisterSystemRoutes(r, reg)
	handlers.RegisterRoutes(r, apiBase, cfg)

	return r
}

func newLogger(local bool) *slog.Logger {
	if local {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.RunLocal)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Error("failed to init aws clients", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	objects := objectstore.New(clients.S3, s3.NewPresignClient(clients.S3), cfg.AssetsBucket,
		objectstore.WithURLTTL(cfg.SignedURLTTL),
		objectstore.WithLogger(logger),
		objectstore.WithRegisterer(reg),
	)

	var records lifecycle.RecordStore
	switch cfg.RecordBackend {
	case config.BackendS3:
		records = orders.NewBlobStore(objects)
	default:
		records = orders.NewDynamoStore(clients.DynamoDB, cfg.OrdersTable)
	}

	svcCfg := lifecycle.Config{
		Records: records,
		Objects: objects,
		Logger:  logger,
		URLTTL:  cfg.SignedURLTTL,
	}
	if cfg.CleanupQueueURL != "" {
		svcCfg.Compensator = lifecycle.NewQueueCompensator(aws.NewPublisher(clients.SQS, cfg.CleanupQueueURL), logger)
	}
	if cfg.MetricsNamespace != "" {
		svcCfg.Metrics = aws.NewMetricRecorder(clients.CloudWatch, cfg.MetricsNamespace, logger)
	}

	hcfg := handlers.HandlerConfig{
		Orders:               lifecycle.NewService(svcCfg),
		Remover:              bgremove.New(nil, cfg.DeepAIURL, cfg.DeepAIAPIKey, logger),
		Logger:               logger,
		MaxUploadBytes:       cfg.MaxUploadBytes,
		MaxHelperUploadBytes: cfg.MaxHelperUploadBytes,
		GlobalLimiter:        handlers.NewRateLimiter(cfg.GlobalLimit.Requests, cfg.GlobalLimit.Window, "too many requests, please try again later"),
		UploadLimiter:        handlers.NewRateLimiter(cfg.UploadLimit.Requests, cfg.UploadLimit.Window, "upload limit reached, please try again later"),
	}
	if cfg.IdempotencyTable != "" {
		hcfg.Idempotency = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, idempotency.DefaultTTL)
	}

	if cfg.RunLocal {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := setupRouter(hcfg, reg, logger)

	// RUN_LOCAL=true serves HTTP directly for development.
	if cfg.RunLocal {
		if err := serveLocal(r, ":"+cfg.Port, logger); err != nil {
			logger.Error("local server failed", "err", err)
			os.Exit(1)
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func serveLocal(h http.Handler, addr string, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("running local server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
