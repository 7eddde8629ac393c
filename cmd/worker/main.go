package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/imrishuroy/tshirt-orderflow/internal/aws"
	"github.com/imrishuroy/tshirt-orderflow/internal/config"
	"github.com/imrishuroy/tshirt-orderflow/internal/objectstore"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if cfg.AssetsBucket == "" {
		logger.Error("ASSETS_BUCKET is required")
		os.Exit(1)
	}

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Error("failed to init aws clients", "err", err)
		os.Exit(1)
	}
	objects := objectstore.New(clients.S3, s3.NewPresignClient(clients.S3), cfg.AssetsBucket,
		objectstore.WithLogger(logger),
	)
	p := NewProcessor(objects, logger)

	// If RUN_LOCAL=true, process a single simulated SQS event and exit.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			logger.Error("LOCAL_SQS_BODY is required with RUN_LOCAL")
			os.Exit(1)
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		}
		resp, _ := p.Handle(context.Background(), event)
		if len(resp.BatchItemFailures) > 0 {
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}
