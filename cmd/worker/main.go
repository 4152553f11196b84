package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/vps-orderflow/internal/app"
	"github.com/imrishuroy/vps-orderflow/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg.LogLevel, "worker")
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger, "worker")
	if err != nil {
		log.Fatalf("init app: %v", err)
	}
	p := NewProcessor(a.Controller, logger)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		body := localBody()
		resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}})
		if err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		if len(resp.BatchItemFailures) > 0 {
			log.Fatalf("local message failed: %s", body)
		}
		return
	}

	lambda.Start(p.Handle)
}
