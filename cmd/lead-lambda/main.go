// Command lead-lambda serves the ingestion service behind API Gateway.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/AnarchoFatSats/comercial-mva/pkg/config"
	"github.com/AnarchoFatSats/comercial-mva/pkg/ingest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.Info("lead ingestion: cold start")

	svc, _, err := ingest.Open(context.Background(), cfg, nil)
	if err != nil {
		slog.Error("ingest", "error", err)
		os.Exit(1)
	}

	h := &Handler{Service: svc, APIKey: cfg.Ingest.APIKey}
	lambda.Start(h.Handle)
}
