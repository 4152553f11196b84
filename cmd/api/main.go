package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/vps-orderflow/internal/app"
	"github.com/imrishuroy/vps-orderflow/internal/config"
	"github.com/imrishuroy/vps-orderflow/internal/handlers"
	"github.com/imrishuroy/vps-orderflow/internal/web"
)

const shutdownGrace = 10 * time.Second

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(cfg.Logger))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterOrdersRoutes(r, cfg)
	r.NoRoute(web.Fallback(web.Static()))

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg.LogLevel, "api")
	if err := cfg.ValidateAPI(); err != nil {
		logger.Error("invalid configuration", "err", err)
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, "api")
	if err != nil {
		log.Fatalf("init app: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	r := setupRouter(handlers.HandlerConfig{
		Workflow:     a.Controller,
		Plans:        a.Catalog,
		Logger:       logger,
		SupportEmail: cfg.SupportEmail,
	})

	// RUN_LOCAL=true serves HTTP directly for development.
	if cfg.RunLocal {
		if err := serve(ctx, r, cfg.HTTPAddr, logger); err != nil {
			log.Fatalf("local server: %v", err)
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func serve(ctx context.Context, h http.Handler, addr string, logger *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
