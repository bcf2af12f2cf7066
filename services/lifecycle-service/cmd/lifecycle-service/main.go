package main

import (
	"context"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/bookingflow/libs/config"
	"github.com/md-rashed-zaman/bookingflow/libs/httpx"
	otelx "github.com/md-rashed-zaman/bookingflow/libs/otel"
	"github.com/md-rashed-zaman/bookingflow/libs/runtime"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/app"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/handlers"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "lifecycle-service")
	port, err := config.Port("PORT", "8090")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	cfg, err := app.ConfigFromEnv(service)
	if err != nil {
		panic(err)
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		panic(err)
	}
	defer a.Close()
	a.Start(ctx)

	mux := runtime.NewBaseMuxWithReady(a.Checks...)
	handlers.New(a.Service, logger, handlers.Config{
		StripeWebhookSecret:           cfg.StripeWebhookSecret,
		StripeWebhookToleranceSeconds: cfg.StripeWebhookToleranceSeconds,
	}).Register(mux, a.WebhookLimiter())

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(2<<20),
		httpx.WithTimeout(30*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "lifecycle")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "storage", cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
