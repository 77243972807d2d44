package main

import (
	"context"
	"errors"
	"log/slog"
	"marketplace_ledger/internal/config"
	httpd "marketplace_ledger/internal/delivery/http"
	"marketplace_ledger/internal/repository"
	"marketplace_ledger/internal/usecase"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	store, err := repository.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		slog.Error("open db", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}

	processor := usecase.NewProcessor(store)
	tax := usecase.NewTaxUsecase(store)
	if err := tax.Load(context.Background()); err != nil {
		slog.Error("load tax rules", "error", err)
		store.Close()
		os.Exit(1)
	}

	h := httpd.NewHandler(store, httpd.Usecases{
		Ledger:     usecase.NewLedgerUsecase(store, processor),
		Settlement: usecase.NewSettlementUsecase(store, processor),
		Payouts:    usecase.NewPayoutUsecase(store, processor),
		Reversals:  usecase.NewReversalUsecase(store, processor),
		Tax:        tax,
		Reports:    usecase.NewReportingUsecase(store),
	})

	srv := &http.Server{
		Addr: ":" + cfg.AppPort,
		Handler: h.Routes(httpd.RouteConfig{
			Sig: httpd.SigConfig{
				Secret:        cfg.HMACSecret,
				MaxAgeSeconds: cfg.SigMaxAgeSeconds,
			},
			JWT:         httpd.JWTConfig{Secret: cfg.JWTSecret},
			PayoutRPS:   cfg.PayoutRateRPS,
			PayoutBurst: cfg.PayoutRateBurst,
			CORSOrigins: cfg.CORSOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server listening", "addr", srv.Addr, "db_driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown", "error", err)
	}

	if err := store.Close(); err != nil {
		slog.Error("close db", "error", err)
	}
	slog.Info("server exited")
}
