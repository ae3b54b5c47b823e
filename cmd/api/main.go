package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/bookpay/internal/api"
	"github.com/punchamoorthee/bookpay/internal/config"
	"github.com/punchamoorthee/bookpay/internal/gateway"
	"github.com/punchamoorthee/bookpay/internal/idempotency"
	"github.com/punchamoorthee/bookpay/internal/logging"
	"github.com/punchamoorthee/bookpay/internal/service"
	"github.com/punchamoorthee/bookpay/internal/store"
	"github.com/punchamoorthee/bookpay/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTELEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	db, err := store.NewPostgres(ctx, cfg.DBSource, cfg.TxMaxRetries, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	// Initialize Layers
	client := gateway.NewClient(gateway.Config{
		URI:        cfg.PaymentURI,
		ShopID:     cfg.PaymentShopID,
		Secret:     cfg.PaymentSecret,
		Currency:   cfg.PaymentCurrency,
		MethodType: cfg.PaymentMethodType,
		Timeout:    cfg.PaymentHTTPTimeout,
	}, logger, gateway.WithTracer(tracer))

	queue := service.NewPendingQueue()
	settlement := service.NewSettlement(logger)
	topUp := service.NewTopUpService(db, client, idempotency.NewCache(cfg.DedupWindow), queue, tracer, logger)
	checkout := service.NewCheckout(db, topUp, settlement, cfg.RedirectURICart, tracer, logger)
	accounts := service.NewAccounts(db)
	poller := service.NewPoller(db, client, queue, settlement, service.PollerConfig{
		Interval:    cfg.PollInterval,
		MaxFailures: cfg.PollMaxFailures,
	}, tracer, logger)

	if _, err := poller.Recover(ctx); err != nil {
		return err
	}

	handler := api.NewHandler(topUp, checkout, accounts, cfg.RedirectURIBalance, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := poller.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		topUp.Close()
		return err
	})

	return g.Wait()
}
