package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/starledger/internal/chain"
	"github.com/punchamoorthee/starledger/internal/config"
	"github.com/punchamoorthee/starledger/internal/gateway"
	"github.com/punchamoorthee/starledger/internal/logging"
	"github.com/punchamoorthee/starledger/internal/notify"
	"github.com/punchamoorthee/starledger/internal/rates"
	"github.com/punchamoorthee/starledger/internal/reconcile"
	"github.com/punchamoorthee/starledger/internal/store"
	"github.com/punchamoorthee/starledger/internal/worker"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Development: cfg.IsDevelopment()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Reconciler stopped")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		return err
	}
	defer st.Close()

	var notifier notify.Notifier = notify.Noop{}
	if cfg.NatsURL != "" {
		pub, err := notify.Connect(cfg.NatsURL, "starledger-reconciler")
		if err != nil {
			return err
		}
		defer pub.Close()
		notifier = pub
	}

	cache := rates.NewCache(rates.NewCoinGecko(cfg.RateAPIURL), st, cfg.RateTTL)
	payments := reconcile.NewPaymentChecker(
		st,
		gateway.NewYooKassa(cfg.YooKassaAPIURL, cfg.YooKassaShopID, cfg.YooKassaSecretKey),
		notifier,
		cfg.PaymentReturnURL,
	)

	sup := worker.NewSupervisor()
	if err := sup.Register("rate_refresh", cfg.RateRefreshInterval, cache.Refresh); err != nil {
		return err
	}
	if err := sup.Register("payment_sweep", cfg.PaymentSweepInterval, payments.Sweep); err != nil {
		return err
	}
	if cfg.TonDepositAddress != "" {
		feed := chain.NewClient(chain.Options{
			BaseURL:           cfg.TonAPIBaseURL,
			Address:           cfg.TonDepositAddress,
			APIKey:            cfg.TonAPIKey,
			RequestsPerSecond: cfg.TonRequestsPerSecond,
		})
		deposits := reconcile.NewDepositReconciler(st, feed, cache, notifier, cfg.TonPageSize, cfg.MinDeposit())
		if err := sup.Register("ton_deposits", cfg.TonPollInterval, deposits.Run); err != nil {
			return err
		}
	} else {
		log.Warn("TON_DEPOSIT_ADDRESS is not set, crypto deposit reconciliation is disabled")
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sup.Start()
	log.Info("Reconciler started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down reconciler")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stopErr := sup.Stop(shutdownCtx)
		return errors.Join(stopErr, srv.Shutdown(shutdownCtx))
	})
	return g.Wait()
}
