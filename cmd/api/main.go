package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/punchamoorthee/starledger/internal/api"
	"github.com/punchamoorthee/starledger/internal/config"
	"github.com/punchamoorthee/starledger/internal/gateway"
	"github.com/punchamoorthee/starledger/internal/logging"
	"github.com/punchamoorthee/starledger/internal/notify"
	"github.com/punchamoorthee/starledger/internal/rates"
	"github.com/punchamoorthee/starledger/internal/reconcile"
	"github.com/punchamoorthee/starledger/internal/service"
	"github.com/punchamoorthee/starledger/internal/store"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Development: cfg.IsDevelopment()})

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := handleMigrationCommand(cfg.DBSource, os.Args[2:]); err != nil {
			log.WithError(err).Fatal("Migration failed")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("API server stopped")
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
		pub, err := notify.Connect(cfg.NatsURL, "starledger-api")
		if err != nil {
			return err
		}
		defer pub.Close()
		notifier = pub
	}

	cache := rates.NewCache(rates.NewCoinGecko(cfg.RateAPIURL), st, cfg.RateTTL)
	converter := rates.NewConverter(cache, st, cfg.DefaultStarPrice())
	payments := reconcile.NewPaymentChecker(
		st,
		gateway.NewYooKassa(cfg.YooKassaAPIURL, cfg.YooKassaShopID, cfg.YooKassaSecretKey),
		notifier,
		cfg.PaymentReturnURL,
	)
	accounts := service.NewLedgerService(st, notifier, service.Options{
		AdminID:       cfg.AdminID,
		StarPrice:     cfg.DefaultStarPrice(),
		ReferralBonus: cfg.DefaultReferralReward(),
	})

	handler := api.NewHandler(st, accounts, payments, cache, converter, api.Options{
		APIKey:         cfg.InternalAPIKey,
		StarPrice:      cfg.DefaultStarPrice(),
		ReferralReward: cfg.DefaultReferralReward(),
	})
	if cfg.InternalAPIKey == "" {
		log.Warn("INTERNAL_STARS_API_KEY is empty, every /api/v1 request will be rejected")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("API server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func handleMigrationCommand(dbURL string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: api migrate [up|down|status] [steps]")
	}

	switch args[0] {
	case "up":
		return store.MigrateUp(dbURL)
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid steps %q: %w", args[1], err)
			}
			steps = n
		}
		return store.MigrateDown(dbURL, steps)
	case "status":
		return store.MigrateStatus(dbURL)
	default:
		return fmt.Errorf("unknown migration command: %s", args[0])
	}
}
