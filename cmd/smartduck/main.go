// Command smartduck runs the trading-agent service: the websocket chat
// endpoint, the REST API, and everything behind them.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/h-sameri/smart-duck/internal/bot"
	"github.com/h-sameri/smart-duck/internal/brain"
	"github.com/h-sameri/smart-duck/internal/chain"
	"github.com/h-sameri/smart-duck/internal/config"
	"github.com/h-sameri/smart-duck/internal/ephemeral"
	"github.com/h-sameri/smart-duck/internal/httpapi"
	"github.com/h-sameri/smart-duck/internal/logging"
	"github.com/h-sameri/smart-duck/internal/market"
	"github.com/h-sameri/smart-duck/internal/session"
	"github.com/h-sameri/smart-duck/internal/store"
	"github.com/h-sameri/smart-duck/internal/trade"
	"github.com/h-sameri/smart-duck/internal/transport"
	"github.com/h-sameri/smart-duck/internal/version"
)

func main() {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logging.New(os.Getenv("DEV_LOGGING") == "1")
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting smart-duck", zap.String("version", version.String()))
	if err := run(cfg, log); err != nil {
		log.Fatal("service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer registry.Close()

	var eph ephemeral.Store
	if cfg.RedisAddr != "" {
		redisStore, err := ephemeral.NewRedisStore(ctx, cfg.RedisAddr, "smartduck")
		if err != nil {
			return err
		}
		defer redisStore.Close()
		eph = redisStore
		log.Info("using redis ephemeral store", zap.String("addr", cfg.RedisAddr))
	} else {
		memStore := ephemeral.NewMemoryStore()
		defer memStore.Close()
		eph = memStore
		log.Info("using in-process ephemeral store")
	}

	chainClient, err := chain.NewClient(cfg.RPCURL, cfg.ChainID)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	prices := market.NewClient(cfg.CoinGeckoBaseURL, cfg.CoinGeckoAPIKey, log.Named("market"))
	prices.WarmEssential(ctx)

	engine := brain.NewEngine(
		brain.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIModel, log.Named("brain")),
		prices,
		log.Named("brain"))

	wallets := bot.NewWallets(cfg.MasterKey)
	balances := chain.NewBalanceReader(chainClient)
	coordinator := chain.NewCoordinator(chainClient, log.Named("chain"))
	runner := bot.NewTradeRunner(coordinator, balances, wallets)

	lifecycle := trade.NewLifecycle(
		trade.NewProposalStore(eph, cfg.ProposalTTL),
		runner,
		runner,
		registry,
		log.Named("trade"))

	service := bot.New(
		registry,
		session.NewStore(eph),
		lifecycle,
		engine,
		balances,
		wallets,
		log.Named("bot"))

	api := httpapi.NewServer(registry, balances, wallets,
		httpapi.NewTokenIssuer(cfg.JWTSecret), log.Named("api"))

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.NewServer(service, log.Named("ws")))
	mux.Handle("/v1/", api.Routes())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
