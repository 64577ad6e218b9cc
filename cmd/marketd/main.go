// Command marketd runs the market-and-agreement subsystem as a standalone
// daemon: subscription store, matcher, gossip discovery, negotiation
// engine, and agreement manager, exposed over JSON-RPC.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	glebarezsqlite "github.com/glebarez/sqlite"

	"nhbchain/config"
	"nhbchain/core/market/agreement"
	"nhbchain/core/market/collab/identitysvc"
	"nhbchain/core/market/discovery"
	"nhbchain/core/market/matcher"
	"nhbchain/core/market/model"
	"nhbchain/core/market/negotiation"
	"nhbchain/core/market/notifier"
	"nhbchain/core/market/store"
	"nhbchain/crypto"
	"nhbchain/observability/logging"
	telemetry "nhbchain/observability/otel"
	"nhbchain/rpc/marketrpc"
	"nhbchain/rpc/modules"
	"nhbchain/storage/marketdb"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	listenFlag := flag.String("listen", "", "Override the RPC listen address from the config file")
	logFile := flag.String("log-file", "", "Optional rotating log file path, in addition to stdout")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("NHB_ENV"))
	logger := logging.SetupWithRotation("marketd", env, logging.RotatingFile{Path: *logFile})

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "marketd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialise telemetry: %v", err))
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	keyBytes, err := hex.DecodeString(cfg.ValidatorKey)
	if err != nil {
		logger.Error("invalid validator key", slog.Any("error", err))
		os.Exit(1)
	}
	nodeKey, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		logger.Error("failed to parse validator key", slog.Any("error", err))
		os.Exit(1)
	}
	localNodeID := nodeKey.PubKey().Address().String()
	logger.Debug("validator key loaded", logging.MaskField("validatorKey", cfg.ValidatorKey), slog.String("nodeID", localNodeID))

	db, err := openMarketDB(cfg.Market)
	if err != nil {
		logger.Error("failed to open market store", slog.Any("error", err))
		os.Exit(1)
	}

	var subStore store.Store
	if db != nil {
		subStore = marketdb.NewStore(db)
	} else {
		subStore = store.NewMemStore(time.Now)
	}

	notify := notifier.New()

	proposals := make(chan matcher.RawProposal, 256)
	mtx := matcher.New(subStore, proposals, logger)

	engine := negotiation.New(subStore, notify, nil, logger)

	identities := identitysvc.New()
	identities.RegisterSigner(localNodeID, nodeKey)

	agreements := agreement.New(engine, identities, nil, notify, logger)

	broadcaster := discovery.New(subStore, mtx, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mtx.Run(ctx)
	go engine.RunMatcherFeed(ctx, proposals, time.Now)
	go sweepExpired(ctx, subStore, cfg.Market, logger)

	announce := func(ctx context.Context, id model.SubscriptionID) { broadcaster.AnnounceOffer(ctx, id) }
	unannounce := func(ctx context.Context, id model.SubscriptionID) { broadcaster.AnnounceUnsubscribe(ctx, id) }

	defaultTTL, err := time.ParseDuration(strings.TrimSpace(cfg.Market.DefaultAgreementTTL))
	if err != nil || defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}

	marketModule := modules.NewMarketModule(subStore, mtx, engine, announce, unannounce)
	agreementModule := modules.NewAgreementModule(agreements, defaultTTL)

	if len(cfg.Market.GossipTopics) > 0 {
		logger.Info("additional gossip topics configured", slog.Any("topics", cfg.Market.GossipTopics))
	}

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/rpc", otelhttp.NewHandler(marketrpc.New(marketModule, agreementModule), "marketd"))

	addr := cfg.RPCAddress
	if strings.TrimSpace(*listenFlag) != "" {
		addr = *listenFlag
	}
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		logger.Info("marketd listening", slog.String("address", addr), slog.String("node_id", localNodeID))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("market rpc server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
}

// openMarketDB opens the gorm-backed store per cfg.StoreDriver. A "memory"
// driver (the default) returns a nil *gorm.DB, signalling the caller to use
// the in-process store.MemStore instead.
func openMarketDB(cfg config.MarketConfig) (*gorm.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if driver == "" || driver == "memory" {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, fmt.Errorf("marketd: DatabaseURL required for StoreDriver %q", driver)
	}
	var db *gorm.DB
	var err error
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(glebarezsqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("marketd: unknown StoreDriver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := marketdb.AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func sweepExpired(ctx context.Context, st store.Store, cfg config.MarketConfig, logger *slog.Logger) {
	interval, err := time.ParseDuration(strings.TrimSpace(cfg.SweepInterval))
	if err != nil || interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := st.SweepExpired(now)
			if err != nil {
				logger.Warn("sweep expired subscriptions failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				logger.Debug("swept expired subscriptions", slog.Int("count", n))
			}
		}
	}
}
