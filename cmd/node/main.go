package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uhyunpark/smashdex/params"
	"github.com/uhyunpark/smashdex/pkg/api"
	"github.com/uhyunpark/smashdex/pkg/app/conditional"
	"github.com/uhyunpark/smashdex/pkg/app/core/asset"
	"github.com/uhyunpark/smashdex/pkg/app/core/custody"
	"github.com/uhyunpark/smashdex/pkg/app/core/fill"
	"github.com/uhyunpark/smashdex/pkg/app/core/mempool"
	"github.com/uhyunpark/smashdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/smashdex/pkg/app/exchange"
	"github.com/uhyunpark/smashdex/pkg/app/match"
	"github.com/uhyunpark/smashdex/pkg/auth"
	"github.com/uhyunpark/smashdex/pkg/events"
	"github.com/uhyunpark/smashdex/pkg/metrics"
	"github.com/uhyunpark/smashdex/pkg/p2p"
	"github.com/uhyunpark/smashdex/pkg/storage"
	"github.com/uhyunpark/smashdex/pkg/util"
)

var rootCmd = &cobra.Command{
	Use:          "node",
	Short:        "Run the SmashDEX matching node",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		envPath, _ := cmd.Flags().GetString("env")
		cfg, err := params.LoadFromEnv(envPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.Node.DataDir, _ = cmd.Flags().GetString("data-dir")
		}
		if cmd.Flags().Changed("api-addr") {
			cfg.Node.APIAddr, _ = cmd.Flags().GetString("api-addr")
		}
		return run(cfg)
	},
}

func init() {
	rootCmd.Flags().String("env", "", "path to a .env file (default: ./.env)")
	rootCmd.Flags().String("data-dir", "", "state directory; empty keeps state in memory (overrides DATA_DIR)")
	rootCmd.Flags().String("api-addr", "", "REST/WebSocket listen address (overrides API_ADDR)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg params.Config) error {
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, util.ParseLevel(cfg.Node.LogLevel))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	var store storage.Store
	if cfg.Node.DataDir != "" {
		ps, err := storage.OpenPebble(filepath.Join(cfg.Node.DataDir, "state"))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
		sugar.Warn("no data dir configured, state is kept in memory only")
	}
	defer store.Close()

	// ---- Assets, custody, authorization ----
	assets := asset.NewRegistry()
	cust := custody.NewMemory()
	domain := cfg.Domain.EIP712()
	bls := auth.NewBLSVerifier(domain)

	for _, a := range cfg.Assets {
		if err := assets.Register(a.Symbol, a.Token); err != nil {
			return err
		}
	}
	if cfg.AssetsFile != "" {
		if err := loadAssetsFile(cfg.AssetsFile, assets, cust, bls, sugar); err != nil {
			return err
		}
	}
	if assets.Count() == 0 {
		sugar.Warn("no assets registered; set ASSETS or ASSETS_FILE")
	}

	ecdsa := auth.NewEIP712Verifier(domain)
	router := &auth.Router{ECDSA: ecdsa}
	if bls.Keys() > 0 {
		router.BLS = bls
	}
	verifier, err := auth.NewCached(router, cfg.Node.VerifierCacheSize)
	if err != nil {
		return fmt.Errorf("verifier cache: %w", err)
	}

	// ---- Events ----
	m := metrics.New()
	clock := util.RealClock{}
	evCfg := events.DefaultConfig()
	evCfg.MaxRetries = cfg.Events.RetryMax
	evCfg.QueueLimit = cfg.Events.QueueLimit
	notifier := events.NewNotifier(evCfg, sugar.Named("events"), m, clock)

	// ---- Matching core ----
	book := orderbook.NewIndex(clock)
	ledger := fill.NewLedger()
	queue := mempool.NewMempool()
	monitor := conditional.NewMonitor(conditional.DefaultConfig(), queue, store, notifier, m, clock, sugar.Named("conditional"))

	matcher := match.New(match.Config{
		MaxHops:        cfg.Matching.MaxRingHops,
		MaxCandidates:  cfg.Matching.MaxRingCandidates,
		MaxRounds:      cfg.Matching.MaxRingRounds,
		CustodyTimeout: cfg.Matching.CustodyTimeout,
	}, match.Deps{
		Book:     book,
		Ledger:   ledger,
		Verifier: verifier,
		Assets:   assets,
		Custody:  cust,
		Store:    store,
		Metrics:  m,
		Clock:    clock,
		Logger:   sugar.Named("match"),
	})

	exCfg := exchange.DefaultConfig()
	exCfg.DirectMatch = cfg.Matching.DirectMatch
	ex := exchange.New(exCfg, exchange.Deps{
		Book:           book,
		Ledger:         ledger,
		Matcher:        matcher,
		Verifier:       verifier,
		CancelVerifier: ecdsa,
		Assets:         assets,
		Monitor:        monitor,
		Queue:          queue,
		Store:          store,
		Publisher:      notifier,
		Metrics:        m,
		Clock:          clock,
		Logger:         sugar.Named("exchange"),
	})
	if err := ex.Restore(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	// ---- Subscribers ----
	notifier.Subscribe("conditional", monitor, events.Lossless())

	if len(cfg.Kafka.Brokers) > 0 {
		sink := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer sink.Close()
		notifier.Subscribe("kafka", sink)
		sugar.Infow("kafka_sink_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	if cfg.P2P.Listen != "" {
		gossip, err := p2p.NewGossip(ctx, p2p.Config{
			ListenAddr: cfg.P2P.Listen,
			Bootstrap:  cfg.P2P.Bootstrap,
			Topic:      cfg.P2P.Topic,
			Logger:     sugar.Named("p2p"),
			OnRemote: func(origin peer.ID, e events.Event) {
				sugar.Debugw("remote_event", "origin", origin.String(), "type", e.Type, "stream", e.StreamKey())
			},
		})
		if err != nil {
			return fmt.Errorf("p2p: %w", err)
		}
		defer gossip.Close()
		notifier.Subscribe("gossip", gossip)
		sugar.Infow("p2p_gossip_enabled", "addrs", gossip.Addrs(), "topic", cfg.P2P.Topic)
	}

	server := api.NewServer(api.Config{
		CORSOrigins:  cfg.Node.CORSOrigins,
		AdminEnabled: cfg.Node.AdminEnabled,
	}, api.Deps{
		Exchange: ex,
		Assets:   assets,
		Custody:  cust,
		Metrics:  m,
		Clock:    clock,
		Logger:   sugar.Named("api"),
	})
	notifier.Subscribe("ws", server.Hub())

	go ex.Run(ctx)

	sugar.Infow("node_starting",
		"api_addr", cfg.Node.APIAddr,
		"data_dir", cfg.Node.DataDir,
		"assets", assets.Count(),
		"bls_keys", bls.Keys(),
		"chain_id", cfg.Domain.ChainID,
		"max_ring_hops", cfg.Matching.MaxRingHops,
		"direct_match", cfg.Matching.DirectMatch,
	)

	serveErr := server.Start(ctx, cfg.Node.APIAddr)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := notifier.Close(shutdownCtx); err != nil {
		sugar.Warnw("event_flush_incomplete", "err", err, "backlog", notifier.Backlog())
	}
	sugar.Info("node_stopped")
	return serveErr
}

func loadAssetsFile(path string, assets *asset.Registry, cust *custody.Memory, bls *auth.BLSVerifier, log *zap.SugaredLogger) error {
	f, err := params.LoadAssetsFile(path)
	if err != nil {
		return err
	}
	for _, a := range f.Assets {
		if err := assets.Register(a.Symbol, a.Token); err != nil {
			return err
		}
	}
	for _, k := range f.BLSKeys {
		pub, err := hexutil.Decode(k.PubKey)
		if err != nil {
			return fmt.Errorf("bls key for %s: %w", k.Address.Hex(), err)
		}
		if err := bls.RegisterKey(k.Address, pub); err != nil {
			return fmt.Errorf("bls key for %s: %w", k.Address.Hex(), err)
		}
	}
	for _, b := range f.Balances {
		token, err := assets.Resolve(b.Symbol)
		if err != nil {
			return err
		}
		amount, allowance, err := b.Amounts()
		if err != nil {
			return err
		}
		if err := cust.Deposit(b.Address, token, amount); err != nil {
			return err
		}
		if err := cust.Approve(b.Address, token, allowance); err != nil {
			return err
		}
	}
	log.Infow("assets_file_loaded", "path", path, "assets", len(f.Assets), "bls_keys", len(f.BLSKeys), "balances", len(f.Balances))
	return nil
}
