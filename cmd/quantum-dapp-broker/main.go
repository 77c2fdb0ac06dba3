package main

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	brokerconfig "github.com/quantumauth-io/quantum-dapp-broker/cmd/quantum-dapp-broker/config"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/authstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/broker"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chainrpc"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/confirmations"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/constants"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/events"
	brokerhttp "github.com/quantumauth-io/quantum-dapp-broker/internal/http"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/kvstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/signer"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/surface"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	log.Info(constants.AppName,
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := brokerconfig.Load()
	if err != nil {
		log.Fatal("failed to parse config", "error", err)
	}

	kv, closeKV, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		log.Error("storage init failed", "driver", cfg.Storage.Driver, "error", err)
		return
	}
	defer closeKV()

	catalog, err := chains.NewCatalog(ctx, kv, cfg.Chains, cfg.SiteDefaults)
	if err != nil {
		log.Error("chain catalog init failed", "error", err)
		return
	}

	rpcSvc := chainrpc.New(chainrpc.Config{
		CallTimeout:     cfg.Liveness.CallTimeout,
		ProbeTimeout:    cfg.Liveness.ProbeTimeout,
		LivenessRetries: cfg.Liveness.Retries,
	})
	defer rpcSvc.Close()

	walletAccounts := cfg.WalletAccounts()
	var backendSigner confirmations.Signer
	if len(cfg.Signer.DevKeys) > 0 {
		local, err := signer.NewLocal(cfg.Signer.DevKeys)
		if err != nil {
			log.Error("signer init failed", "error", err)
			return
		}
		log.Warn("using development signing keys", "accounts", len(local.Addresses()))
		walletAccounts = withSignerAccounts(walletAccounts, local.Addresses())
		backendSigner = local
	}

	registry, err := accounts.NewRegistry(walletAccounts)
	if err != nil {
		log.Error("account registry init failed", "error", err)
		return
	}
	if cfg.Accounts.Focused != "" {
		if err = registry.SetFocused(cfg.Accounts.Focused); err != nil {
			log.Warn("focused account ignored", "address", cfg.Accounts.Focused, "error", err)
		}
	}

	addr := net.JoinHostPort(cfg.Server.LocalHost, cfg.Server.Port)
	publicURL := "http://" + addr
	surfaceURL := cfg.Server.SurfaceURL
	if surfaceURL == "" {
		surfaceURL = publicURL
	}
	surfaces := surface.NewManager(surface.NewTerminalHost(os.Stderr, surfaceURL), &surface.LogBadge{})

	b, err := broker.New(ctx, broker.Deps{
		KV:       kv,
		Auth:     authstore.New(kv, catalog),
		Accounts: registry,
		Catalog:  catalog,
		RPC:      rpcSvc,
		Surface:  surfaces,
		Signer:   backendSigner,
		Events: events.Config{
			PollInterval: cfg.Liveness.PollInterval,
			CheckTimeout: cfg.Liveness.CheckTimeout,
		},
	})
	if err != nil {
		log.Error("broker init failed", "error", err)
		return
	}
	defer b.Close()

	var uiFS fs.FS
	if cfg.Server.UIDir != "" {
		uiFS = os.DirFS(cfg.Server.UIDir)
		log.Info("serving confirmation UI", "dir", cfg.Server.UIDir)
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := brokerhttp.NewServer(ctx, b, brokerhttp.Config{
		UIAllowedOrigins:   cfg.Server.UIAllowedOrigins,
		PublicURL:          publicURL,
		SurfaceURL:         cfg.Server.SurfaceURL,
		RateLimitPerSecond: cfg.RateLimit.PerSecond,
		RateLimitBurst:     cfg.RateLimit.Burst,
		PairTTL:            cfg.Server.PairTTL,
		UI:                 uiFS,
	})
	if err != nil {
		log.Error("http init failed", "error", err)
		return
	}
	if _, err = handler.IssuePairing(); err != nil {
		log.Error("pairing code failed", "error", err)
		return
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	cancelled := b.Lock()
	log.Info("pending requests cancelled", "count", cancelled)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handler.Shutdown()
	if err = server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", "error", err)
	} else {
		log.Info("HTTP server gracefully stopped")
	}
}

func openStorage(ctx context.Context, s brokerconfig.StorageSettings) (kvstore.PersistentKV, func(), error) {
	switch s.Driver {
	case brokerconfig.StorageMemory:
		log.Warn("using in-memory storage; authorizations are lost on exit")
		return kvstore.NewMemory(), func() {}, nil
	case brokerconfig.StoragePostgres:
		pg, err := kvstore.NewPostgres(ctx, s.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		dir := s.Dir
		if dir == "" {
			var err error
			if dir, err = kvstore.DefaultDir(constants.AppName); err != nil {
				return nil, nil, err
			}
		}
		f, err := kvstore.NewFile(dir)
		if err != nil {
			return nil, nil, err
		}
		log.Info("storage ready", "dir", f.Dir())
		return f, func() {}, nil
	}
}

// withSignerAccounts appends signer addresses the config does not list yet.
func withSignerAccounts(list []accounts.Account, addrs []string) []accounts.Account {
	for _, a := range addrs {
		known := false
		for _, acc := range list {
			if accounts.Equal(acc.Address, a) {
				known = true
				break
			}
		}
		if !known {
			list = append(list, accounts.Account{Address: a, Kind: accounts.KindEvm, Name: "dev"})
		}
	}
	return list
}
