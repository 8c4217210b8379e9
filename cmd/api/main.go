package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentra.org/internal/config"
	"sentra.org/internal/httpapi"
	"sentra.org/internal/identity"
	"sentra.org/internal/jit"
	"sentra.org/internal/notify"
	"sentra.org/internal/obs"
	"sentra.org/internal/rbac"
	"sentra.org/internal/store/memory"
	"sentra.org/internal/store/pg"
)

var version = "0.3.1"

type stores struct {
	identity identity.Store
	roles    rbac.RoleStore
	dir      rbac.UserDirectory
	requests jit.RequestStore
	db       *sql.DB
	close    func()
}

func main() {
	configPath := flag.String("config", os.Getenv("SENTRA_CONFIG"), "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.TokenSecret == "" {
		log.Fatal("missing token secret: set token_secret or SENTRA_TOKEN_SECRET")
	}

	obs.Init()

	hasher := identity.BcryptHasher{}
	st, err := openStores(cfg, hasher)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer st.close()

	tokens, err := identity.NewTokenIssuer(cfg.TokenSecret)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	dispatcher := notify.NewDispatcher(notify.LogNotifier{})
	defer dispatcher.Close()

	idSvc := identity.NewService(st.identity, hasher, dispatcher, tokens,
		identity.WithCodeLength(cfg.Auth.CodeLength),
		identity.WithCodeTTL(cfg.Auth.CodeTTL()),
		identity.WithSessionTTL(cfg.Auth.SessionTTL()),
		identity.WithMaxAttempts(cfg.Auth.MaxTwoFactorTries),
		identity.WithResendInterval(cfg.Auth.ResendInterval()),
		identity.WithPasswordPolicy(cfg.Auth.MinPasswordLength, cfg.Auth.MinUsernameLength),
		identity.WithStoreTimeout(cfg.StoreTimeout()),
	)
	rbacSvc := rbac.NewService(st.roles, st.dir)
	jitSvc := jit.NewService(st.requests, rbacSvc,
		jit.WithDurationBounds(cfg.JIT.MinDurationMins, cfg.JIT.MaxDurationMins, cfg.JIT.DefaultDurationMins),
		jit.WithStoreTimeout(cfg.StoreTimeout()),
	)
	authz := rbac.NewAuthorizer(rbacSvc, jitSvc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rbacSvc.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("seed roles: %v", err)
	}

	reconciler := jit.NewReconciler(st.requests, jit.WithSweepInterval(cfg.JIT.SweepInterval()))
	go reconciler.Run(ctx)

	api := httpapi.New(idSvc, rbacSvc, authz, jitSvc, httpapi.ReadyProbe{DB: st.db}, version)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(cfg.HTTP.MaxBodyBytes, cfg.HTTP.RatePerSecond, cfg.HTTP.RateBurst),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting sentra-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

// openStores selects Postgres when a DSN is configured, otherwise the
// in-memory store with demo accounts seeded.
func openStores(cfg config.Config, hasher identity.Hasher) (*stores, error) {
	if cfg.PostgresDSN != "" {
		pgStore, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return &stores{
			identity: pgStore,
			roles:    pgStore,
			dir:      pgStore,
			requests: pgStore,
			db:       pgStore.DB(),
			close:    func() { _ = pgStore.Close() },
		}, nil
	}
	mem := memory.New()
	if err := mem.SeedDemo(context.Background(), hasher); err != nil {
		return nil, err
	}
	log.Println("No DSN configured; using in-memory store with demo accounts")
	return &stores{
		identity: mem,
		roles:    mem,
		dir:      mem,
		requests: mem,
		close:    func() {},
	}, nil
}
