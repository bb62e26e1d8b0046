package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"dealflow/audit"
	"dealflow/auth"
	"dealflow/cache"
	"dealflow/config"
	"dealflow/db"
	"dealflow/deal"
	"dealflow/httpapi"
	"dealflow/identity"
	"dealflow/seal"
	"dealflow/template"
	"dealflow/token"
	"dealflow/trust"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	views := cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
		time.Duration(cfg.Redis.ViewTTLSeconds)*time.Second)
	defer views.Close()

	authService := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret)
	tokenService := token.NewService(token.NewRepository(pool),
		time.Duration(cfg.Token.TTLHours)*time.Hour)
	ledger := audit.NewLedger(pool)
	gate := trust.NewGate(trust.NewPGProvider(pool), 5*time.Second)
	catalog := template.NewService(template.NewRepository(pool))

	dealService := deal.NewService(deal.Deps{
		Pool:      pool,
		Repo:      deal.NewRepository(pool),
		Tokens:    tokenService,
		Ledger:    ledger,
		Gate:      gate,
		Resolver:  identity.NewResolver(pool),
		Deliverer: seal.NewEngine(cfg.BaseURL, nil, nil),
		Catalog:   catalog,
	})

	server := httpapi.New(httpapi.Config{
		Port:     cfg.HTTP.Port,
		BaseURL:  cfg.BaseURL,
		AllowAll: cfg.HTTP.AllowAll,
	}, authService, dealService, tokenService, ledger, views)
	server.WithTemplates(catalog)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
	log.Println("shutdown complete")
}
