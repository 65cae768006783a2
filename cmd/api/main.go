package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/streamloop/chatrelay/internal/config"
	"github.com/streamloop/chatrelay/internal/handler"
	"github.com/streamloop/chatrelay/internal/store"

	chatservice "github.com/streamloop/chatrelay/internal/service/chat"
	"github.com/streamloop/chatrelay/internal/service/relay"
	"github.com/streamloop/chatrelay/internal/service/upstream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("failed to open store (%s): %v", cfg.Store.Driver, err)
	}
	defer st.Close()
	log.Printf("store driver %q ready", cfg.Store.Driver)

	chatSvc := chatservice.NewService(st)

	if !cfg.Upstream.Enabled() {
		log.Println("warning: OPENAI_API_KEY not set; /chat/stream will reject requests")
	}
	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.ReadTimeout)
	engine := relay.New(client, chatSvc)

	router := handler.NewRouter(chatSvc, engine, handler.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RatePerMinute:  cfg.Server.RatePerMinute,
		DefaultModel:   cfg.Upstream.Model,
		HasUpstream:    cfg.Upstream.Enabled(),
	})

	startServer(ctx, cfg.Server, router)
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "file":
		return store.NewFile(cfg.Path)
	case "blob":
		return store.NewBlob(cfg.Path)
	case "sqlite":
		return store.NewSQLite(cfg.Path)
	}
	// config.Load already validated the driver name.
	return store.NewMemory(), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("chatrelay API listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
