package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/localcdp/browserd/internal/config"
	"github.com/localcdp/browserd/internal/gateway"
	"github.com/localcdp/browserd/internal/handlers"
	"github.com/localcdp/browserd/internal/rpc"
	"github.com/localcdp/browserd/internal/session"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	log.Println("Starting browserd...")

	configPath := os.Getenv("BROWSERD_CONFIG")
	if configPath == "" {
		if p, err := config.DefaultConfigPath(); err == nil {
			configPath = p
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("✓ Configuration loaded")

	stateDir := filepath.Dir(cfg.Server.SocketPath)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		log.Fatalf("Failed to create state directory: %v", err)
	}

	pool, err := session.NewPool(cfg, filepath.Join(stateDir, "sessions"))
	if err != nil {
		log.Fatalf("Failed to create session pool: %v", err)
	}
	log.Println("✓ Session pool initialized")

	h := handlers.New(cfg)

	gw := gateway.NewServer(cfg, pool, h)
	if err := gw.Start(); err != nil {
		log.Fatalf("Failed to start extension gateway: %v", err)
	}
	log.Printf("✓ Extension gateway listening on http://127.0.0.1:%d", gw.Port)

	dispatcher := rpc.NewDispatcher(cfg, pool, h)
	srv := rpc.NewServer(dispatcher, cfg.Server.SocketPath)
	if err := srv.Listen(); err != nil {
		log.Fatalf("Failed to bind RPC socket: %v", err)
	}
	log.Printf("✓ RPC socket bound at %s", cfg.Server.SocketPath)

	log.Println("🚀 browserd ready")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("\n⏳ Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv.Shutdown(ctx)
	if err := gw.Shutdown(ctx); err != nil {
		log.Printf("Gateway shutdown: %v", err)
	}
	pool.Close()

	log.Println("✅ browserd stopped cleanly")
}
