// Command reaper cancels stale waiting rooms and abandons matches whose players
// have all dropped. Run one instance next to servers started with EMBEDDED_REAPER=false.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/tabletop/internal/app"
	"github.com/jason-s-yu/tabletop/internal/config"
	"github.com/jason-s-yu/tabletop/internal/reaper"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Store == config.StoreMemory {
		log.Fatal("the standalone reaper needs a shared store; set ROOM_STORE=postgres")
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open room store")
	}
	defer backend.Close()

	reaper.New(backend.Rooms, cfg.ReaperInterval, cfg.InactivityTimeout, logger).Run(ctx)
}
