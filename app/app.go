package app

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/searchktools/micro-server/config"
	"github.com/searchktools/micro-server/core"
)

// App ties a configuration to an engine and owns process-level concerns:
// startup logging and signal-driven graceful shutdown.
type App struct {
	cfg    *config.Config
	engine *core.Engine
}

// New creates an application instance with an engine configured from cfg.
func New(cfg *config.Config) *App {
	engine := core.NewEngine()
	engine.ReadTimeout = time.Duration(cfg.ReadTimeout) * time.Second
	engine.WriteTimeout = time.Duration(cfg.WriteTimeout) * time.Second
	engine.IdleTimeout = time.Duration(cfg.IdleTimeout) * time.Second
	engine.MaxConnections = cfg.MaxConnections
	engine.MaxBodySize = cfg.MaxBodySize

	return &App{
		cfg:    cfg,
		engine: engine,
	}
}

// Engine returns the underlying engine for route registration.
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Run starts the application and blocks until the server stops.
func (a *App) Run() {
	go a.awaitSignal()

	log.Printf("starting micro-server on %s [%s]", a.cfg.Addr(), a.cfg.Env)

	err := a.engine.Run(a.cfg.Addr())
	if errors.Is(err, core.ErrServerClosed) {
		log.Printf("server stopped")
		return
	}
	if err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func (a *App) awaitSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("signal received: %v, shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.engine.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %d connections still open: %v", a.engine.ActiveConnections(), err)
	}
}
