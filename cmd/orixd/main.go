// Command orixd runs the orix server: it wires together the Archive, Recall
// Index, Durable Log, Model Gateway, Memory Manager, Storage Coordinator,
// Planner, Worker, Orchestrator, Session Executor, and Boundary Transport,
// then serves the HTTP surface described by spec.md §6.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/ubix08/orix/internal/archive"
	"github.com/ubix08/orix/internal/config"
	"github.com/ubix08/orix/internal/durablelog"
	"github.com/ubix08/orix/internal/eventbus"
	"github.com/ubix08/orix/internal/llm"
	"github.com/ubix08/orix/internal/llm/providers"
	"github.com/ubix08/orix/internal/memory"
	"github.com/ubix08/orix/internal/observability"
	"github.com/ubix08/orix/internal/orchestrator"
	"github.com/ubix08/orix/internal/planner"
	"github.com/ubix08/orix/internal/recall"
	"github.com/ubix08/orix/internal/session"
	"github.com/ubix08/orix/internal/storagecoord"
	"github.com/ubix08/orix/internal/tools"
	"github.com/ubix08/orix/internal/tools/web"
	"github.com/ubix08/orix/internal/transport"
	"github.com/ubix08/orix/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	shutdown, err := observability.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	ctx := context.Background()
	srv, err := newServer(ctx, &cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialization failed")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Info().Str("addr", addr).Msg("orixd listening")
	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// newServer assembles every backing component named in spec.md §4 and
// returns the Boundary Transport that serves them over HTTP.
func newServer(ctx context.Context, cfg *config.Config) (*transport.Server, error) {
	httpClient := observability.NewHTTPClient(nil)
	provider, err := providers.Build(*cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	gateway := llm.NewGateway(*cfg, provider)

	arc, err := archive.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("init archive: %w", err)
	}

	qHost, qPort, err := splitHostPort(cfg.Qdrant.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	index, err := recall.New(ctx, qHost, qPort, "orix_memory", cfg.Qdrant.Dimensions, cfg.Qdrant.Distance)
	if err != nil {
		return nil, fmt.Errorf("init recall index: %w", err)
	}

	durable, err := durablelog.New(cfg.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("init durable log: %w", err)
	}

	mem := memory.NewManager(cfg.Memory, gateway, index)

	coordinator := storagecoord.New(cfg.Storage,
		storagecoord.DurableLogLayer{Log: durable},
		storagecoord.ArchiveLayer{Archive: arc},
		storagecoord.MemoryLayer{Manager: mem},
	)

	toolRegistry := tools.NewRegistry()
	toolRegistry.Register(web.NewFetchTool())
	toolRegistry.Register(web.NewTool(cfg.Web.SearXNGURL))

	p := planner.New(cfg.Planner, gateway)
	w := worker.New(cfg.Worker, gateway)
	boardStorage := orchestrator.NewDurableBoardStorage(durable)
	bus := eventbus.New(cfg.Kafka)

	executor := session.New(cfg.Session, cfg.Memory, session.Dependencies{
		Archive:      arc,
		Coordinator:  coordinator,
		Memory:       mem,
		Planner:      p,
		Worker:       w,
		Gateway:      gateway,
		Tools:        toolRegistry,
		BoardStorage: boardStorage,
		Bus:          bus,
	})

	return transport.New(executor, arc, mem, coordinator, gateway, cfg.Auth), nil
}

func splitHostPort(dsn string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(dsn)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}
	return host, port, nil
}
