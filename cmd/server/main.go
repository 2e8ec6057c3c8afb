package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/search"
	"chat-relay/server"
	"chat-relay/services"
	"chat-relay/social"
)

// Exit codes to provide meaningful status to the operating system or
// service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper. Its only responsibility is
	// to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes every component, manages the server lifecycle, and
// centralizes error reporting, so all defers execute before the process
// exits.
func run() (int, error) {
	// 1. Configuration & logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage (BadgerDB for the logs, Bluge for search)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(ctx, slog.LevelDebug) {
		internal.StartDebugServer(db, config.DebugInspectorPort, logger)
	}

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	// 3. Moderation
	censored, err := moderation.LoadCensoredWords()
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to load censored words: %w", err)
	}
	moderator, err := moderation.NewModerator(censored.Words, charReplacement, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to build moderator: %w", err)
	}

	// 4. Runtime wiring
	metrics := observability.NewMetrics()
	messages := repositories.NewMessageRepository(db, logger)
	rooms := repositories.NewRoomRepository(db, logger)
	registry := runtime.NewRegistry(logger, metrics)
	index := search.NewIndex(blugeWriter, logger)

	sup := workers.NewSupervisor(logger)

	// The deliverer reads membership from the manager and the manager's
	// spawn closure needs the deliverer; the closure captures the variable,
	// which is set before any worker can be spawned. Workers run under the
	// application context so they outlive the request that spawned them.
	var deliverer *runtime.Deliverer
	spawn := func(room domain.RoomID, commands chan domain.Command) {
		worker := workers.NewRoomWorker(room, commands, messages, deliverer,
			&moderator, metrics, logger, config.AppendTimeout)
		sup.Start(ctx, worker)
	}
	manager := runtime.NewManager(logger, rooms, metrics, spawn, config.RoomBufferSize, index)
	deliverer = runtime.NewDeliverer(logger, manager, registry, index)

	var socialGraph contract.SocialGraph = social.AllowAll{}
	if config.SocialGraphURL != "" {
		socialGraph = social.NewClient(config.SocialGraphURL, config.SocialGraphTimeout, logger)
	}

	service := services.NewChatService(logger, manager, messages, registry,
		socialGraph, index, config.SendTimeout)

	// 5. Background workers
	sup.Add(workers.NewTelemetryWorker(logger, metrics, config.MetricInterval))
	go sup.Run(ctx)

	// 6. HTTP server
	gateway := server.NewServer(logger, service, auth.NewVerifier([]byte(config.JWTSecret)),
		metrics, config.ConnectionBufferSize, config.AuthFrameTimeout)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:              address,
		Handler:           gateway.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 7. Wait for stop or error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 8. Graceful shutdown: stop accepting connections, then stop workers
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	sup.Stop()
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}

	return options
}
