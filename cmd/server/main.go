package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cutroom/cutroom-server/internal/api"
	"github.com/cutroom/cutroom-server/internal/config"
	"github.com/cutroom/cutroom-server/internal/db"
	"github.com/cutroom/cutroom-server/internal/edl"
	"github.com/cutroom/cutroom-server/internal/logging"
	"github.com/cutroom/cutroom-server/internal/media"
	"github.com/cutroom/cutroom-server/internal/pipeline"
	"github.com/cutroom/cutroom-server/internal/timeline"
)

var Version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting cutroom server", "version", Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := edl.NewRepository(database.Conn())

	defaultUser, err := ensureDefaultUser(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure default user: %w", err)
	}

	pipelineToken, err := ensurePipelineToken(repo, cfg.PipelineToken())
	if err != nil {
		return fmt.Errorf("failed to ensure pipeline token: %w", err)
	}

	var client pipeline.Client
	if cfg.PipelineEndpoint() != "" {
		client = pipeline.NewHTTPClient(cfg.PipelineEndpoint(), pipelineToken, cfg.HandoffTimeout(), logger)
		logger.Info("analysis pipeline configured", "endpoint", cfg.PipelineEndpoint())
	} else {
		client = pipeline.NewStubClient(logger)
		logger.Warn("no pipeline endpoint configured, handoffs go to the stub client")
	}

	service := edl.NewService(repo, client, cfg.HandoffTimeout(), logger)
	resolver := media.NewURLResolver(cfg.AWSRegion())
	compiler := timeline.NewCompiler(resolver, nil, logger)
	timelines := timeline.NewManager()

	fmt.Println()
	fmt.Printf("cutroom server v%s\n", Version)
	fmt.Printf("  api:            http://127.0.0.1:%d\n", cfg.Port())
	fmt.Printf("  user token:     %s\n", defaultUser.APIToken)
	fmt.Printf("  pipeline token: %s\n", logging.SanitizeToken(pipelineToken))
	fmt.Println()

	apiServer := api.NewServer(api.ServerConfig{
		Port:          cfg.Port(),
		Repository:    repo,
		Service:       service,
		Timelines:     timelines,
		Compiler:      compiler,
		PipelineToken: pipelineToken,
		ApplyWait:     cfg.ApplyWaitTimeout(),
		ApplyPoll:     cfg.ApplyWaitPoll(),
		Logger:        logger,
		StartTime:     startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// ensureDefaultUser creates the initial user on first boot so the API is
// usable before any account provisioning exists.
func ensureDefaultUser(repo edl.Repository) (*edl.User, error) {
	ctx := context.Background()

	existingID, err := repo.GetConfig(ctx, "default_user_id")
	if err == nil && existingID != "" {
		token, err := repo.GetConfig(ctx, "default_user_token")
		if err == nil && token != "" {
			return &edl.User{ID: existingID, APIToken: token}, nil
		}
	}

	token, err := randomToken(32)
	if err != nil {
		return nil, err
	}

	user := &edl.User{
		ID:          edl.NewID(),
		APIToken:    token,
		DisplayName: "default",
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	if err := repo.SetConfig(ctx, "default_user_id", user.ID); err != nil {
		return nil, err
	}
	if err := repo.SetConfig(ctx, "default_user_token", token); err != nil {
		return nil, err
	}

	return user, nil
}

// ensurePipelineToken prefers the configured token and otherwise generates
// and persists one for the external pipeline's callback requests.
func ensurePipelineToken(repo edl.Repository, configured string) (string, error) {
	ctx := context.Background()

	if configured != "" {
		return configured, nil
	}

	existing, err := repo.GetConfig(ctx, "pipeline_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	token, err := randomToken(32)
	if err != nil {
		return "", err
	}
	if err := repo.SetConfig(ctx, "pipeline_token", token); err != nil {
		return "", err
	}
	return token, nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
