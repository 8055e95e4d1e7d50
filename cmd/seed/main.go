package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"argo-workflows-mcp/backend/internal/config"
	"argo-workflows-mcp/backend/internal/logging"
	"argo-workflows-mcp/backend/internal/repository"
	"argo-workflows-mcp/backend/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	configPath := flag.String("config", "", "Path to config file")
	baseURL := flag.String("base-url", "https://localhost:2746", "Argo server URL of the seeded connection")
	namespace := flag.String("namespace", "argo", "Default namespace of the seeded connection")
	token := flag.String("token", "", "Bearer token of the seeded connection (empty for no auth)")
	permissive := flag.Bool("permissive", false, "Allow mutations and destructive operations")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var store repository.Repository
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		connStr := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
		)
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		store = repository.NewPostgresStore(pool)
	default:
		store, err = repository.OpenSQLite(cfg.DB.Path)
		if err != nil {
			log.Fatalf("Failed to open DB: %v", err)
		}
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	// 1. Ensure a local connection exists and is active.
	conns, err := store.ListConnections(ctx)
	if err != nil {
		log.Fatalf("Failed to list connections: %v", err)
	}
	var existing *models.Connection
	for _, c := range conns {
		if c.Name == "local" {
			existing = c
		}
	}

	if existing != nil {
		logger.Info("Found existing connection", "id", existing.ID, "active", existing.IsActive)
		if !existing.IsActive {
			if err := store.ActivateConnection(ctx, existing.ID); err != nil {
				log.Fatalf("Failed to activate connection: %v", err)
			}
		}
	} else {
		conn := &models.Connection{
			Name:                  "local",
			BaseURL:               *baseURL,
			DefaultNamespace:      *namespace,
			InsecureSkipTLSVerify: true,
			IsActive:              true,
		}
		if *token != "" {
			conn.AuthType = models.AuthTypeBearer
			conn.BearerToken = *token
		}
		conn.Normalize()
		if err := store.CreateConnection(ctx, conn); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				log.Fatalf("Connection name already taken: %v", err)
			}
			log.Fatalf("Failed to create connection: %v", err)
		}
		logger.Info("Seeded connection",
			"id", conn.ID,
			"base_url", conn.BaseURL,
			"bearer_token", logging.Mask(conn.BearerToken),
		)
	}

	// 2. Policy settings.
	if *permissive {
		for _, key := range []string{models.SettingAllowMutations, models.SettingAllowDestructive} {
			if err := store.SetSetting(ctx, key, "true"); err != nil {
				log.Fatalf("Failed to set %s: %v", key, err)
			}
		}
		logger.Info("Enabled mutations and destructive operations")
	}

	settings, err := store.ListSettings(ctx)
	if err != nil {
		log.Fatalf("Failed to list settings: %v", err)
	}
	logger.Info("Seeding complete!", "settings", settings)
}
