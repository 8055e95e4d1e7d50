package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"argo-workflows-mcp/backend/internal/api"
	"argo-workflows-mcp/backend/internal/audit"
	"argo-workflows-mcp/backend/internal/auth"
	"argo-workflows-mcp/backend/internal/config"
	"argo-workflows-mcp/backend/internal/connection"
	"argo-workflows-mcp/backend/internal/logging"
	"argo-workflows-mcp/backend/internal/mcp"
	"argo-workflows-mcp/backend/internal/operations"
	"argo-workflows-mcp/backend/internal/repository"
	"argo-workflows-mcp/backend/internal/tls"
)

const shutdownTimeout = 30 * time.Second

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "argo-workflows-mcp",
		Short:        "MCP server for Argo Workflows with an admin API",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ./config.yaml or ./config/config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(versionCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP tools and the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			repo, err := openRepository(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			return serve(ctx, cfg, logger, repo)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and seed default settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			repo, err := openRepository(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			logger.Info("Database schema is up to date", "driver", cfg.DB.Driver)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server name and version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.Server.Name, cfg.Server.Version)
			return nil
		},
	}
}

func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	logger := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"db_driver", cfg.DB.Driver,
		"mcp_transport", cfg.MCP.Transport,
		"auth_enabled", cfg.Auth.Enabled,
		"okta_domain", cfg.Auth.OktaDomain,
		"client_secret", logging.Mask(cfg.Auth.ClientSecret),
	)
	return cfg, logger, nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, error) {
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("database initialization failed: %w", err)
		}
		logger.Info("Database connected", "driver", cfg.DB.Driver, "host", cfg.DB.Host, "name", cfg.DB.Name)
		return repository.NewPostgresStore(pool), nil
	default:
		store, err := repository.OpenSQLite(cfg.DB.Path)
		if err != nil {
			return nil, fmt.Errorf("database initialization failed: %w", err)
		}
		logger.Info("Database opened", "driver", cfg.DB.Driver, "path", cfg.DB.Path)
		return store, nil
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger, repo repository.Repository) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.Confirmation.Secret == "" {
		logger.Warn("confirmation.secret is not set, confirmation tokens will not survive a restart")
	}
	confirmer, err := operations.NewConfirmer(cfg.Confirmation.Secret, cfg.Confirmation.TTL)
	if err != nil {
		return err
	}

	factory := connection.HTTPFactory(logger)
	manager := connection.NewManager(repo, factory, logger)
	defer manager.Close()

	mcpServer := mcp.NewServer(cfg.Server.Name, cfg.Server.Version, mcp.Deps{
		Connections: manager,
		Settings:    repo,
		Auditor:     audit.NewAuditor(repo, audit.NewMetrics(registry), logger),
		Confirmer:   confirmer,
		Logger:      logger,
	})

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}
	if !authz.Enabled() {
		logger.Warn("Admin API authentication is disabled")
	}
	requireAuth := echo.WrapMiddleware(authz.RequireAuth)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = api.ProblemErrorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware(cfg.Server.Name))
	e.Use(requestLogger(logger))

	health := api.NewHandler(repo, cfg.Server.Name, cfg.Server.Version)
	e.GET("/healthz", echo.WrapHandler(http.HandlerFunc(health.HandleHealth)))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	apiGroup := e.Group("/api/v1", requireAuth)
	api.RegisterHandlers(apiGroup, api.NewServer(repo, factory, logger))
	logger.Info("Admin API handlers mounted")

	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.OktaDomain, cfg.Auth.ClientID, auth.LoginScopes)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(api.OAuth2RedirectHandler()))

	var mcpHTTP *mcp.HTTPHandlers
	if cfg.MCP.Transport == config.TransportHTTP {
		mcpHTTP = mcp.MountHTTPHandlers(e, mcpServer.GetMCPServer(), requireAuth)
		logger.Info("MCP protocol handlers mounted", "path", "/mcp")
	}

	if cfg.TLS.Enable {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return errors.New("tls.enable requires tls.cert_file and tls.key_file")
		}
		generated, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
		if generated {
			logger.Warn("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile, "hostnames", cfg.TLS.Hostnames)
		}
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	// No WriteTimeout: MCP SSE and streamable HTTP responses stay open.
	server := &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	stdioDone := make(chan error, 1)
	if cfg.MCP.Transport == config.TransportStdio {
		go func() {
			stdioDone <- mcpServer.ServeStdio(ctx, os.Stdin, os.Stdout)
		}()
	}

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case err := <-stdioDone:
		if err != nil {
			logger.Error("MCP stdio transport failed", "error", err)
			runErr = err
		} else {
			logger.Info("MCP stdio client disconnected")
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if mcpHTTP != nil {
		if err := mcpHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Error("MCP transport shutdown error", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("Server close error", "error", err)
		}
	}

	logger.Info("Server stopped gracefully")
	return runErr
}

// requestLogger logs each admin request through the structured logger. The
// echo default logger writes to stdout, which the stdio transport owns.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
				"operator", auth.OperatorFromContext(c.Request().Context()),
			}
			if v.Error != nil {
				logger.Warn("request failed", append(args, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", args...)
			return nil
		},
	})
}
