package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/adt/internal/config"
	"github.com/ehr/adt/internal/domain/admission"
	"github.com/ehr/adt/internal/domain/directory"
	"github.com/ehr/adt/internal/domain/ward"
	"github.com/ehr/adt/internal/platform/apperr"
	"github.com/ehr/adt/internal/platform/auth"
	"github.com/ehr/adt/internal/platform/cache"
	"github.com/ehr/adt/internal/platform/db"
	"github.com/ehr/adt/internal/platform/metrics"
	"github.com/ehr/adt/internal/platform/middleware"
	"github.com/ehr/adt/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "adt-server",
		Short: "Ward, bed and admission API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to a migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to a migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(dir string, fn func(context.Context, *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrationSource(dir)))
}

func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		state, at := "pending", ""
		if s.Applied {
			state = "applied"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format(time.RFC3339)
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
	}
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// loadConfig builds the logger from the loaded config, since ENV may only be
// set in .env.
func loadConfig(out io.Writer) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, newLogger(os.Getenv("ENV"), out), err
	}
	return cfg, newLogger(cfg.Env, out), nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.AuthSigningKey == "" && cfg.IsDev() {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

type services struct {
	directory *directory.Service
	wards     *ward.Service
	admission *admission.Service
}

func buildServices(pool *pgxpool.Pool, cfg *config.Config, kv cache.KV, m *metrics.Metrics, logger zerolog.Logger) (*services, error) {
	policy, err := admission.PolicyByName(cfg.BillingPolicy)
	if err != nil {
		return nil, err
	}

	tx := db.NewTxRunner(pool, cfg.AdmitMaxRetries)
	tx.OnRetry(m.TxRetried)

	depts := directory.NewDepartmentRepo(pool)
	wardRepo := ward.NewRepo(pool)

	wardSvc := ward.NewService(wardRepo, depts, tx, logger)
	wardSvc.SetCache(kv, cfg.CacheTTL)

	admissionSvc := admission.NewService(
		admission.NewRepo(pool),
		wardRepo,
		directory.NewPatientRepo(pool),
		tx,
		admission.NewCalculator(policy),
		logger,
	)
	admissionSvc.SetDoctorDirectory(directory.NewDoctorRepo(pool))
	admissionSvc.SetCacheInvalidator(wardSvc)
	admissionSvc.SetMetrics(m)
	admissionSvc.SetQueryTimeout(cfg.QueryTimeout)

	return &services{
		directory: directory.NewService(depts),
		wards:     wardSvc,
		admission: admissionSvc,
	}, nil
}

func newEcho(cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger, !cfg.IsProduction())

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.Metrics(m))
	return e
}

func registerAPI(e *echo.Echo, cfg *config.Config, svcs *services, logger zerolog.Logger) {
	api := e.Group("/api/v1")
	api.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	api.Use(authMiddleware(cfg))
	api.Use(middleware.Audit(logger))

	directory.NewHandler(svcs.directory).RegisterRoutes(api)
	ward.NewHandler(svcs.wards).RegisterRoutes(api)
	admission.NewHandler(svcs.admission).RegisterRoutes(api)
}

func runServer() error {
	cfg, logger, err := loadConfig(os.Stdout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var kv cache.KV = cache.Noop{}
	if cfg.CacheEnabled() {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, ward listings will not be cached")
		} else {
			defer client.Close()
			kv = cache.NewRedisKV(client)
			logger.Info().Msg("connected to redis")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	svcs, err := buildServices(pool, cfg, kv, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire services")
	}

	e := newEcho(cfg, m, logger)
	e.GET("/health", db.HealthHandler(pool, map[string]string{
		"version":        version,
		"billing_policy": cfg.BillingPolicy,
	}))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	registerAPI(e, cfg, svcs, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("billing_policy", cfg.BillingPolicy).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
