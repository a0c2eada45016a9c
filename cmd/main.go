// cmd/main.go is the application entry point.
// It wires together all layers behind the serve, migrate and token commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Shivanand-hulikatti/club-directory/internal/auth"
	"github.com/Shivanand-hulikatti/club-directory/internal/config"
	"github.com/Shivanand-hulikatti/club-directory/internal/database"
	"github.com/Shivanand-hulikatti/club-directory/internal/handler"
	"github.com/Shivanand-hulikatti/club-directory/internal/identity"
	"github.com/Shivanand-hulikatti/club-directory/internal/metrics"
	"github.com/Shivanand-hulikatti/club-directory/internal/model"
	"github.com/Shivanand-hulikatti/club-directory/internal/repository"
	"github.com/Shivanand-hulikatti/club-directory/internal/service"
	"github.com/Shivanand-hulikatti/club-directory/internal/telemetry"
)

func main() {
	app := &cli.App{
		Name:  "clubdir",
		Usage: "reading club directory service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the configuration file",
				EnvVars: []string{"CONFIG_PATH"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			tokenCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	logger := telemetry.NewLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// stores holds the persistence layer selected by configuration.
type stores struct {
	clubs   service.ClubStore
	reviews service.ReviewStore
	users   userStore
	close   func()
}

type userStore interface {
	identity.Directory
	Upsert(ctx context.Context, id model.Identity) error
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		clubs := repository.NewInMemoryClubStore()
		logger.WarnContext(ctx, "using in-memory store; data is lost on exit")
		return &stores{
			clubs:   clubs,
			reviews: repository.NewInMemoryReviewStore(clubs),
			users:   repository.NewInMemoryUserStore(),
			close:   func() {},
		}, nil
	}

	pool, err := openPostgres(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &stores{
		clubs:   repository.NewClubRepository(pool),
		reviews: repository.NewReviewRepository(pool),
		users:   repository.NewUserRepository(pool),
		close:   pool.Close,
	}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	pool, err := database.NewPool(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.InfoContext(ctx, "connected to postgres")
	return pool, nil
}

// openCache returns a Redis client when one is configured, or nil.
func openCache(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing)
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(flushCtx); err != nil {
					logger.Warn("tracer shutdown failed", "error", err)
				}
			}()

			st, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.close()

			m := metrics.New(prometheus.DefaultRegisterer)

			var directory identity.Directory = st.users
			cache, err := openCache(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			if cache != nil {
				defer cache.Close()
				directory = identity.NewCached(st.users, cache, cfg.Redis.TTL,
					identity.WithLogger(logger),
					identity.WithMetrics(m),
				)
				logger.InfoContext(ctx, "identity cache enabled")
			}

			opts := []service.Option{
				service.WithLogger(logger),
				service.WithMetrics(m),
				service.WithTracer(otel.Tracer(telemetry.ServiceName)),
			}

			var limiter *handler.IPRateLimiter
			if cfg.Server.WriteRateLimit > 0 {
				limiter = handler.NewIPRateLimiter(rate.Limit(cfg.Server.WriteRateLimit), cfg.Server.WriteBurst)
			}

			router := handler.NewRouter(handler.RouterConfig{
				Clubs:          service.NewClubService(st.clubs, directory, opts...),
				Reviews:        service.NewReviewService(st.reviews, directory, opts...),
				Tokens:         auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer),
				Logger:         logger,
				Metrics:        m,
				MetricsHandler: promhttp.Handler(),
				RequestTimeout: cfg.Server.RequestTimeout,
				CORSOrigins:    cfg.Server.CORSOrigins,
				WriteLimiter:   limiter,
			})

			srv := &http.Server{
				Addr:         ":" + cfg.Server.Port,
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.InfoContext(gctx, "server listening", "addr", srv.Addr, "store", cfg.Store)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}
				logger.Info("server stopped")
				return nil
			})
			return g.Wait()
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply the database schema",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return fmt.Errorf("migrate requires store %q, got %q", config.StorePostgres, cfg.Store)
			}
			pool, err := openPostgres(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			pool.Close()
			fmt.Println("schema is up to date")
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "register a user and mint a bearer token for it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "user id", Required: true},
			&cli.StringFlag{Name: "username", Usage: "display name"},
			&cli.StringFlag{Name: "role", Value: string(model.RoleMember), Usage: "organizer or member"},
			&cli.DurationFlag{Name: "ttl", Usage: "token lifetime (defaults to jwt.default_ttl)"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}

			id := model.Identity{
				ID:       model.UserID(c.String("user")),
				Username: c.String("username"),
				Role:     model.Role(c.String("role")),
			}
			if !id.Role.Valid() {
				return fmt.Errorf("unknown role %q", id.Role)
			}
			if id.Username == "" {
				id.Username = string(id.ID)
			}
			ttl := c.Duration("ttl")
			if ttl <= 0 {
				ttl = cfg.JWT.DefaultTTL
			}

			if cfg.Store == config.StorePostgres {
				if err := registerUser(c.Context, cfg, logger, id); err != nil {
					return err
				}
			}

			token, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer).GenerateToken(id, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

// registerUser stores id in the users table and evicts any cached display
// name so renames show up immediately.
func registerUser(ctx context.Context, cfg *config.Config, logger *slog.Logger, id model.Identity) error {
	pool, err := openPostgres(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	users := repository.NewUserRepository(pool)
	if err := users.Upsert(ctx, id); err != nil {
		return fmt.Errorf("register user: %w", err)
	}

	cache, err := openCache(ctx, cfg.Redis)
	if err != nil {
		logger.WarnContext(ctx, "skipping cache invalidation", "error", err)
		return nil
	}
	if cache == nil {
		return nil
	}
	defer cache.Close()
	return identity.NewCached(users, cache, cfg.Redis.TTL, identity.WithLogger(logger)).Invalidate(ctx, id.ID)
}
