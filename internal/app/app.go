// Package app wires the application together: storage pools, the Gemini
// client, the registry, the agent loop and the HTTP server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/cabswale/raahi-agent/internal/agent"
	"github.com/cabswale/raahi-agent/internal/api"
	"github.com/cabswale/raahi-agent/internal/clients"
	"github.com/cabswale/raahi-agent/internal/config"
	"github.com/cabswale/raahi-agent/internal/feature"
	"github.com/cabswale/raahi-agent/internal/knowledge"
	"github.com/cabswale/raahi-agent/internal/log"
	"github.com/cabswale/raahi-agent/internal/model"
	"github.com/cabswale/raahi-agent/internal/session"
	"github.com/cabswale/raahi-agent/internal/tool"
)

// Model invocation rate limit: steady-state requests per second and burst.
const (
	modelRatePerSec = 5
	modelRateBurst  = 10
)

// App holds every initialized component. Call Close to release resources.
type App struct {
	Config *config.Config
	Logger log.Logger

	DBPool   *pgxpool.Pool
	Redis    *redis.Client
	Sessions *session.Store
	Features *feature.Store
	Registry *feature.Registry
	Know     *knowledge.Search
	Gemini   *model.Gemini
	Loop     *agent.Loop
	Server   *api.Server
}

// Setup initializes the application. On error everything already initialized
// is torn down.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if retErr != nil {
			a.Close(context.Background())
		}
	}()

	pool, err := providePool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	rdb, err := provideRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Redis = rdb

	a.Sessions = session.NewStore(rdb, session.NewPGStore(pool), session.Options{
		TTL:       cfg.SessionTTL,
		SyncAfter: cfg.SyncInterval,
	}, logger)

	a.Features = feature.NewStore(pool, logger)
	a.Registry = feature.NewRegistry(logger)
	if err := rebuildRegistry(ctx, a, cfg); err != nil {
		return nil, err
	}

	gem, err := model.NewGemini(ctx, model.Config{
		APIKey:        cfg.GeminiAPIKey,
		ModelName:     cfg.ModelName,
		EmbedderModel: cfg.EmbedderModel,
		Temperature:   cfg.Temperature,
		Limiter:       rate.NewLimiter(rate.Limit(modelRatePerSec), modelRateBurst),
	}, logger)
	if err != nil {
		return nil, err
	}
	a.Gemini = gem

	a.Know = knowledge.NewSearch(knowledge.NewPGQuerier(pool), gem, knowledge.DefaultThreshold, logger)

	executor := tool.NewExecutor(&http.Client{Timeout: tool.DefaultHTTPTimeout}, os.Getenv, logger)

	deps := agent.Deps{
		Generator: gem,
		Registry:  a.Registry,
		Executor:  executor,
		Sessions:  a.Sessions,
		Knowledge: a.Know,
	}
	hc := &http.Client{Timeout: 10 * time.Second}
	if cfg.DutiesSearchURL != "" {
		deps.Trips = clients.NewTripSearch(cfg.DutiesSearchURL, hc, logger)
	}
	if cfg.GeocodeURL != "" {
		deps.Geocoder = clients.NewGeocoder(cfg.GeocodeURL, hc, logger)
	}
	if cfg.FraudCheckURL != "" {
		deps.Fraud = clients.NewFraudCheck(cfg.FraudCheckURL, hc, logger)
	}
	if cfg.OTPVerifyURL != "" {
		deps.OTP = clients.NewOTPVerify(cfg.OTPVerifyURL, hc, logger)
	}
	if cfg.AnalyticsURL != "" {
		deps.Analytics = clients.NewAnalytics(cfg.AnalyticsURL, hc, logger)
	}

	a.Loop = agent.NewLoop(agent.Config{
		BasePrompt:    cfg.BasePrompt,
		KnowledgeTopK: cfg.KnowledgeTopK,
	}, deps, logger)

	a.Server = api.NewServer(a.Loop, a.Sessions, a.Registry, a.Features, a.Know, cfg.AudioMap, logger)
	return a, nil
}

// Close drains the session debouncer and closes the storage clients.
func (a *App) Close(ctx context.Context) {
	if a.Sessions != nil {
		a.Sessions.Close(ctx)
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil && a.Logger != nil {
			a.Logger.Warn("closing redis client", "error", err)
		}
	}
	if a.DBPool != nil {
		a.DBPool.Close()
	}
}

func providePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres url: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func provideRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

func rebuildRegistry(ctx context.Context, a *App, cfg *config.Config) error {
	features, err := a.Features.List(ctx)
	if err != nil {
		return fmt.Errorf("loading features: %w", err)
	}
	a.Registry.Rebuild(features, cfg.AudioMap)
	a.Logger.Info("feature registry built", "features", len(features))
	return nil
}
