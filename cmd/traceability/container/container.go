package container

import (
	"context"
	"fmt"

	"github.com/duna/traceability/cmd/traceability/repository"
	"github.com/duna/traceability/cmd/traceability/service"
	"github.com/duna/traceability/common/config"
	"github.com/duna/traceability/common/db"
	"github.com/duna/traceability/common/logger"
	rediscommon "github.com/duna/traceability/common/redis"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.DB
	Redis  *rediscommon.Client

	Store *repository.Store

	Governance *service.GovernanceService
	Execution  *service.ExecutionService
	Lots       *service.LotService
	QC         *service.QCService
	Trace      *service.TraceService
}

// New initializes all services and repositories once
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	database, err := db.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Trace caching is optional; everything else works without Redis.
	var redisClient *rediscommon.Client
	if cfg.Trace.CacheEnabled {
		redisClient, err = rediscommon.NewClient(ctx, cfg, log)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	store := repository.NewStore(database)

	var cache service.TraceCache
	if redisClient != nil {
		cache = redisClient
	}
	trace := service.NewTraceService(store, cache, cfg.Trace.CacheTTL, cfg.Trace.MaxDepth, log)

	governance := service.NewGovernanceService(store, log)
	execution := service.NewExecutionService(store, cfg.Site.Code, log)
	lots := service.NewLotService(store, trace, log)
	qc := service.NewQCService(store, lots, execution, service.NewLimitEvaluator(), log)

	return &Container{
		Config:     cfg,
		Logger:     log,
		DB:         database,
		Redis:      redisClient,
		Store:      store,
		Governance: governance,
		Execution:  execution,
		Lots:       lots,
		QC:         qc,
		Trace:      trace,
	}, nil
}

// Close releases the container's connections
func (c *Container) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Error("failed to close redis", "error", err)
		}
	}
	c.DB.Close()
}
