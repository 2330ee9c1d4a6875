package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/docker/client"
	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	"github.com/hibiken/asynq"
	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/common/auth"
	"github.com/redis/go-redis/v9"

	"simcloud/internal/config"
	"simcloud/internal/session/repo"
)

// Dependency holds the infrastructure clients shared by every component.
// Docker and the OCI credential provider are mutually exclusive; which one is
// live follows Provider.Kind.
type Dependency struct {
	Docker      *client.Client
	OCIProvider common.ConfigurationProvider
	Redis       *redis.Client
	PG          *pg.DB
	AsynqClient *asynq.Client
	AsynqRedis  asynq.RedisClientOpt
	Logger      *slog.Logger
}

func InitDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependency, error) {
	deps := &Dependency{Logger: logger}

	switch cfg.Provider.Kind {
	case "docker":
		dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("docker client: %w", err)
		}
		if _, err := dockerClient.Ping(ctx); err != nil {
			dockerClient.Close()
			return nil, fmt.Errorf("docker ping: %w", err)
		}
		deps.Docker = dockerClient
	case "oci":
		deps.OCIProvider = ociConfigProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		deps.Close()
		return nil, fmt.Errorf("redis ping (%s): %w", cfg.Redis.Addr, err)
	}
	deps.Redis = redisClient

	pgDB := pg.Connect(&pg.Options{
		Addr:     cfg.Postgres.Addr,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
	})
	if _, err := pgDB.Exec("SELECT 1"); err != nil {
		pgDB.Close()
		deps.Close()
		return nil, fmt.Errorf("postgres ping (%s): %w", cfg.Postgres.Addr, err)
	}
	deps.PG = pgDB

	if err := pgDB.Model(&repo.SessionModel{}).CreateTable(&orm.CreateTableOptions{
		IfNotExists: true,
	}); err != nil {
		deps.Close()
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	deps.AsynqRedis = asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	}
	deps.AsynqClient = asynq.NewClient(deps.AsynqRedis)

	return deps, nil
}

// ociConfigProvider prefers an explicit config file, then instance
// principals for in-cloud deployments, then the SDK default chain.
func ociConfigProvider(cfg *config.Config, logger *slog.Logger) common.ConfigurationProvider {
	if cfg.Provider.ConfigFile != "" {
		return common.CustomProfileConfigProvider(cfg.Provider.ConfigFile, "DEFAULT")
	}
	if cp, err := auth.InstancePrincipalConfigurationProvider(); err == nil {
		return cp
	} else {
		logger.Warn("Instance principal auth unavailable, falling back to default config", "error", err)
	}
	return common.DefaultConfigProvider()
}

func (d *Dependency) Close() {
	if d.AsynqClient != nil {
		d.AsynqClient.Close()
	}
	if d.PG != nil {
		d.PG.Close()
	}
	if d.Redis != nil {
		d.Redis.Close()
	}
	if d.Docker != nil {
		d.Docker.Close()
	}
}
