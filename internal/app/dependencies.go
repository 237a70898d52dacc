package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klokku/calsync/internal/config"
	"github.com/klokku/calsync/internal/event_bus"
	"github.com/klokku/calsync/internal/utils"
	"github.com/klokku/calsync/pkg/calsync"
	"github.com/klokku/calsync/pkg/conflict"
	"github.com/klokku/calsync/pkg/formatter"
	"github.com/klokku/calsync/pkg/google"
	"github.com/klokku/calsync/pkg/grouper"
	"github.com/klokku/calsync/pkg/schedule"
	"github.com/klokku/calsync/pkg/user"
	log "github.com/sirupsen/logrus"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	EventBus *event_bus.EventBus

	UserService user.Service
	UserHandler *user.Handler

	GoogleAuth    *google.GoogleAuth
	GoogleService google.Service
	GoogleHandler *google.Handler

	ScheduleRepository schedule.Repository
	Formatter          *formatter.Formatter
	SyncService        calsync.Service
	SyncHandler        *calsync.Handler

	Clock utils.Clock
}

// BuildDependencies initializes and wires all application services and handlers.
func BuildDependencies(ctx context.Context, db *pgxpool.Pool, cfg config.Application) (*Dependencies, error) {
	deps := &Dependencies{}
	deps.Clock = utils.SystemClock{}
	deps.EventBus = event_bus.NewEventBus()
	subscribeSyncLogging(deps.EventBus)

	deps.UserService = user.NewService(user.NewRepo(db), cfg.Sync.TimeZone)
	deps.UserHandler = user.NewHandler(deps.UserService)

	deps.GoogleAuth = google.NewGoogleAuth(google.NewTokenRepository(db), cfg)
	deps.GoogleService = google.NewService(deps.GoogleAuth, deps.UserService)
	deps.GoogleHandler = google.NewHandler(deps.GoogleService)

	f, err := formatter.New(cfg.Sync.TimeZone, cfg.Sync.Reminder)
	if err != nil {
		return nil, fmt.Errorf("invalid sync formatting config: %w", err)
	}
	deps.Formatter = f
	deps.ScheduleRepository = schedule.NewRepository(db)

	syncService := calsync.NewService(
		deps.ScheduleRepository,
		deps.GoogleService,
		deps.Formatter,
		userOptions{users: deps.UserService},
		deps.EventBus,
		calsync.Config{
			Policy:  grouper.Policy{Threshold: cfg.Sync.GroupThreshold},
			Merge:   conflict.MergePolicy{NonCriticalFields: cfg.Sync.MergeFields},
			Workers: cfg.Sync.Workers,
		},
	)
	cache, err := resultCache(ctx, cfg.Redis, deps.Clock)
	if err != nil {
		return nil, err
	}
	deps.SyncService = calsync.NewIdempotentService(syncService, cache, cfg.Redis.TTL)
	deps.SyncHandler = calsync.NewHandler(deps.SyncService)

	return deps, nil
}

func resultCache(ctx context.Context, cfg config.Redis, clock utils.Clock) (calsync.ResultCache, error) {
	if cfg.URL == "" {
		log.Info("Redis is not configured, sync results are cached in memory")
		return calsync.NewMemoryResultCache(clock), nil
	}
	client, err := calsync.OpenRedis(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Infof("Caching sync results in Redis at %s", client.Options().Addr)
	return calsync.NewRedisResultCache(client), nil
}

// userOptions formats events in the owner's own time zone.
type userOptions struct {
	users user.Service
}

func (o userOptions) FormatOptions(ctx context.Context, ownerId int) (formatter.Options, error) {
	owner, err := o.users.GetUser(ctx, ownerId)
	if err != nil {
		return formatter.Options{}, err
	}
	return formatter.Options{TimeZone: owner.Settings.Timezone}, nil
}

func subscribeSyncLogging(eb *event_bus.EventBus) {
	event_bus.SubscribeTyped(eb, event_bus.SyncCompletedEvent, func(e event_bus.EventT[event_bus.SyncCompleted]) error {
		d := e.Data
		log.WithFields(log.Fields{
			"owner":     d.OwnerId,
			"key":       d.IdempotencyKey,
			"dryRun":    d.DryRun,
			"created":   d.Created,
			"updated":   d.Updated,
			"skipped":   d.Skipped,
			"failed":    d.Failed,
			"conflicts": d.Conflicts,
			"quota":     d.QuotaUsed,
		}).Info("calendar sync completed")
		return nil
	})
	event_bus.SubscribeTyped(eb, event_bus.ConflictDetectedEvent, func(e event_bus.EventT[event_bus.ConflictDetected]) error {
		d := e.Data
		log.WithFields(log.Fields{
			"owner":      d.OwnerId,
			"event":      d.LocalEventId,
			"remote":     d.RemoteEventId,
			"type":       d.Type,
			"suggestion": d.SuggestedResolution,
		}).Warn("calendar conflict detected")
		return nil
	})
}
