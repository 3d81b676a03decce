// Command demo wires the task engine into a minimal frame-based host
// service: a Postgres-or-memory store, a pubsub-or-memory event sink, one
// example handler, and the stuck-task sweeper. It exists as a reference
// for host services embedding github.com/antinvestor/taskengine, not as a
// deployable product in its own right.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/util"
	"github.com/redis/go-redis/v9"

	"github.com/antinvestor/taskengine"
	enginecfg "github.com/antinvestor/taskengine/config"
	memorysink "github.com/antinvestor/taskengine/sink/memory"
	pubsubsink "github.com/antinvestor/taskengine/sink/pubsub"
	memorystore "github.com/antinvestor/taskengine/store/memory"
	pgstore "github.com/antinvestor/taskengine/store/postgres"
	"github.com/antinvestor/taskengine/sweeper"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[enginecfg.EngineConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return
	}
	if cfg.Name() == "" {
		cfg.ServiceName = "taskengine_demo"
	}

	ctx, svc := frame.NewServiceWithContext(
		ctx,
		frame.WithConfig(&cfg),
		frame.WithDatastore(),
	)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	store := setupStore(ctx, svc, cfg)
	eventSink, dlqSink := setupSinks(cfg)
	if auditStore, ok := store.(*pgstore.Store); ok && cfg.EnableAuditEvents {
		eventSink = taskengine.NewMultiEventSink(eventSink, auditStore)
	}
	metrics := taskengine.NewMetrics(nil)

	registry := taskengine.NewHandlerRegistry()
	_ = registry.Register(taskengine.HandlerFunc{
		TaskType: "demo.echo",
		Func: func(_ context.Context, task *taskengine.Task) (taskengine.TaskResult, error) {
			return taskengine.NewSuccess(task.TaskID, task.Data), nil
		},
	})

	initial, maxDelay, attemptTimeout := cfg.RetryPolicyDurations()
	engine := taskengine.NewEngine(taskengine.EngineConfig{
		RetryPolicy: taskengine.RetryPolicy{
			MaxRetries:     cfg.MaxRetries,
			InitialDelay:   initial,
			MaxDelay:       maxDelay,
			AttemptTimeout: attemptTimeout,
			JitterFraction: cfg.JitterFraction,
		},
		EventTopic: "task-events",
		DLQTopic:   "task-dlq",
	}, registry, store, eventSink, dlqSink, taskengine.SystemClock{}, metrics)

	if cfg.ExecutionsPerSecond > 0 {
		engine.SetRateLimit("demo.echo", cfg.ExecutionsPerSecond, cfg.ExecutionBurst)
	}

	lockManager := setupLockManager(ctx, cfg)
	sweep := sweeper.New(sweeper.Config{
		Interval:       time.Duration(cfg.SweepIntervalSeconds) * time.Second,
		StuckThreshold: time.Duration(cfg.StuckThresholdMinutes) * time.Minute,
		MaxRetries:     cfg.MaxRetries,
		PageSize:       100,
		Owner:          cfg.Name(),
		LockTTL:        time.Minute,
	}, store, engine, lockManager, taskengine.SystemClock{})
	go sweep.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"taskengine_demo"}`))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"taskengine_demo"}`))
	})

	svc.Init(ctx, frame.WithHTTPHandler(mux))

	log.Info("starting task engine demo service")
	if err := svc.Run(ctx, ""); err != nil {
		log.WithError(err).Fatal("could not run server")
	}
}

func setupStore(ctx context.Context, svc *frame.Service, cfg enginecfg.EngineConfig) taskengine.TaskStore {
	if cfg.DatabaseURL == "" {
		return memorystore.New()
	}

	dbManager := svc.DatastoreManager()
	dbPool := dbManager.GetPool(ctx, datastore.DefaultPoolName)
	store := pgstore.New(dbPool, pgstore.Config{
		SchemaName:        cfg.SchemaName,
		TablePrefix:       cfg.TablePrefix,
		TasksTableName:    cfg.TasksTableName,
		EnableAuditEvents: cfg.EnableAuditEvents,
	})
	if cfg.AutoInitialize {
		if err := store.Migrate(ctx); err != nil {
			util.Log(ctx).WithError(err).Fatal("could not migrate task store")
		}
	}
	return store
}

func setupSinks(cfg enginecfg.EngineConfig) (taskengine.EventSink, taskengine.DLQSink) {
	if cfg.EventTopicURI == "" || cfg.EventTopicURI == "mem://task-events" {
		return memorysink.NewEventSink(), memorysink.NewDLQSink()
	}

	dsnFor := func(topic string) string { return cfg.EventTopicURI }
	dlqDsnFor := func(topic string) string { return cfg.DLQTopicURI }
	return pubsubsink.NewEventSink(dsnFor), pubsubsink.NewDLQSink(dlqDsnFor)
}

func setupLockManager(ctx context.Context, cfg enginecfg.EngineConfig) taskengine.LockManager {
	if cfg.RedisURL == "" {
		return taskengine.NewInMemoryLockManager()
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		util.Log(ctx).WithError(err).Warn("invalid redis url, falling back to in-memory locking")
		return taskengine.NewInMemoryLockManager()
	}
	return taskengine.NewRedisLockManager(redis.NewClient(opts))
}
