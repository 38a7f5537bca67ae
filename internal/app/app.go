package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trunov/thumbhub/cmd/migrate"
	"github.com/trunov/thumbhub/internal/cache"
	"github.com/trunov/thumbhub/internal/config"
	"github.com/trunov/thumbhub/internal/entities"
	"github.com/trunov/thumbhub/internal/objectstore"
	"github.com/trunov/thumbhub/internal/pipeline"
	"github.com/trunov/thumbhub/internal/processor"
	"github.com/trunov/thumbhub/internal/queue"
	"github.com/trunov/thumbhub/internal/rabbitmq"
	"github.com/trunov/thumbhub/internal/redisholder"
	"github.com/trunov/thumbhub/internal/report"
	"github.com/trunov/thumbhub/internal/repository/storage"
	"github.com/trunov/thumbhub/internal/transport/handler"
	"github.com/trunov/thumbhub/internal/transport/router"
	use_case "github.com/trunov/thumbhub/internal/use-case"
)

const (
	statusNamespace = "thumbhub:status"
	shutdownTimeout = 10 * time.Second
)

type runStore interface {
	pipeline.Observer
	GetRun(ctx context.Context, bucket, key string) (entities.RunRecord, error)
	Close()
}

// Core is what every entrypoint needs: the pipeline and the observers
// that record its runs.
type Core struct {
	Pipeline *pipeline.Pipeline

	holder *redisholder.Holder
	cache  *cache.Cache
	repo   runStore
}

// NewCore builds the object store, the optional Redis status cache, the
// optional Postgres run log and the Sentry reporter, then the pipeline.
// Redis is only dialed when addresses are configured, Postgres only when a
// DSN is set.
func NewCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Core, error) {
	c := &Core{}
	var observers []pipeline.Observer

	store, err := NewObjectStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Database.DSN != "" {
		if err := migrate.Migrate(ctx, cfg.Database.DSN, migrate.Migrations); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		repo, err := storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		c.repo = repo
		observers = append(observers, repo)
	}

	if len(cfg.Redis.Addresses()) > 0 {
		holder, err := redisholder.Build(ctx, &cfg.Redis, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.holder = holder
		c.cache = cache.NewCache(statusNamespace, holder.Get(), cfg.Redis.StatusTTL())
		observers = append(observers, c.cache)
	}

	if cfg.Sentry.SentryDSN != "" {
		observers = append(observers, report.NewSentry(nil))
	}

	c.Pipeline, err = pipeline.New(store, pipeline.Options{
		Spec:          cfg.Thumbnail.Spec(),
		DestBucket:    cfg.Thumbnail.DestBucket,
		DestPrefix:    cfg.Thumbnail.DestPrefix,
		Workers:       cfg.Pipeline.Workers,
		RecordTimeout: cfg.Pipeline.RecordTimeout(),
		MinBudget:     cfg.Pipeline.MinBudget(),
		Decoder:       processor.Decoder{MaxPixels: cfg.Thumbnail.MaxPixels},
		Renderer:      processor.NewRenderer(cfg.Thumbnail.JPEGQuality),
		Observers:     observers,
		Logger:        logger,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

func (c *Core) Close() {
	if c.repo != nil {
		c.repo.Close()
	}
	if c.holder != nil {
		_ = c.holder.Close()
	}
}

// NewObjectStore picks the adapter named by storage.backend.
func NewObjectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendS3:
		return objectstore.NewS3(ctx, &cfg.Storage.S3, cfg.Storage.MaxObjectBytes, logger)
	case config.BackendMinio:
		m, err := objectstore.NewMinio(&cfg.Storage.Minio, cfg.Storage.MaxObjectBytes, logger)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx, cfg.Thumbnail.DestBucket); err != nil {
			return nil, err
		}
		return m, nil
	case config.BackendMemory:
		return objectstore.NewMemstore()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

type App struct {
	HttpServer *http.Server

	core     *Core
	worker   *queue.Worker
	consumer *rabbitmq.Consumer
	logger   *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	core, err := NewCore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &App{core: core, logger: logger}

	var (
		wqueue      use_case.Queue
		statusCache use_case.StatusCache
		runs        use_case.Storage
	)
	if core.cache != nil {
		statusCache = core.cache
	}
	if core.repo != nil {
		runs = core.repo
	}

	switch cfg.Events.Source {
	case config.SourceRedis:
		if core.holder == nil {
			core.Close()
			return nil, errors.New("redis event source needs redis.addrs or redis.nodes")
		}
		a.worker = queue.NewWorker(core.holder.Get(), cfg.Events.Stream, core.Pipeline, logger)
		wqueue = a.worker.Producer()
	case config.SourceAMQP:
		a.consumer, err = rabbitmq.NewConsumer(cfg.Events.AMQP, core.Pipeline, logger)
		if err != nil {
			core.Close()
			return nil, err
		}
	}

	uc := use_case.New(runs, statusCache, wqueue, core.Pipeline, logger)

	h := handler.New(uc, cfg, logger)
	r := router.NewRouter(h)

	a.HttpServer = &http.Server{
		Handler:      r,
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	return a, nil
}

// Run serves HTTP and the configured event source until ctx is done, then
// shuts everything down.
func (a *App) Run(ctx context.Context) error {
	defer a.core.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting server", "addr", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.HttpServer.Shutdown(shutdownCtx)
	})

	if a.worker != nil {
		g.Go(func() error {
			return ignoreCanceled(a.worker.Start(ctx))
		})
	}

	if a.consumer != nil {
		g.Go(func() error {
			defer a.consumer.Close()
			return ignoreCanceled(a.consumer.Start(ctx))
		})
	}

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
