// Package bootstrap wires every component into a running service (config ->
// logger -> db -> redis -> stores -> engine -> handlers), with an
// Option-driven setup and ordered cleanup on shutdown. Grounded directly on
// the teacher's common/bootstrap package (Setup/Components/Option).
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/canvas-engine/internal/callback"
	"github.com/lyzr/canvas-engine/internal/config"
	"github.com/lyzr/canvas-engine/internal/db"
	"github.com/lyzr/canvas-engine/internal/engine"
	"github.com/lyzr/canvas-engine/internal/entity"
	"github.com/lyzr/canvas-engine/internal/logging"
	"github.com/lyzr/canvas-engine/internal/nodehandler"
	"github.com/lyzr/canvas-engine/internal/notify"
	"github.com/lyzr/canvas-engine/internal/predicate"
	"github.com/lyzr/canvas-engine/internal/ratelimit"
	"github.com/lyzr/canvas-engine/internal/redisclient"
	"github.com/lyzr/canvas-engine/internal/reply"
	"github.com/lyzr/canvas-engine/internal/store"
	"github.com/lyzr/canvas-engine/internal/version"
	"github.com/lyzr/canvas-engine/internal/webhook"
)

// Components holds every initialized service dependency.
type Components struct {
	Config *config.Config
	Logger *logging.Logger

	DB    *db.DB
	Redis *redisclient.Client

	Store      *store.Store
	Version    *version.Manager
	Engine     *engine.Engine
	Webhook    *webhook.Processor
	Callback   *callback.Handler
	Reply      *reply.Processor
	RateLimit  *ratelimit.Limiter
	NotifyHub  *notify.Hub
	Subscriber *notify.Subscriber

	cleanupFuncs []func() error
}

// Option configures Setup.
type Option func(*options)

type options struct {
	skipDB       bool
	skipRedis    bool
	customLogger *logging.Logger
	customConfig *config.Config
}

func defaultOptions() *options { return &options{} }

// WithoutDB skips database initialization (unit tests that never touch storage).
func WithoutDB() Option { return func(o *options) { o.skipDB = true } }

// WithoutRedis skips Redis initialization (rate limiting/notify become no-ops).
func WithoutRedis() Option { return func(o *options) { o.skipRedis = true } }

// WithCustomLogger uses a caller-provided logger instead of building one from config.
func WithCustomLogger(log *logging.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// WithCustomConfig uses a caller-provided config instead of loading from the environment.
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

// Setup initializes every component a service needs, in dependency order,
// registering cleanup for each as it goes so Shutdown can unwind safely even
// if a later step fails.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	c := &Components{}

	if options.customConfig != nil {
		c.Config = options.customConfig
	} else {
		cfg, err := config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		c.Config = cfg
	}

	if options.customLogger != nil {
		c.Logger = options.customLogger
	} else {
		c.Logger = logging.New(c.Config.Service.LogLevel, c.Config.Service.LogFormat)
	}
	c.Logger.Info("initializing service", "service", serviceName, "environment", c.Config.Service.Environment)

	if !options.skipDB {
		pool, err := db.New(ctx, c.Config, c.Logger)
		if err != nil {
			c.Shutdown(ctx)
			return nil, fmt.Errorf("connect database: %w", err)
		}
		c.DB = pool
		c.addCleanup(func() error { c.DB.Close(); return nil })
		c.Store = store.New(c.DB)
	}

	var notifier engine.Notifier
	if !options.skipRedis {
		raw := redis.NewClient(&redis.Options{Addr: c.Config.Redis.Addr, Password: c.Config.Redis.Password, DB: c.Config.Redis.DB})
		if err := raw.Ping(ctx).Err(); err != nil {
			c.Shutdown(ctx)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		c.Redis = redisclient.New(raw, c.Logger)
		c.addCleanup(func() error { return raw.Close() })

		c.RateLimit = ratelimit.New(raw, c.Logger)

		hub := notify.NewHub(c.Logger)
		hubCtx, cancelHub := context.WithCancel(ctx)
		go hub.Run(hubCtx)
		c.addCleanup(func() error { cancelHub(); return nil })
		c.NotifyHub = hub

		c.Subscriber = notify.NewSubscriber(raw, hub, c.Logger)
		subCtx, cancelSub := context.WithCancel(ctx)
		go c.Subscriber.Start(subCtx)
		c.addCleanup(func() error { cancelSub(); return nil })

		notifier = notify.NewPublisher(raw, c.Logger)
	}

	if c.Store != nil {
		mover := entity.New(c.Store)
		pred := predicate.New()
		registry := nodehandler.NewRegistry(
			nodehandler.NewWorkerHandler(c.Logger),
			nodehandler.NewSplitterHandler(),
			nodehandler.NewCollectorHandler(),
			nodehandler.NewUXHandler(),
		)

		c.Engine = engine.New(c.Store, registry, pred, mover, c.Config, notifier, c.Logger)
		c.Version = version.New(c.Store)
		c.Callback = callback.New(c.Engine)
		c.Reply = reply.New(c.Store, c.Engine, c.Logger)

		if c.RateLimit != nil {
			c.Webhook = webhook.New(c.Store, c.Engine, webhook.NewRegistry(), c.RateLimit, c.Logger)
		} else {
			c.Webhook = webhook.New(c.Store, c.Engine, webhook.NewRegistry(), nil, c.Logger)
		}
	}

	c.Logger.Info("service initialization complete", "service", serviceName, "db", c.DB != nil, "redis", c.Redis != nil)
	return c, nil
}

// Shutdown runs every registered cleanup function in reverse (LIFO) order.
func (c *Components) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			if c.Logger != nil {
				c.Logger.Error("cleanup error", "error", err)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
