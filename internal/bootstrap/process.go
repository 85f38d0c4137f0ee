// Package bootstrap holds the startup sequence shared by the binaries under
// cmd/: environment and config loading, the tuned logger, dependency clients
// and their ordered shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/angelmondragon/bazari-settlement/pkg/db"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/migrate"
	"github.com/angelmondragon/bazari-settlement/pkg/pubsub"
	"github.com/angelmondragon/bazari-settlement/pkg/redis"
)

type closer struct {
	name string
	fn   func() error
}

// Process is one running binary. Clients opened through it are closed in
// reverse order by Close.
type Process struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger

	closers []closer
	exit    func(int)
}

// Start loads .env (optional) and the typed config, then rebuilds the logger
// with the configured level. Failures are logged and end the process.
func Start(kind string) *Process {
	p := &Process{
		Kind:   kind,
		Logger: logger.New(logger.Options{ServiceName: kind}),
		exit:   os.Exit,
	}
	if err := godotenv.Load(); err != nil {
		p.Logger.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		p.Fatal("failed to load config", err)
		return p
	}
	cfg.Service.Kind = kind
	p.Config = cfg
	p.Logger = logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	return p
}

// Must ends the process when err is set. msg describes the step that failed.
func (p *Process) Must(msg string, err error) {
	if err != nil {
		p.Fatal(msg, err)
	}
}

// Fatal logs err, closes what was opened so far and exits with status 1.
func (p *Process) Fatal(msg string, err error) {
	p.Logger.Error(context.Background(), msg, err)
	p.Close()
	p.exit(1)
}

// OnClose registers fn to run during Close.
func (p *Process) OnClose(name string, fn func() error) {
	p.closers = append(p.closers, closer{name: name, fn: fn})
}

// Close runs the registered closers newest first. It is safe to call twice.
func (p *Process) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(); err != nil {
			p.Logger.Error(context.Background(), fmt.Sprintf("error closing %s", c.name), err)
		}
	}
	p.closers = nil
}

// Database opens Postgres and applies dev auto-migrations when enabled.
func (p *Process) Database(ctx context.Context) *db.Client {
	client, err := db.New(ctx, p.Config.DB, p.Logger)
	p.Must("failed to bootstrap database", err)
	p.OnClose("database", client.Close)
	p.Must("failed to run dev migrations", migrate.MaybeRunDev(ctx, p.Config, p.Logger, client))
	return client
}

// Redis opens the shared redis client.
func (p *Process) Redis(ctx context.Context) *redis.Client {
	client, err := redis.New(ctx, p.Config.Redis, p.Logger)
	p.Must("failed to bootstrap redis", err)
	p.OnClose("redis", client.Close)
	return client
}

// PubSub opens the Pub/Sub client for publishing or consuming.
func (p *Process) PubSub(ctx context.Context, mode pubsub.Mode) *pubsub.Client {
	client, err := pubsub.NewClient(ctx, p.Config.GCP, p.Config.PubSub, mode, p.Logger)
	p.Must("failed to bootstrap pubsub", err)
	p.OnClose("pubsub client", client.Close)
	return client
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the base log
// fields of the process plus extra.
func (p *Process) SignalContext(extra map[string]any) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	fields := map[string]any{
		"env":         p.Config.App.Env,
		"serviceKind": p.Kind,
	}
	for k, v := range extra {
		fields[k] = v
	}
	return p.Logger.WithFields(ctx, fields), stop
}
