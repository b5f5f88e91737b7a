// Package app assembles the Block Poller, Alert Matcher, Hysteresis Engine,
// and Delivery Queue Producer into a single indexer process, and owns its
// graceful shutdown sequencing.
package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"flare-emissary/internal/chain"
	"flare-emissary/internal/config"
	"flare-emissary/internal/decode"
	"flare-emissary/internal/engine"
	"flare-emissary/internal/ingest"
	"flare-emissary/internal/queue"
	"flare-emissary/internal/storage"
	"flare-emissary/internal/version"
)

// shutdownTimeout bounds how long Run waits for in-flight work to drain
// after ctx is cancelled before forcing a return, per §5's shutdown
// sequencing note.
const shutdownTimeout = 30 * time.Second

// eventChannelBuffer sizes the PersistedEvent channel between the poller
// and the matcher; a full channel back-pressures the poller's commit loop
// rather than dropping events.
const eventChannelBuffer = 256

// queueSweepInterval and queueSweepStaleAfter implement §7's QueueError
// policy: a notification stuck pending is retried on a background sweeper
// every 30s.
const queueSweepInterval = 30 * time.Second
const queueSweepStaleAfter = 30 * time.Second

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	store := storage.NewStore(pool)
	return store, store.Close, nil
}

func (a *App) newRedisClient() *redis.Client {
	opts, err := redis.ParseURL(a.Config.Redis.URL)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("invalid redis.url, falling back to default localhost options")
		opts = &redis.Options{Addr: "localhost:6379"}
	}
	return redis.NewClient(opts)
}

func (a *App) newChainClient() *chain.Client {
	return chain.New(a.Config.Chain.RPCURL, a.Config.Chain.FallbackURL, a.Config.Chain.RequestTimeout)
}

func (a *App) newRegistry() *decode.Registry {
	r := decode.NewRegistry()
	decode.RegisterFlareProtocols(r)
	if a.Config.Indexer.EnableGeneric {
		r.EnableGeneric(decode.NewGenericDecoder())
	}
	return r
}

// buildIndexer wires the Poller, Matcher, Hysteresis Engine, and Queue
// Producer described in §5, returning the goroutines Run drives.
func (a *App) buildIndexer(store *storage.Store, redisClient *redis.Client, client *chain.Client) (*ingest.Poller, *engine.Matcher, *queue.Producer, chan ingest.PersistedEvent) {
	registry := a.newRegistry()

	events := make(chan ingest.PersistedEvent, eventChannelBuffer)

	poller := ingest.New(ingest.Config{
		Chain:         storage.Chain(a.Config.Chain.Name),
		PollInterval:  a.Config.Indexer.PollInterval,
		Confirmations: a.Config.Indexer.Confirmations,
		BatchSize:     a.Config.Indexer.BatchSize,
		ReorgWindow:   a.Config.Indexer.ReorgWindow,
		AdvisoryKey:   a.Config.Indexer.AdvisoryLockKey,
		Addresses:     a.Config.Indexer.ContractAddrs,
	}, client, registry, store, events, a.Logger)

	producer := queue.NewProducer(redisClient, a.Config.Redis.StreamPrefix, store, a.Logger)
	cooldown := engine.NewCooldownGuard(redisClient)
	hyst := engine.NewHysteresis(store, producer, cooldown, a.Logger)
	matcher := engine.NewMatcher(store, hyst, a.Logger)

	return poller, matcher, producer, events
}

// runQueueSweeper retries Notifications stuck pending for longer than
// queueSweepStaleAfter, per §7's QueueError policy. It runs until ctx is
// cancelled and never returns an error to Run: a failed sweep just tries
// again next tick.
func (a *App) runQueueSweeper(ctx context.Context, producer *queue.Producer) {
	ticker := time.NewTicker(queueSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := producer.SweepOnce(ctx, queueSweepStaleAfter)
			if err != nil {
				a.Logger.Warn().Err(err).Msg("queue sweep failed")
				continue
			}
			if swept > 0 {
				a.Logger.Info().Int("swept", swept).Msg("queue sweep retried stuck notifications")
			}
		}
	}
}

// Run executes the long-running indexer service: Block Poller feeding the
// Alert Matcher over an in-process channel, per §5.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	redisClient := a.newRedisClient()
	defer redisClient.Close()

	client := a.newChainClient()
	defer client.Close()

	poller, matcher, producer, events := a.buildIndexer(store, redisClient, client)

	pollerErr := make(chan error, 1)
	matcherErr := make(chan error, 1)

	go func() {
		pollerErr <- poller.Run(ctx)
	}()
	go func() {
		matcherErr <- matcher.Run(ctx, events)
	}()
	go a.runQueueSweeper(ctx, producer)

	a.Logger.Info().Str("chain", string(a.Config.Chain.Name)).Str("version", version.String()).Msg("indexer started")

	// The poller owns the events channel and stops sending on ctx
	// cancellation or a fatal error; only after it has fully returned is it
	// safe to consider the matcher drained, per §5's "poller first, then
	// matcher" shutdown order.
	var firstErr error
	select {
	case err := <-pollerErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error().Err(err).Msg("poller terminated with error")
			firstErr = err
		}
		cancel()
	case <-ctx.Done():
	}

	select {
	case err := <-matcherErr:
		if err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
		}
	case <-time.After(shutdownTimeout):
		a.Logger.Warn().Dur("timeout", shutdownTimeout).Msg("matcher did not drain in time, forcing shutdown")
	}

	a.Logger.Info().Msg("indexer stopped")
	return firstErr
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	FromBlock uint64
	ToBlock   uint64
	DryRun    bool
}
