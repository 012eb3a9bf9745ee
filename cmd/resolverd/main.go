// Command resolverd is the composition root for the AI-augmented incident
// resolution core: it wires config, storage, the LLM provider pool, and the
// resolution pipeline into a JSON HTTP facade over spec.md §6's public
// operations.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/resolvecore/resolver/internal/config"
	"github.com/resolvecore/resolver/pkg/audit"
	"github.com/resolvecore/resolver/pkg/dispatcher"
	"github.com/resolvecore/resolver/pkg/domain"
	"github.com/resolvecore/resolver/pkg/embedder"
	"github.com/resolvecore/resolver/pkg/entrystore"
	"github.com/resolvecore/resolver/pkg/notifier"
	"github.com/resolvecore/resolver/pkg/notifier/slacksink"
	"github.com/resolvecore/resolver/pkg/obs/logging"
	"github.com/resolvecore/resolver/pkg/providerpool"
	"github.com/resolvecore/resolver/pkg/providerpool/providers"
	"github.com/resolvecore/resolver/pkg/resolver"
	"github.com/resolvecore/resolver/pkg/retriever"
	"github.com/resolvecore/resolver/pkg/sanitizer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("resolverd exited with error", zap.Error(err))
	}
}

func buildLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	development := lc.Format == "console"
	l, err := logging.New("resolverd", development)
	if err != nil {
		return nil, err
	}
	if lvl, lvlErr := zap.ParseAtomicLevel(lc.Level); lvlErr == nil {
		return l.WithOptions(zap.IncreaseLevel(lvl.Level())), nil
	}
	return l, nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := entrystore.Open(ctx, cfg.Store.DSN, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	auditConn, err := sqlx.ConnectContext(ctx, "pgx", cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer auditConn.Close()
	auditLog := audit.New(auditConn)

	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer cache.Close()
	}

	embProvider, err := buildEmbeddingProvider(cfg)
	if err != nil {
		return err
	}
	emb := embedder.New(embProvider, cache, cfg.Embedding.Dimension,
		embedder.WithCacheTTL(cfg.Embedding.CacheTTL.Duration()),
		embedder.WithLogger(logger))

	retr := retriever.New(store, emb, cfg.Embedding.ModelID)

	pool, err := buildProviderPool(ctx, cfg)
	if err != nil {
		return err
	}

	disp := dispatcher.New(pool, cache, dispatcher.WithDedupTTL(cfg.Dispatcher.DedupTTL.Duration()))

	san := sanitizer.NewSanitizer(sanitizer.WithMandatoryTypes(mandatoryTypes(cfg.Sanitizer.MandatoryTypes)))

	notifyOpts := []notifier.Option{
		notifier.WithBufferSize(cfg.Notifier.BufferSize),
		notifier.WithGracePeriod(cfg.Notifier.GracePeriod.Duration()),
		notifier.WithLogger(logger),
	}
	if cfg.Slack.Enabled {
		notifyOpts = append(notifyOpts, notifier.WithSink(slacksink.New(cfg.Slack.Token, cfg.Slack.Channel)))
	}
	notify := notifier.New(notifyOpts...)

	res := resolver.New(store, san, retr, disp, auditLog, notify, cfg.Embedding.ModelID)

	metrics := newMetrics()
	srv := newServer(serverDeps{
		store:    store,
		resolver: res,
		audit:    auditLog,
		notifier: notify,
		logger:   logger,
		metrics:  metrics,
		defaults: defaultProposeOptions(cfg),
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.HTTPPort,
		Handler:      srv.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:    ":" + cfg.Server.MetricsPort,
		Handler: metrics.handler(),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

// buildEmbeddingProvider constructs the langchaingo-backed embedding client
// for embedding.model_id. langchaingo embedders are constructed per-model by
// the caller, so a single configured model is registered here; a deployment
// embedding against more than one model would extend this registry.
func buildEmbeddingProvider(cfg *config.Config) (embedder.Provider, error) {
	llm, err := openai.New(openai.WithToken(cfg.Embedding.APIKey), openai.WithEmbeddingModel(cfg.Embedding.ModelID))
	if err != nil {
		return nil, err
	}
	emb, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, err
	}
	return embedder.NewLangchainProvider(map[string]embeddings.Embedder{cfg.Embedding.ModelID: emb}), nil
}

// buildProviderPool registers every provider named in cfg.Providers,
// applying the shared breaker settings to each.
func buildProviderPool(ctx context.Context, cfg *config.Config) (*providerpool.Pool, error) {
	pool := providerpool.New()
	for id, pc := range cfg.Providers {
		plugin, err := buildProviderPlugin(ctx, id, pc)
		if err != nil {
			return nil, err
		}
		pool.Register(providerpool.Config{
			ID:               id,
			Models:           pc.Models,
			Capacity:         pc.Capacity,
			RefillRate:       pc.RefillRate,
			MaxConcurrent:    pc.MaxConcurrent,
			Timeout:          pc.Timeout.Duration(),
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown.Duration(),
			CooldownMax:      cfg.Breaker.CooldownMax.Duration(),
		}, plugin)
	}
	return pool, nil
}

func buildProviderPlugin(ctx context.Context, id string, pc config.ProviderConfig) (providerpool.Provider, error) {
	switch id {
	case "anthropic":
		return providers.NewAnthropic(pc.APIKey), nil
	case "bedrock":
		return providers.NewBedrock(ctx, pc.Region)
	default:
		return nil, unknownProviderError(id)
	}
}

type unknownProviderError string

func (e unknownProviderError) Error() string { return "unknown provider id: " + string(e) }

func mandatoryTypes(names []string) []domain.SensitiveType {
	out := make([]domain.SensitiveType, len(names))
	for i, n := range names {
		out[i] = domain.SensitiveType(n)
	}
	return out
}

// defaultProposeOptions builds the resolver.ProposeOptions baseline applied
// to every ProposeResolution request; handleProposeResolution overlays any
// fields the caller's request body sets explicitly.
func defaultProposeOptions(cfg *config.Config) resolver.ProposeOptions {
	return resolver.ProposeOptions{
		ModelFamily:   cfg.Embedding.ModelID,
		FallbackOrder: cfg.Dispatcher.FallbackOrder,
		MaxTokens:     1024,
		Temperature:   0.2,
		Deadline:      cfg.Propose.Deadline.Duration(),
		RetrieveOpts: retriever.Options{
			VectorTopK: cfg.Retriever.KVector,
			TextTopK:   cfg.Retriever.KText,
			Threshold:  cfg.Retriever.Threshold,
			RRFK:       cfg.Retriever.RRFK,
			Limit:      cfg.Retriever.Limit,
			MinSources: cfg.Retriever.MinSources,
		},
	}
}
