package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ahrav/go-assay/infrastructure/cache"
	"github.com/ahrav/go-assay/infrastructure/evidence"
	"github.com/ahrav/go-assay/infrastructure/fusion"
	"github.com/ahrav/go-assay/infrastructure/governor"
	"github.com/ahrav/go-assay/infrastructure/inference"
	"github.com/ahrav/go-assay/infrastructure/llm"
	"github.com/ahrav/go-assay/infrastructure/reasoning"
	"github.com/ahrav/go-assay/infrastructure/storage/memory"
	"github.com/ahrav/go-assay/infrastructure/storage/sqlite"
	"github.com/ahrav/go-assay/internal/ports"
)

// Storage is a backend serving every persistence port.
type Storage interface {
	ports.ScoreProvider
	ports.FeatureStore
	ports.EvidenceStore
	ports.AssessmentRepository
	ports.LedgerStore
}

// Dependencies overrides collaborators that Build would otherwise create
// from configuration. Zero fields are built from Config.
type Dependencies struct {
	Storage     Storage
	ModelLoader inference.Loader
	LLMClient   ports.LLMClient
	Loader      ports.ConfigLoader
	Metrics     ports.MetricsCollector
	Logger      *slog.Logger
}

// Runtime is a fully wired engine together with the components the CLI
// reaches into directly.
type Runtime struct {
	Engine   *Engine
	Governor *governor.Governor
	Models   *inference.Engine
	Storage  Storage

	closers []func() error
}

// Close releases resources Build opened.
func (r *Runtime) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Build wires an Engine from cfg.
func Build(ctx context.Context, cfg *Config, deps Dependencies) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Runtime{Storage: deps.Storage}
	if rt.Storage == nil {
		store, closer, err := OpenStorage(cfg.Storage)
		if err != nil {
			return nil, err
		}
		rt.Storage = store
		if closer != nil {
			rt.closers = append(rt.closers, closer)
		}
	}

	loader := deps.ModelLoader
	if loader == nil {
		loader = inference.DirLoader{Dir: cfg.ModelsDir}
	}
	rt.Models = inference.NewEngine(loader, cfg.Schemas(),
		inference.WithMetrics(metrics), inference.WithLogger(logger))

	extractor, err := evidence.NewExtractor(cfg.Profiles(),
		evidence.WithStore(rt.Storage),
		evidence.WithSelection(cfg.Evidence),
		evidence.WithMetrics(metrics),
		evidence.WithLogger(logger),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}

	gc, err := cfg.GovernorSettings()
	if err != nil {
		rt.Close()
		return nil, err
	}
	ledger := governor.NewLedger(
		governor.WithLedgerStore(rt.Storage),
		governor.WithRetention(cfg.Governor.LedgerRetention),
		governor.WithLedgerLogger(logger),
	)
	rt.Governor, err = governor.New(gc,
		governor.WithLedger(ledger), governor.WithMetrics(metrics), governor.WithLogger(logger))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Governor.Restore(ctx)

	templates, err := reasoning.NewTemplates(cfg.TemplateOverrides())
	if err != nil {
		rt.Close()
		return nil, err
	}

	client := deps.LLMClient
	if client == nil && cfg.LLM.Provider != "" {
		c, err := NewLLMClient(cfg.LLM, metrics)
		if err != nil {
			rt.Close()
			return nil, err
		}
		client = c
	}
	genOpts := []reasoning.Option{
		reasoning.WithTemplates(templates),
		reasoning.WithMetrics(metrics),
		reasoning.WithLogger(logger),
	}
	if client != nil {
		genOpts = append(genOpts, reasoning.WithClient(client))
	} else {
		logger.Warn("no completion provider configured; explanations use templates")
	}
	store := cache.NewLRUStore(cfg.Reasoning.CacheSize, cfg.Reasoning.CacheTTL, cache.WithMetrics(metrics))
	generator, err := reasoning.NewGenerator(store, rt.Governor, cfg.Reasoning.Config, genOpts...)
	if err != nil {
		rt.Close()
		return nil, err
	}

	weights := NewWeightRegistry(cfg.WeightSet(1, time.Now()))
	sources := NewScoreAdapter(rt.Storage, rt.Storage, rt.Models, metrics, logger)

	rt.Engine, err = NewEngine(sources, fusion.NewWeightedFuser(), extractor, generator, weights,
		WithRepository(rt.Storage),
		WithCostReporter(rt.Governor),
		WithConfigLoader(deps.Loader),
		WithBatchConcurrency(cfg.Batch.Concurrency),
		WithEngineMetrics(metrics),
		WithEngineLogger(logger),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// OpenStorage opens the configured backend. The returned closer is nil for
// backends that hold no resources.
func OpenStorage(cfg StorageConfig) (Storage, func() error, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open storage: %w", err)
		}
		return s, s.Close, nil
	case "memory", "":
		return memory.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

var defaultModels = map[string]string{
	"openai":    llm.OpenAIDefaultModel,
	"anthropic": llm.AnthropicDefaultModel,
	"google":    llm.GoogleDefaultModel,
}

// NewLLMClient builds the completion client with the standard middleware
// stack: tracing, metrics, circuit breaker, retry and a per-attempt
// timeout, outermost first.
func NewLLMClient(cfg LLMConfig, metrics ports.MetricsCollector) (*llm.Client, error) {
	model := cfg.Model
	if model == "" {
		model = defaultModels[cfg.Provider]
	}

	mw := []llm.Middleware{
		llm.TracingMiddleware("reasoning"),
		llm.MetricsMiddleware(metrics, cfg.Provider),
	}
	if cfg.CircuitMaxFailures > 0 {
		mw = append(mw, llm.CircuitBreakerMiddlewareWith(
			llm.NewCircuitBreaker(cfg.CircuitMaxFailures, cfg.CircuitCooldown), metrics))
	}
	if cfg.MaxRetries > 0 {
		mw = append(mw, llm.RetryMiddleware(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay))
	}
	if cfg.Timeout > 0 {
		mw = append(mw, llm.TimeoutMiddleware(cfg.Timeout))
	}

	client, err := llm.NewClient(cfg.Provider, llm.ClientConfig{
		APIKey:     os.Getenv(cfg.APIKeyEnv),
		Model:      model,
		BaseURL:    cfg.BaseURL,
		Middleware: mw,
	})
	if err != nil {
		return nil, fmt.Errorf("completion client %s: %w", cfg.Provider, err)
	}
	return client, nil
}
