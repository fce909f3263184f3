package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fakturace/fakturace/internal/ares"
	"github.com/fakturace/fakturace/internal/assistant"
	"github.com/fakturace/fakturace/internal/banking"
	"github.com/fakturace/fakturace/internal/customers"
	"github.com/fakturace/fakturace/internal/expenses"
	"github.com/fakturace/fakturace/internal/extraction"
	"github.com/fakturace/fakturace/internal/invoicing"
	"github.com/fakturace/fakturace/internal/llm"
	"github.com/fakturace/fakturace/internal/matching"
	"github.com/fakturace/fakturace/internal/observability"
	"github.com/fakturace/fakturace/internal/platform/cache"
	"github.com/fakturace/fakturace/internal/reconcile"
)

// Services is the wired domain layer shared by the server, worker and CLI.
type Services struct {
	Completer  llm.Completer
	Registry   *ares.Client
	Customers  *customers.Resolver
	Invoices   *invoicing.Service
	Expenses   *expenses.Service
	Banking    *banking.Service
	Extractor  *extraction.Extractor
	Matcher    *matching.Engine
	Reconcile  *reconcile.Service
	Dispatcher *assistant.Dispatcher
}

// BuildServices wires every domain service. metrics may be nil, in which
// case domain counters are not recorded.
func BuildServices(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics) *Services {
	completer := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModel,
		VisionModel: cfg.OpenAIVisionModel,
		Timeout:     cfg.LLMTimeout,
	}, logger)

	var aresCache *cache.JSONCache
	if redisClient != nil {
		aresCache = cache.NewJSONCache(redisClient, "ares", cfg.ARESCacheTTL).WithLogger(logger)
	}
	registry := ares.NewClient(ares.Config{BaseURL: cfg.ARESBaseURL, Timeout: cfg.ARESTimeout}, aresCache, logger)

	resolver := customers.NewResolver(customers.NewRepository(pool), registry, logger)
	invoiceSvc := invoicing.NewService(invoicing.NewRepository(pool), resolver, logger)
	expenseSvc := expenses.NewService(expenses.NewRepository(pool), logger)
	bankingSvc := banking.NewService(banking.NewRepository(pool), logger)

	matchCfg := matching.Config{Timeout: cfg.MatchLLMTimeout, Logger: logger}
	extractCfg := extraction.Config{Completer: completer, Logger: logger}
	dispatchCfg := assistant.Config{
		Completer: completer,
		Invoices:  invoiceSvc,
		Expenses:  expenseSvc,
		Registry:  registry,
		Logger:    logger,
	}
	if cfg.LLMEnabled() {
		matchCfg.Semantic = matching.NewLLMMatcher(completer, logger)
	}
	if metrics != nil {
		matchCfg.Observer = metrics
		extractCfg.Observer = metrics
		dispatchCfg.Observer = metrics
	}
	engine := matching.NewEngine(matchCfg)
	extractor := extraction.New(extractCfg)
	dispatchCfg.Receipts = extractor

	return &Services{
		Completer:  completer,
		Registry:   registry,
		Customers:  resolver,
		Invoices:   invoiceSvc,
		Expenses:   expenseSvc,
		Banking:    bankingSvc,
		Extractor:  extractor,
		Matcher:    engine,
		Reconcile:  reconcile.NewService(extractor, engine, invoiceSvc, bankingSvc, logger),
		Dispatcher: assistant.NewDispatcher(dispatchCfg),
	}
}
