package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/analysis"
	"github.com/sells-group/product-scout/internal/crawler"
	"github.com/sells-group/product-scout/internal/discovery"
	"github.com/sells-group/product-scout/internal/intent"
	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/pipeline"
	"github.com/sells-group/product-scout/internal/resilience"
	"github.com/sells-group/product-scout/internal/store"
	"github.com/sells-group/product-scout/internal/trust"
	anthropicpkg "github.com/sells-group/product-scout/pkg/anthropic"
	"github.com/sells-group/product-scout/pkg/classifier"
)

// appEnv holds the store, services, and optional infrastructure clients
// shared by the discover/serve/trust/analyze/worker commands.
type appEnv struct {
	Store      store.Store
	Pipeline   *pipeline.Pipeline // nil unless the mode needs the language model
	Trust      *trust.Service
	Dispatcher trust.Dispatcher
	Analyzer   *analysis.Analyzer
	Router     *crawler.Router

	redis    *goredis.Client          // may be nil
	temporal temporalsdkclient.Client // may be nil
	local    *trust.LocalDispatcher   // may be nil
}

// Close releases resources held by the environment. Queued local
// recomputes finish before the store closes.
func (e *appEnv) Close() {
	if e.local != nil {
		e.local.Close()
	}
	if e.temporal != nil {
		e.temporal.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates cfg for mode, opens and migrates the store, and wires
// the services that mode uses. Callers should defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	locker, err := initLocker(ctx, env)
	if err != nil {
		env.Close()
		return nil, err
	}

	svc, err := trust.NewService(st, trustConfig(), locker, cfg.Trust.AsyncWorkers)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Trust = svc

	if err := initDispatcher(ctx, env); err != nil {
		env.Close()
		return nil, err
	}

	catalog := discovery.DefaultCatalog()
	env.Router = initRouter(catalog)

	if cfg.Anthropic.Key != "" {
		llm := anthropicpkg.NewClient(cfg.Anthropic.Key)
		disc := discovery.NewService(llm, catalog, discovery.Config{
			Model:               cfg.Anthropic.Model,
			MaxTokens:           cfg.Anthropic.MaxTokens,
			CandidateMultiplier: cfg.Discovery.CandidateMultiplier,
			StrictPlatforms:     cfg.Discovery.StrictPlatforms,
		})
		env.Pipeline = pipeline.New(pipeline.Config{
			Intent: intent.Config{
				Model:              cfg.Anthropic.Model,
				FastModel:          cfg.Anthropic.FastModel,
				MaxTokens:          cfg.Anthropic.MaxTokens,
				MaxQueryLength:     cfg.Discovery.MaxQueryLength,
				DefaultMaxProducts: cfg.Discovery.DefaultMaxProducts,
				MaxMaxProducts:     cfg.Discovery.MaxMaxProducts,
			},
			Collect: pipeline.CollectConfig{
				Concurrency: cfg.Crawl.Concurrency,
				MaxListings: cfg.Crawl.MaxListings,
			},
		}, st, llm, disc, env.Router)
	}

	if cfg.Classifier.SentimentURL != "" && cfg.Classifier.SpamURL != "" {
		timeout := time.Duration(cfg.Classifier.TimeoutSecs) * time.Second
		cls := classifier.NewClient(cfg.Classifier.SentimentURL, cfg.Classifier.SpamURL,
			classifier.WithHTTPClient(&http.Client{Timeout: timeout}),
			classifier.WithRetryPolicy(retryPolicy()),
			classifier.WithVersions(cfg.Classifier.SentimentVersion, cfg.Classifier.SpamVersion),
		)
		env.Analyzer = analysis.New(analysis.Config{
			Concurrency: cfg.Analysis.Concurrency,
			BatchSize:   cfg.Analysis.BatchSize,
		}, st, cls, svc, env.Router)
	}

	return env, nil
}

func trustConfig() trust.Config {
	return trust.Config{
		FormulaVersion: cfg.Trust.FormulaVersion,
		Weights: model.TrustWeights{
			Sentiment:    cfg.Trust.SentimentWeight,
			Spam:         cfg.Trust.SpamWeight,
			Volume:       cfg.Trust.VolumeWeight,
			Verification: cfg.Trust.VerificationWeight,
		},
		VolumeSaturation: cfg.Trust.VolumeSaturation,
	}
}

func retryPolicy() resilience.Policy {
	return resilience.PolicyFrom(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier,
		cfg.Retry.JitterFraction,
	)
}

// initLocker returns a Redis lock when redis.addr is set, otherwise nil so
// the service falls back to an in-process keyed mutex.
func initLocker(ctx context.Context, env *appEnv) (trust.Locker, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	rdb, err := trust.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	env.redis = rdb
	zap.L().Info("trust: using redis lock", zap.String("addr", cfg.Redis.Addr))
	return trust.NewRedisLocker(rdb, time.Duration(cfg.Trust.LockTTLSecs)*time.Second), nil
}

// initDispatcher starts Temporal workflows when temporal.address is set and
// falls back to the in-process worker pool otherwise.
func initDispatcher(ctx context.Context, env *appEnv) error {
	if cfg.Temporal.Address == "" {
		env.local = trust.NewLocalDispatcher(env.Trust, cfg.Trust.AsyncWorkers, cfg.Trust.AsyncQueueSize)
		env.Dispatcher = env.local
		return nil
	}
	tc, err := dialTemporal(ctx)
	if err != nil {
		return err
	}
	env.temporal = tc
	env.Dispatcher = trust.NewTemporalDispatcher(tc, cfg.Temporal.TaskQueue)
	return nil
}

func dialTemporal(ctx context.Context) (temporalsdkclient.Client, error) {
	tc, err := temporalsdkclient.DialContext(ctx, temporalsdkclient.Options{
		HostPort:  cfg.Temporal.Address,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dial temporal %s", cfg.Temporal.Address)
	}
	return tc, nil
}

func initRouter(catalog *discovery.Catalog) *crawler.Router {
	fetcher := crawler.NewFetcher(crawler.FetchOptions{
		UserAgent:     cfg.Crawl.UserAgent,
		Timeout:       time.Duration(cfg.Crawl.TimeoutSecs) * time.Second,
		MaxRetries:    cfg.Crawl.MaxRetries,
		RatePerSecond: cfg.Crawl.RatePerSecond,
		Burst:         cfg.Crawl.Burst,
	}, nil)

	return crawler.NewRouter(catalog, resilience.NewBreakers(5, time.Minute)).
		Register(model.PlatformTiki, crawler.NewTikiCrawler(fetcher, cfg.Crawl.TikiAPIURL)).
		Register(model.PlatformShopee, crawler.NewHTMLCrawler(fetcher, model.PlatformShopee)).
		Register(model.PlatformLazada, crawler.NewHTMLCrawler(fetcher, model.PlatformLazada)).
		Register(model.PlatformAmazon, crawler.NewHTMLCrawler(fetcher, model.PlatformAmazon))
}
