package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rushteam/nearrec/cache"
	"github.com/rushteam/nearrec/config"
	_ "github.com/rushteam/nearrec/config/builders"
	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/experiment"
	"github.com/rushteam/nearrec/feast"
	"github.com/rushteam/nearrec/feedback"
	"github.com/rushteam/nearrec/filter"
	"github.com/rushteam/nearrec/impression"
	"github.com/rushteam/nearrec/metrics"
	"github.com/rushteam/nearrec/pipeline"
	"github.com/rushteam/nearrec/profile"
	"github.com/rushteam/nearrec/rank"
	"github.com/rushteam/nearrec/ratelimit"
	"github.com/rushteam/nearrec/recall"
	"github.com/rushteam/nearrec/seen"
	"github.com/rushteam/nearrec/server"
	"github.com/rushteam/nearrec/service"
	"github.com/rushteam/nearrec/settings"
	"github.com/rushteam/nearrec/store"
)

// healthKey 只用于探测存储是否可读
const healthKey = "nearrec:healthz"

// app 是组装好的进程级依赖。
type app struct {
	handler http.Handler
	kv      core.KeyValueStore
	sink    *impression.BestEffort
	kafka   *kgo.Client
}

// Close 等待旁路写入完成后释放连接。
func (a *app) Close() error {
	if a.sink != nil {
		a.sink.Wait()
	}
	if a.kafka != nil {
		a.kafka.Close()
	}
	return a.kv.Close()
}

func build(cfg *settings.Settings, logger zerolog.Logger) (*app, error) {
	kv, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	a := &app{kv: kv}

	candidates, err := buildCandidates(cfg.Recall, kv, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var traits core.TraitSource = &profile.StoreTraitSource{Store: kv}
	if cfg.Trait.Backend == "feast" {
		client, err := feast.NewGrpcClient(cfg.Trait.Feast)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		traits = feast.NewTraitSource(client, cfg.Trait.Feast)
	}

	events := &profile.StoreEventLog{Store: kv}
	adapter := filter.NewStoreAdapter(kv)
	adapter.Window = cfg.Impression.ExposureTTL
	scorer := &rank.Scorer{}
	tracker := seen.NewTracker(kv)
	tracker.TTL = cfg.Impression.ExposureTTL

	p, err := buildPipeline(cfg.Pipeline.Path, config.Deps{
		Exposure: adapter,
		Rules:    adapter,
		Hidden:   adapter,
		Seen:     tracker,
		Scorer:   scorer,
	}, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	storeLogger := impression.NewStoreLogger(kv)
	storeLogger.ExposureTTL = cfg.Impression.ExposureTTL
	if cfg.Impression.TrackSeen {
		storeLogger.Seen = tracker
	}
	var impressions core.ImpressionSink = storeLogger
	if kc := cfg.Impression.Kafka; kc.Enabled() {
		a.kafka, err = impression.NewKafkaClient(kc)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		impressions = impression.MultiSink{storeLogger, &impression.KafkaSink{Producer: a.kafka, Topic: kc.Topic}}
	}
	a.sink = impression.NewBestEffort(impressions, metrics.NewPerformanceRecorder(logger), cfg.Impression.WriteTimeout, logger)

	rec := service.New(service.Deps{
		Candidates:     candidates,
		Traits:         traits,
		States:         profile.NewStateComputer(events),
		Experiments:    experiment.NewStoreService(kv),
		Limiter:        ratelimit.New(kv, cfg.RateLimit.Limit, cfg.RateLimit.Window),
		Cache:          cache.New(kv, cache.WithTTL(cfg.Cache.TTL), cache.WithPrecision(cfg.Cache.Precision)),
		Scorer:         scorer,
		Pipeline:       p,
		Hidden:         adapter,
		Impressions:    a.sink,
		Performance:    a.sink,
		Background:     a.sink,
		Serving:        cfg.Serving,
		ExperimentName: cfg.Experiment.Name,
	}, logger)

	a.handler = server.New(rec, server.Options{
		Events:              feedback.NewRecorder(events, kv, logger),
		Health:              storeHealth(kv),
		IPRequestsPerMinute: cfg.Server.IPRequestsPerMinute,
	}, logger)
	return a, nil
}

func buildCandidates(cfg settings.RecallConfig, kv core.KeyValueStore, logger zerolog.Logger) (core.CandidateSource, error) {
	switch cfg.Backend {
	case "http":
		return &recall.Fanout{
			Sources: []core.CandidateSource{recall.NewHTTPSource(cfg.HTTP, logger)},
			Timeout: cfg.HTTP.Timeout,
		}, nil
	case "static", "":
		return &recall.StaticSource{Store: kv, Key: cfg.CatalogKey}, nil
	default:
		return nil, fmt.Errorf("unknown recall backend: %s", cfg.Backend)
	}
}

func buildPipeline(path string, deps config.Deps, logger zerolog.Logger) (*pipeline.Pipeline, error) {
	pc, err := pipeline.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	if err := config.ValidatePipelineConfig(pc); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	p, err := pc.BuildPipeline(config.NewFactory(deps))
	if err != nil {
		return nil, fmt.Errorf("pipeline build: %w", err)
	}
	logger.Info().Str("pipeline", p.Name).Int("nodes", len(p.Nodes)).Msg("pipeline ready")
	return p.Use(metrics.PipelineHook(), metrics.LoggingHook(logger)), nil
}

func storeHealth(s core.Store) server.HealthCheck {
	return func(ctx context.Context) error {
		_, err := s.Get(ctx, healthKey)
		if err != nil && !core.IsStoreNotFound(err) {
			return err
		}
		return nil
	}
}
