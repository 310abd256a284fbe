package main

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shahamT/valley-luz/internal/category"
	"github.com/shahamT/valley-luz/internal/eventtime"
	"github.com/shahamT/valley-luz/internal/llm"
	"github.com/shahamT/valley-luz/internal/media"
	"github.com/shahamT/valley-luz/internal/ocr"
	"github.com/shahamT/valley-luz/internal/pipeline"
	"github.com/shahamT/valley-luz/internal/resilience"
	"github.com/shahamT/valley-luz/internal/stage"
	"github.com/shahamT/valley-luz/internal/store"
	"github.com/shahamT/valley-luz/internal/transport"
	"github.com/shahamT/valley-luz/internal/validate"
	"github.com/shahamT/valley-luz/pkg/gateway"
)

// pipelineEnv holds the initialized store, collaborators and pipeline used
// by the serve, ingest and reprocess commands.
type pipelineEnv struct {
	Store     store.Store
	Docs      *store.Documents
	Pipeline  *pipeline.Pipeline
	Metrics   *pipeline.Metrics
	Registry  *prometheus.Registry
	Transport *transport.Transport // may be nil

	closers []io.Closer
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	for i := len(pe.closers) - 1; i >= 0; i-- {
		if err := pe.closers[i].Close(); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

// confirmer returns the transport as a Confirmer, or nil when none is
// configured.
func (pe *pipelineEnv) confirmer() pipeline.Confirmer {
	if pe.Transport == nil {
		return nil
	}
	return pe.Transport
}

// initPipeline sets up the store and every collaborator, then builds the
// Pipeline. In "serve" mode missing collaborators are fatal; otherwise the
// run proceeds without them. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	strict := mode == "serve"

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	env := &pipelineEnv{Store: st, Docs: store.NewDocuments(st), closers: []io.Closer{st}}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	zone, err := eventtime.NewZone(cfg.Pipeline.ReferenceZone)
	if err != nil {
		env.Close()
		return nil, err
	}
	vocab, err := category.Load(cfg.Pipeline.CategoriesFile)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "load categories")
	}

	env.Registry = prometheus.NewRegistry()
	env.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	env.Metrics = pipeline.NewMetrics(env.Registry)

	completer, err := llm.New(cfg.LLM, cfg.Anthropic, cfg.OpenAI)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init llm")
	}
	stages := stage.New(pipeline.Instrument(completer, env.Metrics), stage.Options{
		FastModel:  llm.FastModel(cfg.LLM),
		Retry:      resilience.FromConfig(cfg.Retry),
		Vocabulary: vocab,
		Zone:       zone,
	})

	deps := pipeline.Deps{
		Docs:      env.Docs,
		Stages:    stages,
		Validator: validate.New(vocab, zone, cfg.Pipeline.FutureHorizonDays),
		Metrics:   env.Metrics,
	}

	if cfg.Media.Bucket != "" {
		uploader, bucket, err := media.New(ctx, cfg.Media)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "init object store")
		}
		env.closers = append(env.closers, bucket)
		deps.Media = uploader
		zap.L().Info("object store enabled", zap.String("bucket", bucket.Name()))
	} else {
		zap.L().Warn("media.bucket not set, inline images will be dropped")
	}

	recognizer, err := ocr.NewRecognizer(ctx, cfg.OCR, cfg.Media.Credentials)
	switch {
	case err != nil && strict:
		env.Close()
		return nil, eris.Wrap(err, "init ocr")
	case err != nil:
		zap.L().Warn("ocr unavailable, continuing text-only", zap.Error(err))
	case recognizer != nil:
		if c, ok := recognizer.(io.Closer); ok {
			env.closers = append(env.closers, c)
		}
		deps.OCR = recognizer
	}

	if cfg.Gateway.BaseURL != "" {
		gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey,
			gateway.WithSession(cfg.Gateway.Session),
			gateway.WithRateLimit(cfg.Gateway.RequestsPerSecond),
		)
		env.Transport = transport.New(gw, cfg.Gateway.ConfirmChatID,
			time.Duration(cfg.Gateway.AliasCacheTTLMins)*time.Minute)
		deps.Transport = env.Transport
	} else {
		zap.L().Warn("gateway.base_url not set, confirmations and alias lookups disabled")
	}

	env.Pipeline = pipeline.New(deps, pipeline.Options{
		MaxTextLength:  cfg.Pipeline.MaxTextLength,
		CandidateLimit: cfg.Pipeline.CandidateLimit,
	})

	zap.L().Info("pipeline ready",
		zap.String("mode", mode),
		zap.String("store", cfg.Store.Driver),
		zap.String("llm", cfg.LLM.Provider),
		zap.String("ocr", cfg.OCR.Provider),
		zap.Int("categories", len(vocab.IDs())),
	)
	return env, nil
}
