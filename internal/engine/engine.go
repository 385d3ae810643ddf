// Package engine assembles the index, retrieval and review components from
// a Config.
package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"seclens/internal/chunker"
	"seclens/internal/chunker/languages"
	"seclens/internal/config"
	"seclens/internal/embedder"
	"seclens/internal/index"
	"seclens/internal/llm"
	"seclens/internal/output"
	"seclens/internal/plugin"
	"seclens/internal/rag"
	"seclens/internal/review"
	"seclens/internal/store"
)

// Deps replaces external components. Nil fields are built from the Config.
type Deps struct {
	Store     store.VectorStore
	Embedder  embedder.Embedder
	Completer llm.Completer

	Progress     index.ProgressFunc
	OnTransition review.TransitionFunc
}

// Engine holds every component of one session.
type Engine struct {
	Config config.Config
	// Root is the absolute codebase directory.
	Root string

	Store    store.VectorStore
	Embedder embedder.Embedder
	LLM      llm.Completer
	Plugins  *plugin.Registry
	Plugin   plugin.Plugin

	Index  *index.Manager
	RAG    *rag.Engine
	Review *review.Orchestrator

	logger *zap.Logger
}

// New builds an Engine. The vector store is opened, so a backend that is
// down fails here with apperr.ErrStoreUnavailable.
func New(ctx context.Context, cfg config.Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	root, err := filepath.Abs(cfg.CodebasePath)
	if err != nil {
		return nil, fmt.Errorf("resolve codebase path: %w", err)
	}
	policy := cfg.Retry.Policy()

	reg := plugin.NewRegistry(cfg, chunker.NewSymbolExtractor(languages.NewRegistry()))
	code, err := reg.Get(cfg.LanguagePlugin)
	if err != nil {
		return nil, err
	}
	docs, err := reg.Get(plugin.DocsName)
	if err != nil {
		return nil, err
	}

	emb := deps.Embedder
	if emb == nil {
		if emb, err = embedder.New(ctx, cfg.Embedding, policy, logger); err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
	}
	completer := deps.Completer
	if completer == nil {
		if completer, err = llm.New(ctx, cfg.LLM, policy, logger); err != nil {
			return nil, fmt.Errorf("create llm: %w", err)
		}
	}

	vs := deps.Store
	if vs == nil {
		storeCfg := cfg.VectorStore
		if storeCfg.Backend == "sqlite" && !filepath.IsAbs(storeCfg.SQLite.Path) {
			storeCfg.SQLite.Path = filepath.Join(root, storeCfg.SQLite.Path)
		}
		opened, err := store.Open(ctx, storeCfg, cfg.Embedding.Dimensions, logger)
		if err != nil {
			return nil, err
		}
		vs = store.WithRetry(opened, policy, logger)
	}

	e := &Engine{
		Config:   cfg,
		Root:     root,
		Store:    vs,
		Embedder: emb,
		LLM:      completer,
		Plugins:  reg,
		Plugin:   code,
		logger:   logger,
	}
	e.Index = index.New(vs, emb, code, docs, index.Options{
		CodeCollection: cfg.VectorStore.CodeCollection,
		DocsCollection: cfg.VectorStore.DocsCollection,
		Workers:        cfg.Engine.MaxWorkers,
		BatchSize:      cfg.Embedding.BatchSize,
		Progress:       deps.Progress,
	}, logger.Named("index"))
	e.RAG = rag.New(vs, emb, rag.Options{
		CodeCollection: cfg.VectorStore.CodeCollection,
		DocsCollection: cfg.VectorStore.DocsCollection,
		TopK:           cfg.Engine.SimilarityTopK,
		BudgetChars:    cfg.Engine.ContextBudgetChars,
	}, logger.Named("rag"))
	e.Review = review.New(completer, e.RAG, code, review.Options{
		Root:             root,
		Validate:         cfg.Engine.Validate,
		ValidationPolicy: cfg.Engine.ValidationPolicy,
		DownweightFactor: cfg.Engine.DownweightFactor,
		MaxTokenLength:   cfg.Engine.MaxTokenLength,
		MaxTokens:        cfg.LLM.MaxTokens,
		Temperature:      cfg.LLM.Temperature,
		TopK:             cfg.Engine.SimilarityTopK,
		Workers:          cfg.Engine.MaxWorkers,
		Backend:          cfg.VectorStore.Backend,
		OnTransition:     deps.OnTransition,
	}, logger.Named("review"))

	logger.Info("engine ready",
		zap.String("root", root),
		zap.String("plugin", code.Name()),
		zap.String("backend", cfg.VectorStore.Backend),
		zap.String("llm", completer.Model()),
		zap.String("embedding", emb.Model()))
	return e, nil
}

// Sink returns the output sink for results of this session.
func (e *Engine) Sink(version string) output.Sink {
	return output.Sink{Root: e.Root, Version: version}
}

// Close releases the vector store.
func (e *Engine) Close() error {
	if e.Store == nil {
		return nil
	}
	if err := e.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
