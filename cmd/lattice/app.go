package main

import (
	"fmt"

	"github.com/matsen/lattice/internal/analyzer"
	"github.com/matsen/lattice/internal/cache"
	"github.com/matsen/lattice/internal/config"
	"github.com/matsen/lattice/internal/fulltext"
	"github.com/matsen/lattice/internal/graphstore"
	"github.com/matsen/lattice/internal/httputil"
	"github.com/matsen/lattice/internal/llm"
	"github.com/matsen/lattice/internal/metadata"
	"github.com/matsen/lattice/internal/store"
	"github.com/matsen/lattice/internal/vectorstore"
)

// app bundles the wired components for one CLI invocation. The CLI owns
// every handle; nothing here is a process-wide singleton.
type app struct {
	root     string
	cfg      config.Config
	graph    *graphstore.Store
	vector   *vectorstore.Store
	writer   *store.Writer
	retries  *httputil.RetryCounters
	metadata *metadata.Client
	analysis *llm.Analysis
}

// openApp loads configuration and opens both stores.
func openApp(root string) (*app, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	graph, err := graphstore.Open(graphPath(root, cfg))
	if err != nil {
		return nil, err
	}

	analysis, modelID, err := buildAnalysis(cfg)
	if err != nil {
		graph.Close()
		return nil, err
	}

	dim := cfg.Store.EmbeddingDim
	if analysis != nil && analysis.Dimensions() > 0 {
		dim = analysis.Dimensions()
	}
	vectorDir := cfg.Store.VectorStorePath
	if vectorDir == "" {
		vectorDir = config.VectorPath(root)
	}
	vector, err := vectorstore.Open(vectorDir, modelID, dim)
	if err != nil {
		graph.Close()
		return nil, err
	}

	a := &app{
		root:     root,
		cfg:      cfg,
		graph:    graph,
		vector:   vector,
		writer:   store.NewWriter(graph, vector),
		retries:  httputil.NewRetryCounters(),
		analysis: analysis,
	}
	a.metadata = buildMetadata(cfg, a.retries)
	return a, nil
}

func (a *app) close() {
	a.vector.Save()
	a.graph.Close()
}

func graphPath(root string, cfg config.Config) string {
	if cfg.Store.GraphURI != "" {
		return cfg.Store.GraphURI
	}
	return config.GraphDBPath(root)
}

// buildMetadata wires the metadata client from configuration.
func buildMetadata(cfg config.Config, rc *httputil.RetryCounters) *metadata.Client {
	opts := []metadata.Option{metadata.WithRetryCounters(rc)}
	if cfg.Metadata.BaseURL != "" {
		opts = append(opts, metadata.WithBaseURL(cfg.Metadata.BaseURL))
	}
	if cfg.Metadata.APIKey != "" {
		opts = append(opts, metadata.WithAPIKey(cfg.Metadata.APIKey))
	}
	if cfg.Metadata.RPS > 0 {
		opts = append(opts, metadata.WithRate(cfg.Metadata.RPS))
	}
	return metadata.NewClient(opts...)
}

// buildAnalysis wires the analysis client: primary provider, optional
// fallback, shared per-minute budget. Returns the embedding model
// identifier used to version the vector collection.
func buildAnalysis(cfg config.Config) (*llm.Analysis, string, error) {
	primary, modelID, err := buildProvider(cfg, cfg.Analysis.Primary)
	if err != nil {
		return nil, "", err
	}

	opts := []llm.AnalysisOption{llm.WithRPM(cfg.Analysis.RPM)}
	if cfg.Analysis.Fallback != "" && cfg.Analysis.Fallback != cfg.Analysis.Primary {
		fallback, _, err := buildProvider(cfg, cfg.Analysis.Fallback)
		if err != nil {
			return nil, "", err
		}
		opts = append(opts, llm.WithFallback(fallback))
	}
	return llm.NewAnalysis(primary, opts...), modelID, nil
}

func buildProvider(cfg config.Config, name string) (llm.Provider, string, error) {
	switch name {
	case "", "ollama":
		var opts []llm.OllamaOption
		if cfg.Analysis.OllamaURL != "" {
			opts = append(opts, llm.WithOllamaURL(cfg.Analysis.OllamaURL))
		}
		if cfg.Analysis.Model != "" {
			opts = append(opts, llm.WithOllamaModel(cfg.Analysis.Model))
		}
		embedModel := cfg.Analysis.EmbedModel
		if embedModel == "" {
			embedModel = llm.DefaultOllamaEmbedModel
		}
		opts = append(opts, llm.WithOllamaEmbedModel(embedModel, cfg.Store.EmbeddingDim))
		return llm.NewOllama(opts...), embedModel, nil
	case "groq":
		var opts []llm.OpenAIOption
		if cfg.Analysis.Model != "" {
			opts = append(opts, llm.WithOpenAIModel(cfg.Analysis.Model))
		}
		embedModel := cfg.Analysis.EmbedModel
		if embedModel == "" {
			embedModel = llm.DefaultOpenAIEmbedModel
		}
		opts = append(opts, llm.WithOpenAIEmbedModel(embedModel, cfg.Store.EmbeddingDim))
		return llm.NewGroq(opts...), embedModel, nil
	case "gemini":
		var opts []llm.GeminiOption
		if cfg.Analysis.Model != "" {
			opts = append(opts, llm.WithGeminiModel(cfg.Analysis.Model))
		}
		embedModel := cfg.Analysis.EmbedModel
		if embedModel == "" {
			embedModel = llm.DefaultGeminiEmbedModel
		}
		opts = append(opts, llm.WithGeminiEmbedModel(embedModel, cfg.Store.EmbeddingDim))
		return llm.NewGemini(opts...), embedModel, nil
	default:
		return nil, "", fmt.Errorf("unknown analysis provider %q (want ollama, groq, or gemini)", name)
	}
}

// buildAnalyzer wires the analyzer with the provider cache and the
// full-text extractor.
func (a *app) buildAnalyzer() (*analyzer.Analyzer, error) {
	c, err := cache.New(config.CachePath(a.root))
	if err != nil {
		return nil, err
	}
	return analyzer.New(a.analysis,
		analyzer.WithCache(c),
		analyzer.WithModelID(a.vector.ModelID()),
		analyzer.WithExtractor(fulltext.DirExtractor{Dir: config.PDFPath(a.root)}),
	), nil
}
