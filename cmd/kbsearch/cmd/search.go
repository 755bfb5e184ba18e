package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbsearch/kbsearch/internal/config"
	"github.com/kbsearch/kbsearch/internal/embed"
	"github.com/kbsearch/kbsearch/internal/index"
	"github.com/kbsearch/kbsearch/internal/llm"
	"github.com/kbsearch/kbsearch/internal/rerank"
	"github.com/kbsearch/kbsearch/internal/search"
	"github.com/kbsearch/kbsearch/internal/store"
)

// fixture is the JSON corpus a search run operates over.
type fixture struct {
	Tags        []store.Tag        `json:"tags"`
	Collections []store.Collection `json:"collections"`
	Records     []store.DataRecord `json:"records"`
}

// newSearchCmd creates the search command.
func newSearchCmd() *cobra.Command {
	var (
		dataPath   string
		dbPath     string
		datasets   []string
		mode       string
		similarity float64
		maxTokens  int
		embWeight  float64
		useRerank  bool
		rrWeight   float64
		filterRaw  string
		extend     bool
		deep       bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search datasets with hybrid recall and ranking",
		Long: `Load a JSON corpus, build in-memory recall indexes and run the
retrieval pipeline for the given query. With --extend the query is first
rewritten into several variants; with --deep the search iterates with
model-guided follow-up queries.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			query := strings.Join(args, " ")

			if filterRaw != "" && !cfg.Filter.AdvancedEnabled {
				return fmt.Errorf("collection filters require filter.advanced_enabled in the config")
			}

			fx, err := loadFixture(dataPath)
			if err != nil {
				return err
			}
			docStore, closeStore, err := buildStore(ctx, fx, dbPath)
			if err != nil {
				return err
			}
			defer closeStore()

			embedder, err := buildEmbedder(cfg)
			if err != nil {
				return err
			}
			vecIdx, textIdx, err := buildIndexes(ctx, fx, embedder)
			if err != nil {
				return err
			}

			engine := search.NewEngine(search.Deps{
				Store:    docStore,
				Vector:   vecIdx,
				Text:     textIdx,
				Embedder: embedder,
				Reranker: buildReranker(cfg),
			})

			if mode == "" {
				mode = cfg.Search.Mode
			}
			if similarity < 0 {
				similarity = cfg.Search.Similarity
			}
			if maxTokens <= 0 {
				maxTokens = cfg.Search.MaxTokens
			}
			params := search.SearchParams{
				Queries:               []string{query},
				DatasetIDs:            datasets,
				Mode:                  search.SearchMode(mode),
				Similarity:            similarity,
				MaxTokens:             maxTokens,
				EmbeddingWeight:       embWeight,
				UsingReRank:           useRerank,
				RerankWeight:          rrWeight,
				RerankQuery:           query,
				CollectionFilterMatch: filterRaw,
			}

			if deep {
				searcher := search.NewDeepSearcher(engine, buildCompleter(cfg), 0, slog.Default())
				result, err := searcher.Search(ctx, query, params)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			}

			if extend {
				expander := search.NewExpander(buildCompleter(cfg),
					search.WithExpansionCount(cfg.Search.ExtensionCount),
					search.WithExpanderLogger(slog.Default()))
				resp, usage, err := engine.SearchWithExtension(ctx, expander, search.ExtendedSearchParams{
					SearchParams: params,
					KeepVariants: cfg.Search.ExtensionCount,
				})
				if err != nil {
					return err
				}
				slog.Debug("query_expansion",
					"input_tokens", usage.InputTokens,
					"output_tokens", usage.OutputTokens)
				return printJSON(cmd, resp)
			}

			resp, err := engine.Search(ctx, params)
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "Path to JSON corpus file (required)")
	cmd.Flags().StringVar(&dbPath, "db", "", "Load the corpus into a SQLite store at this path")
	cmd.Flags().StringSliceVar(&datasets, "datasets", nil, "Dataset ids to search (required)")
	cmd.Flags().StringVar(&mode, "mode", "", "Search mode: embedding, fullTextRecall or mixedRecall")
	cmd.Flags().Float64Var(&similarity, "similarity", -1, "Minimum similarity score (0-1)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Token budget for returned snippets")
	cmd.Flags().Float64Var(&embWeight, "embedding-weight", 0, "Fusion weight of the embedding list (0-1)")
	cmd.Flags().BoolVar(&useRerank, "rerank", false, "Rerank candidates with the cross-encoder service")
	cmd.Flags().Float64Var(&rrWeight, "rerank-weight", 0, "Fusion weight of the rerank list (0-1)")
	cmd.Flags().StringVar(&filterRaw, "filter", "", "Collection metadata filter (JSON)")
	cmd.Flags().BoolVar(&extend, "extend", false, "Expand the query into diverse variants before recall")
	cmd.Flags().BoolVar(&deep, "deep", false, "Iterative deep search with model-guided refinement")

	cobra.CheckErr(cmd.MarkFlagRequired("data"))
	cobra.CheckErr(cmd.MarkFlagRequired("datasets"))
	cmd.MarkFlagsMutuallyExclusive("extend", "deep")

	return cmd
}

func loadFixture(path string) (*fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	var fx fixture
	if err := json.Unmarshal(raw, &fx); err != nil {
		return nil, fmt.Errorf("parse corpus: %w", err)
	}
	for i := range fx.Records {
		if fx.Records[i].UpdateTime.IsZero() {
			fx.Records[i].UpdateTime = time.Now()
		}
	}
	return &fx, nil
}

// buildStore materializes the corpus. With a db path the corpus loads
// into SQLite and reads go through it; otherwise an in-memory store
// serves the run.
func buildStore(ctx context.Context, fx *fixture, dbPath string) (store.DocumentStore, func(), error) {
	if dbPath == "" {
		ms := store.NewMemoryStore()
		ms.AddTags(fx.Tags...)
		ms.AddCollections(fx.Collections...)
		ms.AddData(fx.Records...)
		return ms, func() {}, nil
	}

	ss, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := ss.InsertTags(ctx, fx.Tags...); err != nil {
		ss.Close()
		return nil, nil, err
	}
	if err := ss.InsertCollections(ctx, fx.Collections...); err != nil {
		ss.Close()
		return nil, nil, err
	}
	if err := ss.InsertData(ctx, fx.Records...); err != nil {
		ss.Close()
		return nil, nil, err
	}
	return ss, func() { ss.Close() }, nil
}

func buildEmbedder(cfg *config.Config) (embed.Embedder, error) {
	inner := embed.NewOpenAIEmbedder(
		cfg.Embedding.BaseURL,
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		cfg.Embedding.Dimensions,
	)
	return embed.NewCachedEmbedder(inner, cfg.Embedding.CacheSize, slog.Default())
}

func buildCompleter(cfg *config.Config) llm.Completer {
	return llm.NewOpenAICompleter(
		cfg.LLM.BaseURL,
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		float32(cfg.LLM.Temperature),
	)
}

func buildReranker(cfg *config.Config) rerank.Reranker {
	if !cfg.Rerank.Enabled || cfg.Rerank.Endpoint == "" {
		return rerank.NoOpReranker{}
	}
	return rerank.NewHTTPReranker(
		cfg.Rerank.Endpoint,
		cfg.Rerank.Model,
		rerank.WithTimeout(cfg.RerankTimeout()),
		rerank.WithLogger(slog.Default()),
	)
}

// buildIndexes embeds every index entry and fills both recall indexes.
func buildIndexes(ctx context.Context, fx *fixture, embedder embed.Embedder) (*index.HNSWIndex, *index.BleveIndex, error) {
	var vecEntries []index.VectorEntry
	var texts []string
	for _, r := range fx.Records {
		for _, ix := range r.Indexes {
			vecEntries = append(vecEntries, index.VectorEntry{
				IndexID:      ix.IndexID,
				CollectionID: r.CollectionID,
			})
			texts = append(texts, ix.Text)
		}
	}

	vecIdx := index.NewHNSWIndex()
	if len(texts) > 0 {
		vectors, _, err := embedder.Embed(ctx, texts)
		if err != nil {
			return nil, nil, err
		}
		for i := range vecEntries {
			vecEntries[i].Vector = vectors[i]
		}
		if err := vecIdx.Add(vecEntries...); err != nil {
			return nil, nil, err
		}
	}

	textIdx, err := index.NewBleveIndex()
	if err != nil {
		return nil, nil, err
	}
	var textEntries []index.TextEntry
	for _, r := range fx.Records {
		parts := []string{r.Q, r.A}
		for _, ix := range r.Indexes {
			parts = append(parts, ix.Text)
		}
		textEntries = append(textEntries, index.TextEntry{
			DataID:       r.ID,
			CollectionID: r.CollectionID,
			Text:         strings.TrimSpace(strings.Join(parts, "\n")),
		})
	}
	if err := textIdx.Add(textEntries...); err != nil {
		return nil, nil, err
	}
	return vecIdx, textIdx, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
