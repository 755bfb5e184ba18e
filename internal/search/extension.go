package search

import (
	"context"
	"strings"

	"github.com/kbsearch/kbsearch/internal/llm"
)

// ExtendedSearchParams wraps SearchParams with the expansion inputs. The
// first entry of Queries is the question to expand.
type ExtendedSearchParams struct {
	SearchParams

	// History is the conversation the expansion resolves references
	// against.
	History []llm.Message

	// KeepVariants caps how many expanded variants join the search after
	// diversity selection. Zero keeps them all.
	KeepVariants int
}

// SearchWithExtension expands the question into variants, keeps a
// diverse subset and searches with the original plus the selection.
// Expansion failures degrade to a plain search on the original question.
func (e *Engine) SearchWithExtension(ctx context.Context, expander *Expander, params ExtendedSearchParams) (SearchResponse, llm.Usage, error) {
	queries := nonBlankQueries(params.Queries)
	if len(queries) == 0 {
		resp, err := e.Search(ctx, params.SearchParams)
		return resp, llm.Usage{}, err
	}
	question := queries[0]

	variants, usage, err := expander.Expand(ctx, question, params.History)
	if err != nil {
		return SearchResponse{}, usage, err
	}
	if len(variants) > 0 {
		selected, selErr := e.selectVariants(ctx, question, variants, params.KeepVariants)
		if selErr != nil {
			e.log.Warn("variant_selection_failed", "error", selErr)
			selected = variants
		}
		searchParams := params.SearchParams
		if strings.HasPrefix(strings.TrimSpace(question), "[") {
			// Pre-expanded input: the raw array text is not itself a query.
			searchParams.Queries = selected
			searchParams.RerankQuery = selected[0]
		} else {
			searchParams.Queries = append([]string{question}, selected...)
		}
		resp, err := e.Search(ctx, searchParams)
		return resp, usage, err
	}

	resp, err := e.Search(ctx, params.SearchParams)
	return resp, usage, err
}

// selectVariants embeds the question and its variants in one batch and
// keeps a diverse subset.
func (e *Engine) selectVariants(ctx context.Context, question string, variants []string, keep int) ([]string, error) {
	if keep <= 0 || keep >= len(variants) {
		return variants, nil
	}

	vectors, _, err := e.embedder.Embed(ctx, append([]string{question}, variants...))
	if err != nil {
		return nil, err
	}

	candidates := make([]EmbeddedQuery, len(variants))
	for i, v := range variants {
		candidates[i] = EmbeddedQuery{Text: v, Vector: vectors[i+1]}
	}

	selected := SelectDiverse(vectors[0], candidates, keep, 0)
	out := make([]string, len(selected))
	for i, s := range selected {
		out[i] = s.Text
	}
	return out, nil
}
