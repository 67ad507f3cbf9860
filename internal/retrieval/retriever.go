package retrieval

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"certguide/internal/knowledge"
	"certguide/internal/vectorindex"
)

const (
	DefaultTopK             = 3
	DefaultVectorThreshold  = 0.3
	DefaultMaxContextLength = 1500

	ContextHeader = "## Relevant ISTQB Information:"
)

// Strategy decides how the two independently scored lists are ordered.
type Strategy string

const (
	// StrategyScore sorts by raw cosine score across both spaces.
	StrategyScore Strategy = "score"
	// StrategyRank interleaves by position within each source list.
	StrategyRank Strategy = "rank"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyScore:
		return StrategyScore, nil
	case StrategyRank:
		return StrategyRank, nil
	}
	return "", fmt.Errorf("unknown merge strategy %q", s)
}

type VectorSearcher interface {
	Search(query string, topK int, threshold float64) []vectorindex.Hit
}

type KnowledgeRetriever interface {
	Retrieve(query string, topK int) []knowledge.Match
}

type Options struct {
	// VectorThreshold is the minimum vector hit score; zero selects
	// DefaultVectorThreshold.
	VectorThreshold float64
	// ContextTopK is the number of results ContextFor considers.
	ContextTopK int
	Strategy    Strategy
	Logger      *slog.Logger
}

type Retriever struct {
	vectors   VectorSearcher
	knowledge KnowledgeRetriever

	threshold   float64
	contextTopK int
	strategy    Strategy
	logger      *slog.Logger
}

// New accepts a nil source; its results are simply absent.
func New(vectors VectorSearcher, kb KnowledgeRetriever, opts Options) *Retriever {
	if opts.VectorThreshold <= 0 {
		opts.VectorThreshold = DefaultVectorThreshold
	}
	if opts.ContextTopK <= 0 {
		opts.ContextTopK = DefaultTopK
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyScore
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Retriever{
		vectors:     vectors,
		knowledge:   kb,
		threshold:   opts.VectorThreshold,
		contextTopK: opts.ContextTopK,
		strategy:    opts.Strategy,
		logger:      opts.Logger,
	}
}

func (r *Retriever) Strategy() Strategy { return r.strategy }

// Retrieve returns at most topK results ordered by the merge strategy.
// Vector index hits precede knowledge base matches on ties.
func (r *Retriever) Retrieve(query string, topK int) []Result {
	if topK <= 0 || strings.TrimSpace(query) == "" {
		return nil
	}

	type candidate struct {
		res        Result
		sourceRank int
	}
	var all []candidate

	if r.vectors != nil {
		for _, h := range r.vectors.Search(query, topK, r.threshold) {
			all = append(all, candidate{
				res:        NewVectorDocumentResult(h.Document, h.Score),
				sourceRank: h.Rank,
			})
		}
	}
	if r.knowledge != nil {
		for i, m := range r.knowledge.Retrieve(query, 0) {
			var res Result
			switch m.Kind {
			case knowledge.KindFAQ:
				res = NewFAQResult(*m.FAQ, m.Score)
			case knowledge.KindDocumentation:
				res = NewDocumentationResult(*m.Doc, m.Score)
			default:
				continue
			}
			all = append(all, candidate{res: res, sourceRank: i + 1})
		}
	}

	switch r.strategy {
	case StrategyRank:
		sort.SliceStable(all, func(i, j int) bool { return all[i].sourceRank < all[j].sourceRank })
	default:
		sort.SliceStable(all, func(i, j int) bool { return all[i].res.Score() > all[j].res.Score() })
	}
	if len(all) > topK {
		all = all[:topK]
	}

	out := make([]Result, len(all))
	for i, c := range all {
		c.res.setRank(i + 1)
		out[i] = c.res
	}
	r.logger.Debug("retrieval merged", "query_len", len(query), "results", len(out), "strategy", r.strategy)
	return out
}

// ContextFor renders the top results under ContextHeader, adding whole
// blocks while the total stays within maxLen runes. It returns "" when
// nothing was retrieved or no block fits.
func (r *Retriever) ContextFor(query string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxContextLength
	}
	return Render(r.Retrieve(query, r.contextTopK), maxLen)
}

// Render is the context assembly used by ContextFor.
func Render(results []Result, maxLen int) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(ContextHeader)
	length := utf8.RuneCountInString(ContextHeader)
	added := 0
	for _, res := range results {
		block := "\n\n" + Block(res)
		n := utf8.RuneCountInString(block)
		if length+n > maxLen {
			break
		}
		b.WriteString(block)
		length += n
		added++
	}
	if added == 0 {
		return ""
	}
	return b.String()
}

// SourceIDs lists the ids of results in order.
func SourceIDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, res := range results {
		ids[i] = res.SourceID()
	}
	return ids
}
