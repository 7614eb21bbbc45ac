// Package contextengine assembles the best prompt context it can fit inside
// a hard token budget. Sources are queried in parallel, their candidates
// normalized and greedily selected per an optimization goal, compressed
// proportionally when the pinned set alone overflows, and rendered into a
// deterministic labeled block.
package contextengine

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/turnpike-ai/turnpike/logging"
)

// Goal selects the optimization policy.
type Goal string

const (
	// GoalMaximizeRelevance picks the highest-scoring candidates first.
	GoalMaximizeRelevance Goal = "maximize_relevance"
	// GoalMaximizeCoverage round-robins across sources before exhausting any.
	GoalMaximizeCoverage Goal = "maximize_coverage"
	// GoalBalanceAll selects by relevance-per-token density.
	GoalBalanceAll Goal = "balance_all"
)

// Section is one labeled block of the assembled context.
type Section struct {
	Source  SourceName `json:"source"`
	Content string     `json:"content"`
}

// OptimizedContext is the engine's output for one turn. BudgetUtilization
// above 1.0 means even compression could not fit the pinned set; the caller
// decides whether to proceed.
type OptimizedContext struct {
	Sections           []Section `json:"sections"`
	TotalTokens        int       `json:"total_tokens"`
	BudgetUtilization  float64   `json:"budget_utilization"`
	QualityScore       float64   `json:"quality_score"`
	CompressionApplied bool      `json:"compression_applied"`
}

// Empty reports whether nothing was selected.
func (o OptimizedContext) Empty() bool { return len(o.Sections) == 0 }

// Render formats the sections into one prompt-ready text block. Output is
// deterministic for a given selection.
func (o OptimizedContext) Render() string {
	if len(o.Sections) == 0 {
		return ""
	}
	var b strings.Builder
	for i, sec := range o.Sections {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## ")
		b.WriteString(string(sec.Source))
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(sec.Content, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// Options configure an Engine.
type Options struct {
	// EstimatorModel selects the tokenizer. Defaults to gpt-4o.
	EstimatorModel string
	Logger         logging.Logger
}

// Engine turns source candidates into an OptimizedContext.
type Engine struct {
	sources   []Source
	estimator *Estimator
	logger    logging.Logger
}

// NewEngine creates an Engine over the given sources.
func NewEngine(sources []Source, optFns ...func(o *Options)) *Engine {
	opts := Options{EstimatorModel: "gpt-4o"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		sources:   sources,
		estimator: NewEstimator(opts.EstimatorModel),
		logger:    logging.OrNoOp(opts.Logger),
	}
}

// Estimator exposes the engine's tokenizer so callers can share it.
func (e *Engine) Estimator() *Estimator { return e.estimator }

// Assemble runs retrieval, selection, compression and structuring for one
// request. An empty candidate set is not an error; the result is simply
// empty with quality_score zero.
func (e *Engine) Assemble(ctx context.Context, req Request) (OptimizedContext, error) {
	if req.TokenBudget <= 0 {
		req.TokenBudget = 2048
	}
	if req.Goal == "" {
		req.Goal = GoalBalanceAll
	}

	candidates, err := e.collect(ctx, req)
	if err != nil {
		return OptimizedContext{}, err
	}
	if len(candidates) == 0 {
		return OptimizedContext{BudgetUtilization: 0, QualityScore: 0}, nil
	}

	normalizeRelevance(candidates)
	e.pinSources(candidates, req.PinnedSources)

	selected := e.selectCandidates(candidates, req.TokenBudget, req.Goal)
	compressed := false
	total := totalTokens(selected)
	if total > req.TokenBudget {
		selected = e.compress(selected, req.TokenBudget)
		compressed = true
		total = totalTokens(selected)
	}

	out := OptimizedContext{
		Sections:           structure(selected),
		TotalTokens:        total,
		BudgetUtilization:  float64(total) / float64(req.TokenBudget),
		QualityScore:       qualityScore(selected, candidates),
		CompressionApplied: compressed,
	}
	e.logger.Debug("context.assembled",
		"candidates", len(candidates),
		"selected", len(selected),
		"tokens", total,
		"budget", req.TokenBudget,
		"compressed", compressed,
	)
	return out, nil
}

// collect queries every source concurrently. A source failure is logged and
// its candidates skipped; only context cancellation aborts the pass.
func (e *Engine) collect(ctx context.Context, req Request) ([]Candidate, error) {
	type result struct {
		cands []Candidate
		err   error
	}

	results := make([]result, len(e.sources))
	var wg sync.WaitGroup
	for i, src := range e.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			cands, err := src.Collect(ctx, req)
			results[i] = result{cands: cands, err: err}
		}(i, src)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Candidate
	for i, res := range results {
		if res.err != nil {
			e.logger.Warn("context.source.failed",
				"source", string(e.sources[i].Name()),
				"error", res.err.Error(),
			)
			continue
		}
		for _, cand := range res.cands {
			if cand.Content == "" {
				continue
			}
			if cand.TokenCost == 0 {
				cand.TokenCost = e.estimator.Count(cand.Content)
			}
			out = append(out, cand)
		}
	}
	return out, nil
}

// normalizeRelevance rescales each source's scores so its best candidate
// sits at 1.0, making scores comparable across sources.
func normalizeRelevance(cands []Candidate) {
	maxBySource := make(map[SourceName]float64)
	for _, c := range cands {
		if c.Relevance > maxBySource[c.Source] {
			maxBySource[c.Source] = c.Relevance
		}
	}
	for i := range cands {
		if m := maxBySource[cands[i].Source]; m > 0 {
			cands[i].Relevance /= m
		}
	}
}

func (e *Engine) pinSources(cands []Candidate, pinned []SourceName) {
	if len(pinned) == 0 {
		return
	}
	set := make(map[SourceName]bool, len(pinned))
	for _, name := range pinned {
		set[name] = true
	}
	for i := range cands {
		if set[cands[i].Source] {
			cands[i].Pinned = true
		}
	}
}

// selectCandidates applies the goal's greedy policy. Pinned candidates are
// always taken, even when that overflows the budget; compression deals with
// the overflow afterwards. If nothing fits at all, the single best candidate
// is taken anyway so it can be compressed rather than dropped.
func (e *Engine) selectCandidates(cands []Candidate, budget int, goal Goal) []Candidate {
	var selected []Candidate
	used := 0
	for _, c := range cands {
		if c.Pinned {
			selected = append(selected, c)
			used += c.TokenCost
		}
	}

	var pool []Candidate
	for _, c := range cands {
		if !c.Pinned {
			pool = append(pool, c)
		}
	}

	switch goal {
	case GoalMaximizeCoverage:
		pool = roundRobinOrder(pool)
	case GoalMaximizeRelevance:
		sortByRelevance(pool)
	default:
		sortByDensity(pool)
	}

	for _, c := range pool {
		if used+c.TokenCost > budget {
			continue
		}
		selected = append(selected, c)
		used += c.TokenCost
	}

	if len(selected) == 0 && len(cands) > 0 {
		best := cands[0]
		for _, c := range cands[1:] {
			if c.Relevance > best.Relevance {
				best = c
			}
		}
		selected = append(selected, best)
	}
	return selected
}

func sortByRelevance(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Relevance != cands[j].Relevance {
			return cands[i].Relevance > cands[j].Relevance
		}
		return rankOf(cands[i].Source) < rankOf(cands[j].Source)
	})
}

func sortByDensity(cands []Candidate) {
	density := func(c Candidate) float64 {
		if c.TokenCost <= 0 {
			return c.Relevance
		}
		return c.Relevance / float64(c.TokenCost)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		di, dj := density(cands[i]), density(cands[j])
		if di != dj {
			return di > dj
		}
		return rankOf(cands[i].Source) < rankOf(cands[j].Source)
	})
}

// roundRobinOrder interleaves sources so each contributes before any one is
// exhausted. Within a source, highest relevance goes first.
func roundRobinOrder(cands []Candidate) []Candidate {
	bySource := make(map[SourceName][]Candidate)
	var order []SourceName
	for _, c := range cands {
		if _, seen := bySource[c.Source]; !seen {
			order = append(order, c.Source)
		}
		bySource[c.Source] = append(bySource[c.Source], c)
	}
	sort.Slice(order, func(i, j int) bool { return rankOf(order[i]) < rankOf(order[j]) })
	for _, name := range order {
		sortByRelevance(bySource[name])
	}

	out := make([]Candidate, 0, len(cands))
	for len(out) < len(cands) {
		for _, name := range order {
			if queue := bySource[name]; len(queue) > 0 {
				out = append(out, queue[0])
				bySource[name] = queue[1:]
			}
		}
	}
	return out
}

// compress truncates candidates proportionally to their token share until
// the budget is met. Each candidate keeps at least one token so nothing is
// silently dropped; if the floor alone exceeds the budget, the overflow is
// reported through budget_utilization instead.
func (e *Engine) compress(selected []Candidate, budget int) []Candidate {
	total := totalTokens(selected)
	if total <= budget {
		return selected
	}
	out := make([]Candidate, len(selected))
	for i, c := range selected {
		target := c.TokenCost * budget / total
		if target < 1 {
			target = 1
		}
		if target < c.TokenCost {
			c.Content = e.estimator.Truncate(c.Content, target)
			c.TokenCost = e.estimator.Count(c.Content)
		}
		out[i] = c
	}
	return out
}

// structure groups the selection into one section per source, ordered by
// source rank, candidates ordered by relevance then content for determinism.
func structure(selected []Candidate) []Section {
	bySource := make(map[SourceName][]Candidate)
	for _, c := range selected {
		bySource[c.Source] = append(bySource[c.Source], c)
	}
	var names []SourceName
	for name := range bySource {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return rankOf(names[i]) < rankOf(names[j]) })

	sections := make([]Section, 0, len(names))
	for _, name := range names {
		group := bySource[name]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Relevance != group[j].Relevance {
				return group[i].Relevance > group[j].Relevance
			}
			return group[i].Content < group[j].Content
		})
		var b strings.Builder
		for _, c := range group {
			if c.Label != "" {
				b.WriteString("[")
				b.WriteString(c.Label)
				b.WriteString("] ")
			}
			b.WriteString(strings.TrimSpace(c.Content))
			b.WriteString("\n")
		}
		sections = append(sections, Section{Source: name, Content: b.String()})
	}
	return sections
}

// qualityScore is the relevance mass captured by the selection relative to
// everything proposed. Zero when nothing was proposed.
func qualityScore(selected, all []Candidate) float64 {
	var got, possible float64
	for _, c := range all {
		possible += c.Relevance
	}
	for _, c := range selected {
		got += c.Relevance
	}
	if possible == 0 {
		return 0
	}
	score := got / possible
	if score > 1 {
		score = 1
	}
	return score
}

func totalTokens(cands []Candidate) int {
	total := 0
	for _, c := range cands {
		total += c.TokenCost
	}
	return total
}
