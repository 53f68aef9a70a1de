package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/fusion"
	"github.com/poiesic/lodestone/index"
	"github.com/poiesic/lodestone/manager"
	"github.com/poiesic/lodestone/scope"
	"github.com/poiesic/lodestone/storage"
	"github.com/poiesic/lodestone/vector"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCandidateMultiplier = 4
	defaultMaxWidenings        = 4
	defaultMaxEfSearch         = 4096

	untrainedWarning = "cluster index is untrained; ANN results come from an exhaustive scan of unassigned vectors"
)

// IndexSource hands out the current generation of a collection's indexes.
// *manager.Manager implements it.
type IndexSource interface {
	View() manager.View
}

// Searcher routes queries across the ANN and keyword indexes of one collection.
type Searcher struct {
	source              IndexSource
	records             storage.RecordRepository
	candidateMultiplier int
	rrfK                float64
	maxWidenings        int
	maxEfSearch         int
	logger              *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithCandidateMultiplier sets how many candidates per requested result each
// hybrid leg fetches before fusion. Default is 4.
func WithCandidateMultiplier(n int) Option {
	return func(s *Searcher) error {
		if n < 1 {
			return fmt.Errorf("candidate multiplier must be positive, got %d", n)
		}
		s.candidateMultiplier = n
		return nil
	}
}

// WithRRFK sets the fusion smoothing constant. Default is 50.
func WithRRFK(k float64) Option {
	return func(s *Searcher) error {
		if k <= 0 {
			return fmt.Errorf("rrf k must be positive, got %v", k)
		}
		s.rrfK = k
		return nil
	}
}

// WithMaxWidenings bounds how many times an under-filled ANN search doubles its effort.
// Default is 4.
func WithMaxWidenings(n int) Option {
	return func(s *Searcher) error {
		if n < 0 {
			n = 0
		}
		s.maxWidenings = n
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(source IndexSource, records storage.RecordRepository, opts ...Option) (*Searcher, error) {
	if source == nil {
		return nil, ErrIndexSourceRequired
	}
	if records == nil {
		return nil, ErrRecordRepositoryRequired
	}

	s := &Searcher{
		source:              source,
		records:             records,
		candidateMultiplier: defaultCandidateMultiplier,
		rrfK:                fusion.DefaultRRFK,
		maxWidenings:        defaultMaxWidenings,
		maxEfSearch:         defaultMaxEfSearch,
		logger:              slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "searcher")

	return s, nil
}

// Search runs req as principal.
func (s *Searcher) Search(ctx context.Context, principal scope.Principal, req Request) (*Response, error) {
	return s.SearchWithMonitor(ctx, principal, req, nil)
}

// annLeg is the outcome of the ANN half of a query.
type annLeg struct {
	candidates []fusion.Candidate // similarity, best first
	partial    bool
	untrained  bool
	widenings  int
}

// keywordLeg is the outcome of the keyword half of a query.
type keywordLeg struct {
	candidates []fusion.Candidate // BM25, best first
	partial    bool
}

// SearchWithMonitor runs req as principal with monitoring.
// The monitor receives callbacks at each stage of the search process.
func (s *Searcher) SearchWithMonitor(ctx context.Context, principal scope.Principal, req Request, monitor SearchMonitor) (*Response, error) {
	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	view := s.source.View()
	mode, err := resolveMode(req, view.Collection.Dimension)
	if err != nil {
		return nil, err
	}
	monitor.Start(req, mode)

	filter := view.Scopes.Filter(principal)
	want := req.K
	if mode == ModeHybrid {
		want = req.K * s.candidateMultiplier
	}

	var (
		ann annLeg
		kw  keywordLeg
	)
	switch mode {
	case ModeANN:
		ann, err = s.searchANN(ctx, view, req, want, filter)
	case ModeKeyword:
		kw, err = s.searchKeyword(ctx, view, req, want, filter, true)
	case ModeHybrid:
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			ann, err = s.searchANN(gctx, view, req, want, filter)
			return err
		})
		g.Go(func() error {
			var err error
			kw, err = s.searchKeyword(gctx, view, req, want, filter, false)
			return err
		})
		err = g.Wait()
	}
	if err != nil {
		s.logger.Error("index search failed", "mode", mode, "err", err)
		return nil, err
	}

	resp := &Response{Partial: ann.partial || kw.partial}
	if ann.untrained {
		s.logger.Warn("query answered by an untrained cluster index", "collection", view.Collection.Name)
		resp.Warnings = append(resp.Warnings, untrainedWarning)
	}
	if mode != ModeKeyword {
		monitor.AfterANNSearch(candidateIDs(ann.candidates), ann.widenings, ann.partial)
	}
	if mode != ModeANN {
		monitor.AfterKeywordSearch(candidateIDs(kw.candidates), kw.partial)
	}

	var ranked []fusion.Candidate
	switch mode {
	case ModeANN:
		ranked = ann.candidates
	case ModeKeyword:
		ranked = kw.candidates
	case ModeHybrid:
		fused := fusion.Fuse(ann.candidates, kw.candidates, req.K, weight(req.WeightANN), weight(req.WeightKeyword), s.rrfK)
		ranked = make([]fusion.Candidate, len(fused))
		for i, f := range fused {
			ranked[i] = fusion.Candidate{Id: f.Id, Score: float32(f.Score)}
		}
		monitor.AfterFusion(candidateIDs(ranked))
	}
	if len(ranked) > req.K {
		ranked = ranked[:req.K]
	}

	results, err := s.materialize(ctx, view, principal, ranked, monitor)
	if err != nil {
		return nil, err
	}
	resp.Results = results

	if resp.Partial && len(resp.Results) == 0 {
		s.logger.Debug("query deadline expired before any result", "mode", mode)
		return nil, fmt.Errorf("%w: no results gathered before the deadline", core.ErrQueryTimeout)
	}

	monitor.Finish(resp)
	return resp, nil
}

// searchANN queries the ANN index, doubling its effort while the scope filter
// leaves it short of want and the deadline allows.
func (s *Searcher) searchANN(ctx context.Context, view manager.View, req Request, want int, filter index.Filter) (annLeg, error) {
	c := view.Collection
	params := index.SearchParams{EfSearch: req.EfSearch, Probes: req.Probes}
	if params.EfSearch <= 0 {
		params.EfSearch = c.Graph.EfSearch
	}
	if params.Probes <= 0 {
		params.Probes = c.Cluster.Probes
	}

	var (
		leg annLeg
		res index.Result
		err error
	)
	for {
		res, err = view.ANN.Search(ctx, req.Vector, want, params, filter)
		if err != nil {
			return annLeg{}, err
		}
		if len(res.Neighbors) >= want || res.Partial || res.Untrained || leg.widenings >= s.maxWidenings || ctx.Err() != nil {
			break
		}
		next := index.SearchParams{
			EfSearch: min(params.EfSearch*2, max(s.maxEfSearch, params.EfSearch)),
			Probes:   min(params.Probes*2, max(c.Cluster.Lists, params.Probes)),
		}
		if next == params {
			break
		}
		params = next
		leg.widenings++
	}

	leg.partial = res.Partial
	leg.untrained = res.Untrained
	leg.candidates = make([]fusion.Candidate, 0, len(res.Neighbors))
	for _, n := range res.Neighbors {
		sim := vector.Similarity(c.Metric, n.Distance)
		if req.Threshold != nil && sim < *req.Threshold {
			continue
		}
		leg.candidates = append(leg.candidates, fusion.Candidate{Id: n.Id, Score: sim})
	}
	return leg, nil
}

// searchKeyword queries the keyword index. The threshold applies only when the
// keyword leg alone answers the query.
func (s *Searcher) searchKeyword(ctx context.Context, view manager.View, req Request, want int, filter index.Filter, applyThreshold bool) (keywordLeg, error) {
	res, err := view.Keyword.Search(ctx, req.Text, want, filter)
	if err != nil {
		return keywordLeg{}, err
	}

	leg := keywordLeg{partial: res.Partial, candidates: make([]fusion.Candidate, 0, len(res.Hits))}
	for _, h := range res.Hits {
		if applyThreshold && req.Threshold != nil && h.Score < *req.Threshold {
			continue
		}
		leg.candidates = append(leg.candidates, fusion.Candidate{Id: h.Id, Score: h.Score})
	}
	return leg, nil
}

// materialize fetches ranked records and drops any the principal does not control.
// Records deleted since the index scan are skipped.
func (s *Searcher) materialize(ctx context.Context, view manager.View, principal scope.Principal, ranked []fusion.Candidate, monitor SearchMonitor) ([]*core.SearchResult, error) {
	if len(ranked) == 0 {
		return []*core.SearchResult{}, nil
	}

	ids := candidateIDs(ranked)
	// The fetch must survive an expired deadline so partial results can still be returned.
	records, err := s.records.GetRecords(context.WithoutCancel(ctx), view.Collection.Name, ids...)
	if err != nil {
		s.logger.Error("error retrieving records", "recordCount", len(ids), "err", err)
		return nil, err
	}
	monitor.AfterRecordRetrieval(records)

	byID := make(map[core.ID]*core.Record, len(records))
	for _, r := range records {
		byID[r.Id] = r
	}

	results := make([]*core.SearchResult, 0, len(ranked))
	for _, c := range ranked {
		record, ok := byID[c.Id]
		if !ok {
			continue
		}
		if !principal.Controls(record.Scope) {
			s.logger.Warn("index returned a record outside the principal's scopes", "id", record.Id)
			monitor.ScopeRejected(record)
			continue
		}
		results = append(results, &core.SearchResult{
			Id:      record.Id,
			Content: record.Content,
			Score:   c.Score,
		})
	}
	return results, nil
}

func candidateIDs(cs []fusion.Candidate) []core.ID {
	ids := make([]core.ID, len(cs))
	for i, c := range cs {
		ids[i] = c.Id
	}
	return ids
}

func weight(w float64) float64 {
	if w == 0 {
		return 1
	}
	return w
}
