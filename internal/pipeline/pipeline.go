// Package pipeline wires the discovery frontier, the provider clients,
// the analyzer, and the store writer into a staged dataflow with bounded
// queues, shared dedup, checkpointing, and cooperative cancellation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matsen/lattice/internal/analyzer"
	"github.com/matsen/lattice/internal/concept"
	"github.com/matsen/lattice/internal/edge"
	"github.com/matsen/lattice/internal/frontier"
	"github.com/matsen/lattice/internal/graphstore"
	"github.com/matsen/lattice/internal/httputil"
	"github.com/matsen/lattice/internal/llm"
	"github.com/matsen/lattice/internal/metadata"
	"github.com/matsen/lattice/internal/paper"
	"github.com/matsen/lattice/internal/store"
	"github.com/matsen/lattice/internal/vectorstore"
)

const (
	// maxLinkPages caps pagination when listing a paper's references or
	// citations.
	maxLinkPages = 10

	// storeFailureThreshold is how many consecutive store write failures
	// transition the run to Failed.
	storeFailureThreshold = 5

	// idlePollInterval is how often discover workers re-check an empty
	// frontier while other stages still hold in-flight items.
	idlePollInterval = 10 * time.Millisecond
)

// ErrStoreUnhealthy is the fatal error after repeated store failures.
var ErrStoreUnhealthy = errors.New("store unhealthy")

// Fetcher is the metadata-provider surface the pipeline needs.
// *metadata.Client implements it; tests substitute stubs.
type Fetcher interface {
	GetPaper(ctx context.Context, id string) (*paper.Paper, error)
	GetReferences(ctx context.Context, id, cursor string) (*metadata.Page, error)
	GetCitations(ctx context.Context, id, cursor string) (*metadata.Page, error)
}

// Coordinator owns the staged dataflow for ingestion runs. One run is
// active at a time; run-control calls in the wrong state return a typed
// StateError.
type Coordinator struct {
	fetcher  Fetcher
	analyzer *analyzer.Analyzer
	analysis analyzer.Client // For the re-embed pass; nil disables it
	writer   *store.Writer
	retries  *httputil.RetryCounters
	log      *slog.Logger

	checkpointPath string

	mu        sync.Mutex
	state     State
	cfg       RunConfig
	runID     string
	startedAt time.Time
	front     *frontier.Frontier
	counts    *counters
	cancel    context.CancelFunc
	done      chan struct{}
	fatalErr  error

	inflight      inflightSet
	sinceCkpt     atomic.Int64
	storeFailures atomic.Int64
	ckptMu        sync.Mutex
}

// inflightSet tracks items that left the frontier but have not finished
// persisting. Checkpoints include them so a stop mid-flight loses nothing:
// a claimed item would otherwise never be re-enqueued by its parent.
type inflightSet struct {
	mu    sync.Mutex
	items map[string]int // id -> depth
}

func (s *inflightSet) start(it frontier.Item) {
	s.mu.Lock()
	if s.items == nil {
		s.items = make(map[string]int)
	}
	s.items[it.ID] = it.Depth
	s.mu.Unlock()
}

func (s *inflightSet) done(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

func (s *inflightSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *inflightSet) snapshot() []frontier.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]frontier.Item, 0, len(s.items))
	for id, depth := range s.items {
		out = append(out, frontier.Item{ID: id, Depth: depth})
	}
	return out
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = l }
}

// WithAnalysisClient sets the analysis client used by the re-embed pass.
func WithAnalysisClient(a analyzer.Client) CoordinatorOption {
	return func(c *Coordinator) { c.analysis = a }
}

// WithRetryCounters surfaces the provider clients' retry counters in
// Status().ErrorsByKind.
func WithRetryCounters(rc *httputil.RetryCounters) CoordinatorOption {
	return func(c *Coordinator) { c.retries = rc }
}

// NewCoordinator creates a coordinator over its collaborators. The
// checkpoint path names the single atomic checkpoint file for runs.
func NewCoordinator(fetcher Fetcher, anlz *analyzer.Analyzer, writer *store.Writer, checkpointPath string, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		fetcher:        fetcher,
		analyzer:       anlz,
		writer:         writer,
		checkpointPath: checkpointPath,
		state:          StateIdle,
		counts:         newCounters(),
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// transition moves the run state; run logic only requests changes the
// state machine allows.
func (c *Coordinator) transition(to State) {
	if !legal(c.state, to) {
		panic(fmt.Sprintf("illegal state transition %s -> %s", c.state, to))
	}
	c.state = to
}

// Start begins a run with the given configuration. It returns once the
// run is accepted and the stages are launched; progress is observed via
// Status. Rejects with a StateError while a run is in flight.
func (c *Coordinator) Start(cfg RunConfig) error {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle:
	case StateStopped, StateCompleted, StateFailed:
		// A terminal coordinator accepts a fresh run.
		c.state = StateIdle
	default:
		return &StateError{Op: "start", State: c.state}
	}

	c.transition(StateStarting)
	c.cfg = cfg
	c.runID = newRunID()
	c.startedAt = time.Now()
	c.counts = newCounters()
	c.fatalErr = nil
	c.inflight = inflightSet{}
	c.sinceCkpt.Store(0)
	c.storeFailures.Store(0)
	c.front = frontier.New(frontier.Config{
		MaxDepth:  cfg.MaxDepth,
		MaxPapers: cfg.MaxPapers,
		MaxFanout: cfg.MaxFanout,
	})

	if cfg.Resume {
		if err := c.restore(); err != nil {
			c.transition(StateFailed)
			return err
		}
	}
	added := c.front.Seed(cfg.Seeds)
	c.counts.discovered.Add(int64(added))

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.transition(StateRunning)

	c.log.Info("run started", "run_id", c.runID, "seeds", len(cfg.Seeds),
		"max_depth", cfg.MaxDepth, "max_papers", cfg.MaxPapers)

	go c.run(ctx)
	return nil
}

// restore seeds the visited set from the store and the queue from the
// checkpoint file. A missing checkpoint reduces to a fresh run; the store
// still prevents duplicate work.
func (c *Coordinator) restore() error {
	ids, err := c.writer.Graph().PaperIDs()
	if err != nil {
		return fmt.Errorf("seeding visited set from store: %w", err)
	}
	c.front.MarkVisited(ids)

	ckpt, err := loadCheckpoint(c.checkpointPath)
	if errors.Is(err, ErrNoCheckpoint) {
		return nil
	}
	if err != nil {
		return err
	}
	c.front.Restore(ckpt.Queue)
	c.counts.discovered.Add(int64(c.front.PendingCount()))
	c.log.Info("resumed from checkpoint", "run_id", ckpt.RunID,
		"queued", len(ckpt.Queue), "visited", len(ids))
	return nil
}

// Stop requests cooperative cancellation and blocks until the run is
// quiescent. Stopping an already-stopped coordinator is a no-op success.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	switch c.state {
	case StateRunning, StateStarting:
		c.transition(StateStopping)
	case StateStopping:
	default:
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Status returns a snapshot of the current or last run, including the
// provider clients' retry counters.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := 0
	if c.front != nil {
		pending = c.front.PendingCount() + c.inflight.count()
	}
	st := c.counts.snapshot(c.state, c.runID, c.startedAt, pending)
	for tag, n := range c.retries.Snapshot() {
		// Tags are provider/kind; status aggregates by kind.
		kind := tag
		if i := strings.IndexByte(tag, '/'); i >= 0 {
			kind = tag[i+1:]
		}
		st.ErrorsByKind[kind] += n
	}
	return st
}

// Wait blocks until the current run reaches a terminal state. It is a
// convenience for CLI foreground runs; Stop also waits.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// fetched carries one paper between stages, accumulating the analyzer's
// enrichment on the way to persistence.
type fetched struct {
	paper  *paper.Paper
	refs   []analyzer.Reference
	citers []string // IDs of papers citing this one
	enrich *analyzer.Enrichment
}

// run executes the four stages and settles the terminal state.
func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	qa := make(chan frontier.Item, c.cfg.Queues.Fetch)
	qb := make(chan fetched, c.cfg.Queues.Analyze)
	qc := make(chan fetched, c.cfg.Queues.Persist)

	var discoverWG, fetchWG, analyzeWG, persistWG sync.WaitGroup

	for i := 0; i < c.cfg.Workers.Discover; i++ {
		discoverWG.Add(1)
		go func() {
			defer discoverWG.Done()
			c.discoverWorker(ctx, qa)
		}()
	}
	for i := 0; i < c.cfg.Workers.Fetch; i++ {
		fetchWG.Add(1)
		go func() {
			defer fetchWG.Done()
			c.fetchWorker(ctx, qa, qb)
		}()
	}
	for i := 0; i < c.cfg.Workers.Analyze; i++ {
		analyzeWG.Add(1)
		go func() {
			defer analyzeWG.Done()
			c.analyzeWorker(ctx, qb, qc)
		}()
	}
	for i := 0; i < c.cfg.Workers.Persist; i++ {
		persistWG.Add(1)
		go func() {
			defer persistWG.Done()
			c.persistWorker(ctx, qc)
		}()
	}

	discoverWG.Wait()
	close(qa)
	fetchWG.Wait()
	close(qb)
	analyzeWG.Wait()
	close(qc)
	persistWG.Wait()

	if ctx.Err() == nil && c.fatalErr == nil {
		c.reembed(ctx)
	}

	if err := c.writer.Flush(); err != nil {
		c.log.Error("flushing vector store", "error", err)
	}

	c.settle()
}

// settle moves the run to its terminal state and finalizes the checkpoint.
func (c *Coordinator) settle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.fatalErr != nil:
		c.transition(StateFailed)
		c.writeCheckpointLocked()
		c.log.Error("run failed", "run_id", c.runID, "error", c.fatalErr)
	case c.state == StateStopping:
		c.writeCheckpointLocked()
		c.transition(StateStopped)
		c.log.Info("run stopped", "run_id", c.runID, "persisted", c.counts.persisted.Load())
	default:
		// Exhausted: the frontier drained with no cancellation.
		c.transition(StateCompleted)
		os.Remove(c.checkpointPath)
		c.log.Info("run completed", "run_id", c.runID, "persisted", c.counts.persisted.Load())
	}
}

// fatal records an unrecoverable run failure and aborts remaining work.
func (c *Coordinator) fatal(err error) {
	c.mu.Lock()
	if c.fatalErr == nil {
		c.fatalErr = err
	}
	cancel := c.cancel
	c.mu.Unlock()
	cancel()
}

// discoverWorker feeds frontier items into the fetch queue. It exits when
// the frontier is exhausted and nothing is in flight, or on cancellation.
func (c *Coordinator) discoverWorker(ctx context.Context, qa chan<- frontier.Item) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := c.front.Next()
		if err != nil {
			if c.inflight.count() == 0 {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePollInterval):
			}
			continue
		}
		c.inflight.start(item)
		select {
		case qa <- item:
		case <-ctx.Done():
			// Cancellation: the item stays tracked so the final
			// checkpoint re-queues it.
			return
		}
	}
}

// fetchWorker resolves metadata for queued items, feeds neighbors back to
// the frontier, and emits resolved papers to the analyze queue.
func (c *Coordinator) fetchWorker(ctx context.Context, qa <-chan frontier.Item, qb chan<- fetched) {
	for item := range qa {
		if ctx.Err() != nil {
			continue // Stays in-flight for the final checkpoint
		}
		out, ok := c.fetchOne(ctx, item)
		if !ok {
			if ctx.Err() == nil {
				c.inflight.done(item.ID)
			}
			continue
		}
		select {
		case qb <- out:
		case <-ctx.Done():
		}
	}
}

// fetchOne resolves one item. Returns ok=false when the item was dropped
// (any stub persistence already handled).
func (c *Coordinator) fetchOne(ctx context.Context, item frontier.Item) (fetched, bool) {
	if !c.cfg.UseMetadata {
		// Without the metadata provider, papers persist as id-only stubs.
		return fetched{paper: &paper.Paper{ID: item.ID}}, true
	}

	p, err := c.fetcher.GetPaper(ctx, item.ID)
	if err != nil {
		c.handleFetchError(ctx, item.ID, err)
		return fetched{}, false
	}
	c.counts.fetched.Add(1)

	// Papers at the depth bound contribute no further edges or neighbors;
	// their references would only sprawl stub nodes past the bound.
	if item.Depth >= c.cfg.MaxDepth {
		return fetched{paper: p}, true
	}

	refs, refIDs := c.fetchLinks(ctx, item.ID, false)
	_, citers := c.fetchLinks(ctx, item.ID, true)

	neighbors := append(append([]string{}, refIDs...), citers...)
	enqueued := c.front.EnqueueNeighbors(neighbors, item.Depth)
	c.counts.discovered.Add(int64(len(enqueued)))
	c.maybeCheckpoint(int64(len(enqueued)))

	// Edges only reach papers the frontier admitted; a neighbor cut by the
	// paper-count or fanout bound would otherwise persist as a stub node.
	admittedRefs := refs[:0]
	for _, r := range refs {
		if c.front.Visited(r.Dst) {
			admittedRefs = append(admittedRefs, r)
		}
	}
	var admittedCiters []string
	for _, id := range citers {
		if c.front.Visited(id) {
			admittedCiters = append(admittedCiters, id)
		}
	}
	return fetched{paper: p, refs: admittedRefs, citers: admittedCiters}, true
}

// fetchLinks pages through a paper's references (or citations) and
// returns them as analyzer references plus the bare neighbor IDs.
func (c *Coordinator) fetchLinks(ctx context.Context, id string, citations bool) ([]analyzer.Reference, []string) {
	var refs []analyzer.Reference
	var ids []string
	cursor := ""
	for page := 0; page < maxLinkPages; page++ {
		var pg *metadata.Page
		var err error
		if citations {
			pg, err = c.fetcher.GetCitations(ctx, id, cursor)
		} else {
			pg, err = c.fetcher.GetReferences(ctx, id, cursor)
		}
		if err != nil {
			if ctx.Err() == nil {
				c.counts.recordError(errorKind(err))
			}
			break
		}
		for _, n := range pg.Neighbors {
			if n.ID == "" || n.ID == id {
				continue
			}
			ids = append(ids, n.ID)
			if !citations {
				refs = append(refs, analyzer.Reference{Dst: n.ID, Context: n.Context})
			}
		}
		if pg.NextCursor == "" {
			break
		}
		cursor = pg.NextCursor
	}
	return refs, ids
}

// handleFetchError classifies a metadata failure. NotFound persists an
// id-only stub and never requeues; everything else is recorded and the
// item dropped from this run.
func (c *Coordinator) handleFetchError(ctx context.Context, id string, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	kind := errorKind(err)
	c.counts.recordError(kind)
	c.log.Warn("fetch failed", "id", id, "kind", kind, "error", err)

	if metadata.IsNotFound(err) {
		if serr := c.writer.UpsertPaper(&paper.Paper{ID: id}); serr != nil {
			c.recordStoreError(serr)
		}
	}
}

// analyzeWorker enriches fetched papers and forwards them to persistence.
func (c *Coordinator) analyzeWorker(ctx context.Context, qb <-chan fetched, qc chan<- fetched) {
	steps := analyzer.Steps{
		Summarize: c.cfg.Analyze,
		Entities:  c.cfg.Analyze,
		Classify:  c.cfg.Analyze,
		Embed:     c.cfg.Embed,
		FullText:  c.cfg.UseFullText,
	}
	enabled := steps.Summarize || steps.Entities || steps.Classify || steps.Embed

	for item := range qb {
		if ctx.Err() != nil {
			continue // Stays in-flight for the final checkpoint
		}
		if enabled && !item.paper.IsStub() {
			enr, err := c.analyzer.Analyze(ctx, item.paper, item.refs, steps)
			if err != nil {
				// Only cancellation escapes Analyze.
				continue
			}
			c.applyEnrichment(&item, enr)
			c.counts.analyzed.Add(1)
		}
		select {
		case qc <- item:
		case <-ctx.Done():
		}
	}
}

// applyEnrichment folds an enrichment into the in-flight item and records
// partial failures.
func (c *Coordinator) applyEnrichment(item *fetched, enr *analyzer.Enrichment) {
	if enr.Summary != "" {
		item.paper.Summary = enr.Summary
	}
	if enr.Embedding != nil {
		item.paper.Embedding = enr.Embedding
	}
	item.enrich = enr
	for step, err := range enr.Errs {
		c.counts.recordError(KindEnrichmentMissing)
		c.log.Warn("enrichment step failed", "id", item.paper.ID, "step", step, "error", err)
	}
}

// persistWorker writes enriched papers, their edges, and their concept
// mentions through the store writer.
func (c *Coordinator) persistWorker(ctx context.Context, qc <-chan fetched) {
	for item := range qc {
		if ctx.Err() != nil {
			continue // Stays in-flight for the final checkpoint
		}
		if err := c.persistOne(item); err != nil {
			c.recordStoreError(err)
		} else {
			c.counts.persisted.Add(1)
			c.storeFailures.Store(0)
		}
		c.inflight.done(item.paper.ID)
	}
}

// persistOne writes one item's node, edges, and mentions.
func (c *Coordinator) persistOne(item fetched) error {
	p := item.paper
	if err := c.writer.UpsertPaper(p); err != nil {
		return err
	}

	for _, ref := range item.refs {
		if ref.Dst == p.ID {
			continue
		}
		e := edge.CitationEdge{Src: p.ID, Dst: ref.Dst, Context: ref.Context,
			Intent: edge.IntentUnknown, Position: edge.PositionOther}
		if item.enrich != nil {
			if cls, ok := item.enrich.EdgeLabels[ref.Dst]; ok {
				e.Intent = cls.Intent
				e.Position = cls.Position
				e.Confidence = cls.Confidence
			}
		}
		if err := c.writer.UpsertCitation(e); err != nil {
			return err
		}
	}
	for _, citer := range item.citers {
		if citer == p.ID {
			continue
		}
		e := edge.CitationEdge{Src: citer, Dst: p.ID,
			Intent: edge.IntentUnknown, Position: edge.PositionOther}
		if err := c.writer.UpsertCitation(e); err != nil {
			return err
		}
	}

	if item.enrich != nil {
		if len(item.enrich.Concepts) > 0 {
			mentions := make([]concept.Mention, 0, len(item.enrich.Concepts))
			for _, cc := range item.enrich.Concepts {
				mentions = append(mentions, concept.Mention{PaperID: p.ID, Concept: cc})
			}
			if err := c.writer.UpsertConceptMentions(p.ID, mentions); err != nil {
				return err
			}
		}
		if c.cfg.Embed && p.Embedding == nil && !p.IsStub() {
			if err := c.writer.MarkEmbeddingPending(p.ID, "embedding missing at persist"); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordStoreError counts a store failure and trips the fatal threshold.
func (c *Coordinator) recordStoreError(err error) {
	if errors.Is(err, graphstore.ErrSchemaMismatch) {
		c.counts.recordError(KindSchemaMismatch)
		c.fatal(err)
		return
	}
	c.counts.recordError(KindStoreBusy)
	c.log.Warn("store write failed", "error", err)
	if c.storeFailures.Add(1) >= storeFailureThreshold {
		c.fatal(fmt.Errorf("%w: %v", ErrStoreUnhealthy, err))
	}
}

// maybeCheckpoint writes a checkpoint after every configured number of
// newly enqueued items.
func (c *Coordinator) maybeCheckpoint(enqueued int64) {
	if enqueued == 0 {
		return
	}
	if c.sinceCkpt.Add(enqueued) < int64(c.cfg.CheckpointEveryN) {
		return
	}
	c.ckptMu.Lock()
	defer c.ckptMu.Unlock()
	if c.sinceCkpt.Load() < int64(c.cfg.CheckpointEveryN) {
		return
	}
	c.sinceCkpt.Store(0)
	if err := c.writeCheckpoint(); err != nil {
		c.log.Warn("checkpoint write failed", "error", err)
	}
}

// writeCheckpoint snapshots the queue plus any in-flight items, so a
// resume re-queues work that left the frontier but never persisted.
func (c *Coordinator) writeCheckpoint() error {
	queue := append(c.inflight.snapshot(), c.front.Snapshot()...)
	ckpt := newCheckpoint(c.runID, c.cfg, queue)
	return ckpt.save(c.checkpointPath)
}

// writeCheckpointLocked writes a final checkpoint; caller holds c.mu.
func (c *Coordinator) writeCheckpointLocked() {
	if err := c.writeCheckpoint(); err != nil {
		c.log.Warn("final checkpoint write failed", "error", err)
	}
}

// reembed drains the pending-embeddings ledger after the main stages
// finish, converging the vector store with the graph store.
func (c *Coordinator) reembed(ctx context.Context) {
	if !c.cfg.Embed || c.analysis == nil {
		return
	}
	ids, err := c.writer.PendingEmbeddings()
	if err != nil {
		c.recordStoreError(err)
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		p, err := c.writer.Graph().GetPaper(id)
		if err != nil || p.EmbedText() == "" {
			continue
		}
		vec, err := c.analysis.Embed(ctx, paper.Truncate(p.EmbedText(), paper.MaxAbstractEmbedLength))
		if err != nil {
			if ctx.Err() == nil {
				c.counts.recordError(errorKind(err))
			}
			continue
		}
		proj := vectorstore.Projection{Category: p.PrimaryCategory(), Year: p.Year()}
		if err := c.writer.ResolveEmbedding(id, vec, proj); err != nil {
			c.recordStoreError(err)
		}
	}
}

// errorKind maps an error to its status-counter kind.
func errorKind(err error) string {
	switch {
	case metadata.IsNotFound(err):
		return KindNotFound
	case metadata.IsRateLimited(err) || errors.Is(err, llm.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, metadata.ErrInvalidID) || errors.Is(err, llm.ErrInvalidInput) || errors.Is(err, llm.ErrInvalidOutput):
		return KindInvalidInput
	case errors.Is(err, metadata.ErrUnavailable) || errors.Is(err, llm.ErrUnavailable) || errors.Is(err, llm.ErrOverloaded):
		return KindUnavailable
	default:
		return KindNetwork
	}
}
