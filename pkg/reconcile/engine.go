// Package reconcile runs the end-to-end link reconciliation for a tenant.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/trellis/pkg/caseindex"
	"github.com/Ramsey-B/trellis/pkg/domain"
	"github.com/Ramsey-B/trellis/pkg/extractor"
	"github.com/Ramsey-B/trellis/pkg/linking"
	"github.com/Ramsey-B/trellis/pkg/matching"
	"github.com/Ramsey-B/trellis/pkg/metrics"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/themes"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

var (
	// ErrRunInProgress is returned when another run holds the tenant lock past the wait timeout.
	ErrRunInProgress  = errors.New("a reconciliation run is already in progress for this tenant")
	ErrTenantRequired = errors.New("tenant id is required")
	ErrInvalidMode    = errors.New("invalid run mode")
)

type Config struct {
	WorkerCount         int
	CandidateFields     []string
	ClientField         string
	MaxAccountsPerTheme int
	PrefixDomains       map[string]string
	ProductDomains      map[string]string
	Writer              linking.Config
}

func DefaultConfig() Config {
	return Config{
		WorkerCount:         4,
		CandidateFields:     []string{extractor.AllCustomFields, "summary", "description"},
		MaxAccountsPerTheme: matching.DefaultMaxThemeFanout,
		PrefixDomains:       domain.DefaultPrefixDomains,
		Writer:              linking.DefaultConfig(),
	}
}

type Engine struct {
	cfg       Config
	logger    ectologger.Logger
	store     Store
	locks     *TenantLocks
	sinks     []Sink
	extractor *extractor.Extractor
	filter    *domain.Filter
	writer    *linking.Writer
	now       func() time.Time
}

// NewEngine validates configuration and wires the pipeline. locks may be nil,
// in which case an in-process lock with a zero wait is used.
func NewEngine(logger ectologger.Logger, cfg Config, store Store, locks *TenantLocks, sinks ...Sink) (*Engine, error) {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	ext, err := extractor.New(cfg.CandidateFields)
	if err != nil {
		return nil, err
	}
	if _, err := matching.NewClientField(cfg.ClientField, nil); err != nil {
		return nil, err
	}
	if locks == nil {
		locks = NewTenantLocks(logger, nil, 0, 0)
	}

	return &Engine{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		locks:     locks,
		sinks:     sinks,
		extractor: ext,
		filter:    domain.NewFilter(cfg.PrefixDomains, cfg.ProductDomains),
		writer:    linking.NewWriter(logger, cfg.Writer, store, store),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

type runData struct {
	accounts    []models.Account
	cases       []models.Case
	tickets     []models.Ticket
	themes      []models.Theme
	assignments []models.ThemeAssignment
}

// ticketSlot is written by exactly one worker.
type ticketSlot struct {
	result  matching.Result
	skipped bool
}

// Run reconciles one tenant. Loading failures abort the run; write failures
// are reported on the RunReport with Partial set.
func (e *Engine) Run(ctx context.Context, tenantID string, mode models.RunMode) (*models.RunReport, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Engine.Run")
	defer span.End()

	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	release, err := e.locks.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{"tenant_id": tenantID, "mode": mode})
	report := newReport(tenantID, mode, e.now())
	log = log.WithField("run_id", report.RunID)
	log.Info("Starting reconciliation run")

	status := "error"
	defer func() {
		metrics.RecordRun(tenantID, string(mode), status, time.Since(report.StartedAt).Seconds())
	}()

	data, err := e.load(ctx, tenantID)
	if err != nil {
		log.WithError(err).Error("Failed to load reconciliation inputs")
		return nil, err
	}

	index := caseindex.Build(data.cases)
	derived := themes.Derive(data.themes, data.tickets, data.assignments)
	if derived.Dropped > 0 {
		log.WithField("dropped", derived.Dropped).Warn("Dropped theme assignments referencing unknown themes or tickets")
	}

	chain, err := matching.NewDefaultChain(e.logger, matching.Options{
		ClientField:         e.cfg.ClientField,
		MaxAccountsPerTheme: e.cfg.MaxAccountsPerTheme,
	}, data.accounts, data.cases, index)
	if err != nil {
		return nil, err
	}

	slots, err := e.match(ctx, chain, data.tickets, themes.ByTicket(derived.Links))
	if err != nil {
		log.WithError(err).Warn("Reconciliation run aborted during matching")
		return nil, err
	}

	report.TicketsTotal = len(data.tickets)
	var candidates []matching.Candidate
	for _, slot := range slots {
		if slot.skipped {
			report.TicketsSkipped++
			continue
		}
		if slot.result.Strategy != "" {
			report.CandidatesByStrategy[slot.result.Strategy] += len(slot.result.Candidates)
			metrics.CandidatesTotal.WithLabelValues(string(slot.result.Strategy)).Add(float64(len(slot.result.Candidates)))
		}
		candidates = append(candidates, slot.result.Candidates...)
	}
	metrics.TicketsSkipped.Add(float64(report.TicketsSkipped))

	if mode == models.RunModeFull {
		if _, _, err := e.deleteAll(ctx, tenantID); err != nil {
			log.WithError(err).Error("Failed to wipe links before full run")
			return nil, err
		}
	}

	themeResult := e.writer.WriteThemeLinks(ctx, tenantID, derived.Links)
	linkResult := e.writer.WriteLinks(ctx, tenantID, e.filter.NewClassifier(data.accounts, data.tickets), candidates)

	report.ThemeLinksWritten = len(themeResult.Written)
	report.LinksWritten = len(linkResult.Written)
	report.CandidatesFiltered = linkResult.Filtered
	report.CandidatesDiscarded = linkResult.Discarded
	report.FailedBatches = append(report.FailedBatches, themeResult.FailedBatches...)
	report.FailedBatches = append(report.FailedBatches, linkResult.FailedBatches...)
	report.Partial = len(report.FailedBatches) > 0

	var pruned []models.PairKey
	if mode == models.RunModeIncremental {
		if report.Partial {
			log.WithField("failed_batches", len(report.FailedBatches)).Warn("Skipping prune because some batches failed")
		} else {
			pruned = e.prune(ctx, report, linkResult.Written, themeResult.Written)
		}
	}

	report.FinishedAt = e.now()

	e.notify(ctx, report, Change{
		TenantID: tenantID,
		Upserted: linkResult.Written,
		Pruned:   pruned,
		Wiped:    mode == models.RunModeFull,
		Report:   report,
	})

	if err := e.store.SaveRun(ctx, report); err != nil {
		log.WithError(err).Error("Failed to save run report")
		return report, fmt.Errorf("failed to save run report: %w", err)
	}

	status = "success"
	if report.Partial {
		status = "partial"
	}
	log.WithFields(map[string]any{
		"tickets":        report.TicketsTotal,
		"skipped":        report.TicketsSkipped,
		"links":          report.LinksWritten,
		"theme_links":    report.ThemeLinksWritten,
		"filtered":       report.CandidatesFiltered,
		"pruned":         report.LinksPruned,
		"failed_batches": len(report.FailedBatches),
	}).Info("Finished reconciliation run")

	return report, nil
}

func (e *Engine) load(ctx context.Context, tenantID string) (*runData, error) {
	var data runData
	var err error

	if data.accounts, err = e.store.ListAccounts(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	if data.cases, err = e.store.ListCases(ctx, tenantID, models.CaseFilter{}); err != nil {
		return nil, fmt.Errorf("failed to load cases: %w", err)
	}
	if data.tickets, err = e.store.ListTickets(ctx, tenantID, models.TicketFilter{}); err != nil {
		return nil, fmt.Errorf("failed to load tickets: %w", err)
	}
	if data.themes, err = e.store.ListThemes(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("failed to load themes: %w", err)
	}
	if data.assignments, err = e.store.ListThemeAssignments(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("failed to load theme assignments: %w", err)
	}
	return &data, nil
}

// match fans tickets out over the worker pool. Each worker writes only its
// own slot; the indices it reads are immutable.
func (e *Engine) match(ctx context.Context, chain *matching.Chain, tickets []models.Ticket, themeLinks map[string][]models.ThemeLink) ([]ticketSlot, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Engine.match")
	defer span.End()

	slots := make([]ticketSlot, len(tickets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.WorkerCount)

	for i := range tickets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ticket := &tickets[i]
			if ticket.ID == "" || ticket.ExternalKey == "" {
				e.logger.WithContext(gctx).WithFields(map[string]any{
					"ticket_id":    ticket.ID,
					"external_key": ticket.ExternalKey,
				}).Warn("Skipping malformed ticket")
				slots[i].skipped = true
				return nil
			}
			tc := &matching.TicketContext{
				Identifiers: e.extractor.Extract(ticket),
				ThemeLinks:  themeLinks[ticket.ID],
			}
			slots[i].result = chain.Match(gctx, ticket, tc)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// A cancel after the last worker started leaves empty slots and a nil Wait.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("matching interrupted: %w", err)
	}
	return slots, nil
}

// prune removes rows no longer derived and returns the pruned link pairs.
// Prune failures are recorded on the report as failed batches.
func (e *Engine) prune(ctx context.Context, report *models.RunReport, links []models.Link, themeLinks []models.ThemeLink) []models.PairKey {
	log := e.logger.WithContext(ctx).WithField("tenant_id", report.TenantID)

	keep := make([]models.PairKey, 0, len(links))
	keepSet := make(map[models.PairKey]bool, len(links))
	for _, l := range links {
		keep = append(keep, l.Key())
		keepSet[l.Key()] = true
	}

	var stale []models.PairKey
	existing, err := e.store.ListLinks(ctx, report.TenantID, models.LinkFilter{})
	if err != nil {
		log.WithError(err).Warn("Failed to list links before prune")
	}
	for _, l := range existing {
		if !keepSet[l.Key()] {
			stale = append(stale, l.Key())
		}
	}

	n, err := e.store.PruneLinks(ctx, report.TenantID, keep)
	if err != nil {
		log.WithError(err).Error("Failed to prune links")
		report.FailedBatches = append(report.FailedBatches, pruneFailure(models.BatchKindLinks, err))
		report.Partial = true
		stale = nil
	} else {
		report.LinksPruned = n
		metrics.LinksPruned.WithLabelValues(string(models.BatchKindLinks)).Add(float64(n))
	}

	themeKeep := make([]models.ThemePairKey, 0, len(themeLinks))
	for _, l := range themeLinks {
		themeKeep = append(themeKeep, l.Key())
	}
	n, err = e.store.PruneThemeLinks(ctx, report.TenantID, themeKeep)
	if err != nil {
		log.WithError(err).Error("Failed to prune theme links")
		report.FailedBatches = append(report.FailedBatches, pruneFailure(models.BatchKindThemeLinks, err))
		report.Partial = true
	} else {
		report.ThemeLinksPruned = n
		metrics.LinksPruned.WithLabelValues(string(models.BatchKindThemeLinks)).Add(float64(n))
	}

	return stale
}

// pruneFailure marks a failed prune with index -1 since it is not a write batch.
func pruneFailure(kind models.BatchKind, err error) models.FailedBatch {
	return models.FailedBatch{Kind: kind, Index: -1, Error: "prune: " + err.Error()}
}

func (e *Engine) notify(ctx context.Context, report *models.RunReport, change Change) {
	for _, sink := range e.sinks {
		if err := sink.Publish(ctx, change); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"tenant_id": change.TenantID,
				"sink":      sink.Name(),
			}).Error("Failed to notify sink")
			metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
			if report != nil {
				report.SinkErrors = append(report.SinkErrors, sink.Name()+": "+err.Error())
			}
		}
	}
}

func (e *Engine) deleteAll(ctx context.Context, tenantID string) (int, int, error) {
	links, err := e.store.DeleteLinks(ctx, tenantID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete links: %w", err)
	}
	themeLinks, err := e.store.DeleteThemeLinks(ctx, tenantID)
	if err != nil {
		return links, 0, fmt.Errorf("failed to delete theme links: %w", err)
	}
	return links, themeLinks, nil
}

// WipeResult counts rows removed by Wipe.
type WipeResult struct {
	DeletedLinks      int `json:"deleted_links"`
	DeletedThemeLinks int `json:"deleted_theme_links"`
}

// Wipe deletes every Link and ThemeLink of the tenant under the tenant lock.
func (e *Engine) Wipe(ctx context.Context, tenantID string) (*WipeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Engine.Wipe")
	defer span.End()

	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	release, err := e.locks.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	links, themeLinks, err := e.deleteAll(ctx, tenantID)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to wipe links")
		return nil, err
	}

	e.notify(ctx, nil, Change{TenantID: tenantID, Wiped: true})

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":           tenantID,
		"deleted_links":       links,
		"deleted_theme_links": themeLinks,
	}).Info("Wiped links")

	return &WipeResult{DeletedLinks: links, DeletedThemeLinks: themeLinks}, nil
}

// Links is the diagnostic read of persisted links with strategy and confidence.
func (e *Engine) Links(ctx context.Context, tenantID string, filter models.LinkFilter) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Engine.Links")
	defer span.End()

	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	return e.store.ListLinks(ctx, tenantID, filter)
}

// LatestRun returns the most recent run report of the tenant.
func (e *Engine) LatestRun(ctx context.Context, tenantID string) (*models.RunReport, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	return e.store.LatestRun(ctx, tenantID)
}

func newReport(tenantID string, mode models.RunMode, startedAt time.Time) *models.RunReport {
	return &models.RunReport{
		RunID:                uuid.NewString(),
		TenantID:             tenantID,
		Mode:                 mode,
		StartedAt:            startedAt,
		CandidatesByStrategy: map[models.Strategy]int{},
		FailedBatches:        []models.FailedBatch{},
		SinkErrors:           []string{},
	}
}
