// Package linking deduplicates candidates, applies the domain gate and writes
// links in retried batches.
package linking

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/cenkalti/backoff/v4"

	"github.com/Ramsey-B/trellis/pkg/matching"
	"github.com/Ramsey-B/trellis/pkg/metrics"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

type LinkStore interface {
	UpsertLinks(ctx context.Context, tenantID string, links []models.Link) error
}

type ThemeLinkStore interface {
	UpsertThemeLinks(ctx context.Context, tenantID string, links []models.ThemeLink) error
}

// Gate decides whether a ticket may be linked to an account.
type Gate interface {
	Allows(ticketID, accountID string) bool
}

type Config struct {
	BatchSize   int
	MaxAttempts int
	Backoff     time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:   100,
		MaxAttempts: 3,
		Backoff:     200 * time.Millisecond,
	}
}

// LinkResult describes what a link write committed.
type LinkResult struct {
	Written       []models.Link
	Filtered      int
	Discarded     int
	FailedBatches []models.FailedBatch
}

type ThemeLinkResult struct {
	Written       []models.ThemeLink
	Discarded     int
	FailedBatches []models.FailedBatch
}

// Writer is the single write path for derived rows. It is not safe for
// concurrent use by the same run.
type Writer struct {
	cfg        Config
	logger     ectologger.Logger
	links      LinkStore
	themeLinks ThemeLinkStore
}

func NewWriter(logger ectologger.Logger, cfg Config, links LinkStore, themeLinks ThemeLinkStore) *Writer {
	defaults := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	return &Writer{
		cfg:        cfg,
		logger:     logger,
		links:      links,
		themeLinks: themeLinks,
	}
}

// WriteLinks deduplicates candidates, drops domain conflicts and upserts the
// rest. A nil gate allows every pair. Batches that fail every attempt are
// reported; committed batches stay committed.
func (w *Writer) WriteLinks(ctx context.Context, tenantID string, gate Gate, candidates []matching.Candidate) LinkResult {
	ctx, span := tracing.StartSpan(ctx, "linking.Writer.WriteLinks")
	defer span.End()

	log := w.logger.WithContext(ctx).WithField("tenant_id", tenantID)

	kept, discarded := Dedupe(candidates)
	for _, d := range discarded {
		log.WithFields(map[string]any{
			"account_id": d.AccountID,
			"ticket_id":  d.TicketID,
			"strategy":   d.Strategy,
			"confidence": d.Confidence,
		}).Debug("Discarded lower-confidence duplicate candidate")
	}

	result := LinkResult{Discarded: len(discarded)}
	links := make([]models.Link, 0, len(kept))
	for _, c := range kept {
		if gate != nil && !gate.Allows(c.TicketID, c.AccountID) {
			result.Filtered++
			log.WithFields(map[string]any{
				"account_id": c.AccountID,
				"ticket_id":  c.TicketID,
				"strategy":   c.Strategy,
			}).Debug("Dropped candidate with conflicting domains")
			continue
		}
		links = append(links, c.Link())
	}

	result.Written, result.FailedBatches = writeBatches(ctx, w, models.BatchKindLinks, links,
		func(ctx context.Context, batch []models.Link) error {
			return w.links.UpsertLinks(ctx, tenantID, batch)
		})

	metrics.CandidatesDiscarded.Add(float64(result.Discarded))
	metrics.CandidatesFiltered.Add(float64(result.Filtered))
	metrics.LinksWritten.WithLabelValues(string(models.BatchKindLinks)).Add(float64(len(result.Written)))

	log.WithFields(map[string]any{
		"written":        len(result.Written),
		"filtered":       result.Filtered,
		"discarded":      result.Discarded,
		"failed_batches": len(result.FailedBatches),
	}).Info("Wrote links")

	return result
}

// WriteThemeLinks deduplicates and upserts theme links.
func (w *Writer) WriteThemeLinks(ctx context.Context, tenantID string, links []models.ThemeLink) ThemeLinkResult {
	ctx, span := tracing.StartSpan(ctx, "linking.Writer.WriteThemeLinks")
	defer span.End()

	kept, discarded := DedupeThemeLinks(links)
	result := ThemeLinkResult{Discarded: discarded}
	result.Written, result.FailedBatches = writeBatches(ctx, w, models.BatchKindThemeLinks, kept,
		func(ctx context.Context, batch []models.ThemeLink) error {
			return w.themeLinks.UpsertThemeLinks(ctx, tenantID, batch)
		})

	metrics.LinksWritten.WithLabelValues(string(models.BatchKindThemeLinks)).Add(float64(len(result.Written)))

	w.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":      tenantID,
		"written":        len(result.Written),
		"failed_batches": len(result.FailedBatches),
	}).Info("Wrote theme links")

	return result
}

func writeBatches[T any](ctx context.Context, w *Writer, kind models.BatchKind, rows []T, write func(context.Context, []T) error) ([]T, []models.FailedBatch) {
	committed := make([]T, 0, len(rows))
	var failed []models.FailedBatch

	for index, start := 0, 0; start < len(rows); index, start = index+1, start+w.cfg.BatchSize {
		end := min(start+w.cfg.BatchSize, len(rows))
		batch := rows[start:end]

		err := w.retry(ctx, kind, index, func() error {
			return write(ctx, batch)
		})
		if err != nil {
			w.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"kind":  kind,
				"batch": index,
				"size":  len(batch),
			}).Error("Batch write failed after retries")
			failed = append(failed, models.FailedBatch{
				Kind:  kind,
				Index: index,
				Size:  len(batch),
				Error: err.Error(),
			})
			continue
		}
		committed = append(committed, batch...)
	}

	return committed, failed
}

func (w *Writer) retry(ctx context.Context, kind models.BatchKind, index int, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.Backoff
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.cfg.MaxAttempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		metrics.RecordBatchAttempt(string(kind), err)
		return err
	}, policy, func(err error, wait time.Duration) {
		w.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":  kind,
			"batch": index,
			"wait":  wait.String(),
		}).Warn("Batch write failed, retrying")
	})
}
