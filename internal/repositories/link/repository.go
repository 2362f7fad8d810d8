package link

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/trellis/internal/repositories"
	"github.com/Ramsey-B/trellis/pkg/database"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

const linksTable = "links"

type LinkRow struct {
	TenantID   string    `db:"tenant_id"`
	AccountID  string    `db:"account_id"`
	TicketID   string    `db:"ticket_id"`
	Strategy   string    `db:"strategy"`
	Confidence float64   `db:"confidence"`
	UpdatedAt  time.Time `db:"updated_at"`
}

var linkStruct = database.NewStruct(new(LinkRow))

// upsertAssignments replace the stored row. A run writes one deduplicated
// candidate per pair, so the incoming row is the current derivation.
var upsertAssignments = []string{
	"strategy = " + database.Excluded("strategy"),
	"confidence = " + database.Excluded("confidence"),
	"updated_at = " + database.Excluded("updated_at"),
}

const pruneQuery = `DELETE FROM links
WHERE tenant_id = $1
AND (account_id, ticket_id) NOT IN (SELECT * FROM unnest($2::text[], $3::text[]))`

type Repository struct {
	db     database.DB
	logger ectologger.Logger
	now    func() time.Time
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// UpsertLinks writes one batch in a single statement. Callers deduplicate
// pairs first; Postgres rejects a statement touching the same row twice.
func (r *Repository) UpsertLinks(ctx context.Context, tenantID string, links []models.Link) error {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.UpsertLinks")
	defer span.End()

	if len(links) == 0 {
		return nil
	}

	now := r.now()
	rows := make([]any, len(links))
	for i, l := range links {
		rows[i] = &LinkRow{
			TenantID:   tenantID,
			AccountID:  l.AccountID,
			TicketID:   l.TicketID,
			Strategy:   string(l.Strategy),
			Confidence: models.ClampConfidence(l.Confidence),
			UpdatedAt:  now,
		}
	}
	ib := linkStruct.InsertInto(linksTable, rows...)
	ib.OnConflict([]string{"tenant_id", "account_id", "ticket_id"}, upsertAssignments...)
	query, args := ib.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"count":     len(links),
		}).Error("Failed to upsert links")
		return repositories.Internal("failed to upsert links")
	}
	return nil
}

func (r *Repository) ListLinks(ctx context.Context, tenantID string, filter models.LinkFilter) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.ListLinks")
	defer span.End()

	sb := linkStruct.SelectFrom(linksTable)
	where := []string{sb.Equal("tenant_id", tenantID)}
	if filter.AccountID != "" {
		where = append(where, sb.Equal("account_id", filter.AccountID))
	}
	if filter.TicketID != "" {
		where = append(where, sb.Equal("ticket_id", filter.TicketID))
	}
	if filter.Strategy != "" {
		where = append(where, sb.Equal("strategy", string(filter.Strategy)))
	}
	sb.Where(where...)
	sb.OrderBy("account_id", "ticket_id")
	query, args := sb.Build()

	var rows []LinkRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to list links")
		return nil, repositories.Internal("failed to list links")
	}

	links := make([]models.Link, len(rows))
	for i, row := range rows {
		links[i] = models.Link{
			AccountID:  row.AccountID,
			TicketID:   row.TicketID,
			Strategy:   models.Strategy(row.Strategy),
			Confidence: row.Confidence,
			UpdatedAt:  row.UpdatedAt.UTC(),
		}
	}
	return links, nil
}

func (r *Repository) DeleteLinks(ctx context.Context, tenantID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.DeleteLinks")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(linksTable)
	db.Where(db.Equal("tenant_id", tenantID))
	query, args := db.Build()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to delete links")
		return 0, repositories.Internal("failed to delete links")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneLinks deletes every link of the tenant whose pair is not in keep.
func (r *Repository) PruneLinks(ctx context.Context, tenantID string, keep []models.PairKey) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.PruneLinks")
	defer span.End()

	accounts := make(pq.StringArray, len(keep))
	tickets := make(pq.StringArray, len(keep))
	for i, k := range keep {
		accounts[i] = k.AccountID
		tickets[i] = k.TicketID
	}

	res, err := r.db.ExecContext(ctx, pruneQuery, tenantID, accounts, tickets)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to prune links")
		return 0, repositories.Internal("failed to prune links")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
