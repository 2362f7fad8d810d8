package themelink

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

const themeLinksTable = "theme_links"

type ThemeLinkRow struct {
	TenantID   string    `db:"tenant_id"`
	ThemeKey   string    `db:"theme_key"`
	TicketID   string    `db:"ticket_id"`
	Confidence float64   `db:"confidence"`
	UpdatedAt  time.Time `db:"updated_at"`
}

var themeLinkStruct = database.NewStruct(new(ThemeLinkRow))

const pruneQuery = `DELETE FROM theme_links
WHERE tenant_id = $1
AND (theme_key, ticket_id) NOT IN (SELECT * FROM unnest($2::text[], $3::text[]))`

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

func (r *Repository) UpsertThemeLinks(ctx context.Context, tenantID string, links []models.ThemeLink) error {
	ctx, span := tracing.StartSpan(ctx, "themelink.Repository.UpsertThemeLinks")
	defer span.End()

	if len(links) == 0 {
		return nil
	}

	now := r.now()
	rows := make([]any, len(links))
	for i, l := range links {
		rows[i] = &ThemeLinkRow{
			TenantID:   tenantID,
			ThemeKey:   l.ThemeKey,
			TicketID:   l.TicketID,
			Confidence: models.ClampConfidence(l.Confidence),
			UpdatedAt:  now,
		}
	}
	ib := themeLinkStruct.InsertInto(themeLinksTable, rows...)
	ib.OnConflict([]string{"tenant_id", "theme_key", "ticket_id"},
		"confidence = "+database.Excluded("confidence"),
		"updated_at = "+database.Excluded("updated_at"))
	query, args := ib.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"count":     len(links),
		}).Error("Failed to upsert theme links")
		return repositories.Internal("failed to upsert theme links")
	}
	return nil
}

func (r *Repository) ListThemeLinks(ctx context.Context, tenantID string, filter models.ThemeLinkFilter) ([]models.ThemeLink, error) {
	ctx, span := tracing.StartSpan(ctx, "themelink.Repository.ListThemeLinks")
	defer span.End()

	sb := themeLinkStruct.SelectFrom(themeLinksTable)
	where := []string{sb.Equal("tenant_id", tenantID)}
	if len(filter.ThemeKeys) > 0 {
		where = append(where, "theme_key = ANY("+sb.Var(pq.Array(filter.ThemeKeys))+")")
	}
	if filter.TicketID != "" {
		where = append(where, sb.Equal("ticket_id", filter.TicketID))
	}
	sb.Where(where...)
	sb.OrderBy("theme_key", "ticket_id")
	query, args := sb.Build()

	var rows []ThemeLinkRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to list theme links")
		return nil, repositories.Internal("failed to list theme links")
	}

	links := make([]models.ThemeLink, len(rows))
	for i, row := range rows {
		links[i] = models.ThemeLink{
			ThemeKey:   row.ThemeKey,
			TicketID:   row.TicketID,
			Confidence: row.Confidence,
			UpdatedAt:  row.UpdatedAt.UTC(),
		}
	}
	return links, nil
}

func (r *Repository) DeleteThemeLinks(ctx context.Context, tenantID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "themelink.Repository.DeleteThemeLinks")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(themeLinksTable)
	db.Where(db.Equal("tenant_id", tenantID))
	query, args := db.Build()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to delete theme links")
		return 0, repositories.Internal("failed to delete theme links")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *Repository) PruneThemeLinks(ctx context.Context, tenantID string, keep []models.ThemePairKey) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "themelink.Repository.PruneThemeLinks")
	defer span.End()

	themes := make(pq.StringArray, len(keep))
	tickets := make(pq.StringArray, len(keep))
	for i, k := range keep {
		themes[i] = k.ThemeKey
		tickets[i] = k.TicketID
	}

	res, err := r.db.ExecContext(ctx, pruneQuery, tenantID, themes, tickets)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to prune theme links")
		return 0, repositories.Internal("failed to prune theme links")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
