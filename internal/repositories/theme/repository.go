package theme

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/trellis/internal/repositories"
	"github.com/Ramsey-B/trellis/pkg/database"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

const (
	themesTable      = "themes"
	assignmentsTable = "theme_assignments"
)

type ThemeRow struct {
	TenantID string         `db:"tenant_id"`
	Key      string         `db:"key"`
	Label    string         `db:"label"`
	Labels   pq.StringArray `db:"labels"`
}

type AssignmentRow struct {
	TenantID   string  `db:"tenant_id"`
	ThemeKey   string  `db:"theme_key"`
	TicketID   string  `db:"ticket_id"`
	Confidence float64 `db:"confidence"`
	Source     string  `db:"source"`
}

var (
	themeStruct      = database.NewStruct(new(ThemeRow))
	assignmentStruct = database.NewStruct(new(AssignmentRow))
)

// Repository reads themes and the classifier's theme assignments.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) ListThemes(ctx context.Context, tenantID string) ([]models.Theme, error) {
	ctx, span := tracing.StartSpan(ctx, "theme.Repository.ListThemes")
	defer span.End()

	sb := themeStruct.SelectFrom(themesTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("key")
	query, args := sb.Build()

	var rows []ThemeRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to list themes")
		return nil, repositories.Internal("failed to list themes")
	}

	themes := make([]models.Theme, len(rows))
	for i, row := range rows {
		themes[i] = models.Theme{Key: row.Key, Label: row.Label, Labels: []string(row.Labels)}
	}
	return themes, nil
}

func (r *Repository) ListThemeAssignments(ctx context.Context, tenantID string) ([]models.ThemeAssignment, error) {
	ctx, span := tracing.StartSpan(ctx, "theme.Repository.ListThemeAssignments")
	defer span.End()

	sb := assignmentStruct.SelectFrom(assignmentsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("theme_key", "ticket_id", "source")
	query, args := sb.Build()

	var rows []AssignmentRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to list theme assignments")
		return nil, repositories.Internal("failed to list theme assignments")
	}

	assignments := make([]models.ThemeAssignment, len(rows))
	for i, row := range rows {
		assignments[i] = models.ThemeAssignment{
			ThemeKey:   row.ThemeKey,
			TicketID:   row.TicketID,
			Confidence: row.Confidence,
			Source:     row.Source,
		}
	}
	return assignments, nil
}

func (r *Repository) UpsertThemes(ctx context.Context, tenantID string, themes []models.Theme) error {
	ctx, span := tracing.StartSpan(ctx, "theme.Repository.UpsertThemes")
	defer span.End()

	if len(themes) == 0 {
		return nil
	}

	rows := make([]any, len(themes))
	for i, th := range themes {
		rows[i] = &ThemeRow{TenantID: tenantID, Key: th.Key, Label: th.Label, Labels: pq.StringArray(th.Labels)}
	}
	ib := themeStruct.InsertInto(themesTable, rows...)
	ib.OnConflict([]string{"tenant_id", "key"},
		"label = "+database.Excluded("label"),
		"labels = "+database.Excluded("labels"))
	query, args := ib.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to upsert themes")
		return repositories.Internal("failed to upsert themes")
	}
	return nil
}

func (r *Repository) UpsertThemeAssignments(ctx context.Context, tenantID string, assignments []models.ThemeAssignment) error {
	ctx, span := tracing.StartSpan(ctx, "theme.Repository.UpsertThemeAssignments")
	defer span.End()

	if len(assignments) == 0 {
		return nil
	}

	rows := make([]any, len(assignments))
	for i, a := range assignments {
		rows[i] = &AssignmentRow{TenantID: tenantID, ThemeKey: a.ThemeKey, TicketID: a.TicketID, Confidence: a.Confidence, Source: a.Source}
	}
	ib := assignmentStruct.InsertInto(assignmentsTable, rows...)
	ib.OnConflict([]string{"tenant_id", "theme_key", "ticket_id", "source"},
		"confidence = "+database.Excluded("confidence"))
	query, args := ib.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to upsert theme assignments")
		return repositories.Internal("failed to upsert theme assignments")
	}
	return nil
}
