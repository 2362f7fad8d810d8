package supportcase

import (
	"context"
	"database/sql"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/internal/repositories"
	"github.com/Ramsey-B/trellis/pkg/database"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

const casesTable = "cases"

type CaseRow struct {
	TenantID           string         `db:"tenant_id"`
	ID                 string         `db:"id"`
	ExternalCaseNumber string         `db:"external_case_number"`
	AccountID          string         `db:"account_id"`
	ThemeKey           sql.NullString `db:"theme_key"`
}

var caseStruct = database.NewStruct(new(CaseRow))

func FromCase(tenantID string, c models.Case) *CaseRow {
	row := &CaseRow{
		TenantID:           tenantID,
		ID:                 c.ID,
		ExternalCaseNumber: c.ExternalCaseNumber,
		AccountID:          c.AccountID,
	}
	if c.ThemeKey != nil {
		row.ThemeKey = sql.NullString{String: *c.ThemeKey, Valid: true}
	}
	return row
}

func ToCase(row CaseRow) models.Case {
	c := models.Case{
		ID:                 row.ID,
		ExternalCaseNumber: row.ExternalCaseNumber,
		AccountID:          row.AccountID,
	}
	if row.ThemeKey.Valid {
		key := row.ThemeKey.String
		c.ThemeKey = &key
	}
	return c
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) ListCases(ctx context.Context, tenantID string, filter models.CaseFilter) ([]models.Case, error) {
	ctx, span := tracing.StartSpan(ctx, "supportcase.Repository.ListCases")
	defer span.End()

	sb := caseStruct.SelectFrom(casesTable)
	where := []string{sb.Equal("tenant_id", tenantID)}
	if filter.AccountID != "" {
		where = append(where, sb.Equal("account_id", filter.AccountID))
	}
	if filter.ThemeKey != "" {
		where = append(where, sb.Equal("theme_key", filter.ThemeKey))
	}
	sb.Where(where...)
	sb.OrderBy("id")
	query, args := sb.Build()

	var rows []CaseRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to list cases")
		return nil, repositories.Internal("failed to list cases")
	}

	cases := make([]models.Case, len(rows))
	for i, row := range rows {
		cases[i] = ToCase(row)
	}
	return cases, nil
}

func (r *Repository) UpsertCases(ctx context.Context, tenantID string, cases []models.Case) error {
	ctx, span := tracing.StartSpan(ctx, "supportcase.Repository.UpsertCases")
	defer span.End()

	if len(cases) == 0 {
		return nil
	}

	rows := make([]any, len(cases))
	for i, c := range cases {
		rows[i] = FromCase(tenantID, c)
	}
	ib := caseStruct.InsertInto(casesTable, rows...)
	ib.OnConflict([]string{"tenant_id", "id"},
		"external_case_number = "+database.Excluded("external_case_number"),
		"account_id = "+database.Excluded("account_id"),
		"theme_key = "+database.Excluded("theme_key"))
	query, args := ib.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to upsert cases")
		return repositories.Internal("failed to upsert cases")
	}
	return nil
}
