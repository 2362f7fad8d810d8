package account

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/trellis/internal/repositories"
	"github.com/Ramsey-B/trellis/pkg/database"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

const accountsTable = "accounts"

type AccountRow struct {
	TenantID string         `db:"tenant_id"`
	ID       string         `db:"id"`
	Name     string         `db:"name"`
	Products pq.StringArray `db:"products"`
	Vertical string         `db:"vertical"`
}

var accountStruct = database.NewStruct(new(AccountRow))

func FromAccount(tenantID string, a models.Account) *AccountRow {
	return &AccountRow{
		TenantID: tenantID,
		ID:       a.ID,
		Name:     a.Name,
		Products: pq.StringArray(a.Products),
		Vertical: a.Vertical,
	}
}

func ToAccount(row AccountRow) models.Account {
	return models.Account{
		ID:       row.ID,
		Name:     row.Name,
		Products: []string(row.Products),
		Vertical: row.Vertical,
	}
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) ListAccounts(ctx context.Context, tenantID string) ([]models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "account.Repository.ListAccounts")
	defer span.End()

	sb := accountStruct.SelectFrom(accountsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("id")
	query, args := sb.Build()

	var rows []AccountRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to list accounts")
		return nil, repositories.Internal("failed to list accounts")
	}

	accounts := make([]models.Account, len(rows))
	for i, row := range rows {
		accounts[i] = ToAccount(row)
	}
	return accounts, nil
}

// UpsertAccounts loads accounts, replacing rows with the same id.
func (r *Repository) UpsertAccounts(ctx context.Context, tenantID string, accounts []models.Account) error {
	ctx, span := tracing.StartSpan(ctx, "account.Repository.UpsertAccounts")
	defer span.End()

	if len(accounts) == 0 {
		return nil
	}

	rows := make([]any, len(accounts))
	for i, a := range accounts {
		rows[i] = FromAccount(tenantID, a)
	}
	ib := accountStruct.InsertInto(accountsTable, rows...)
	ib.OnConflict([]string{"tenant_id", "id"},
		"name = "+database.Excluded("name"),
		"products = "+database.Excluded("products"),
		"vertical = "+database.Excluded("vertical"))
	query, args := ib.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to upsert accounts")
		return repositories.Internal("failed to upsert accounts")
	}
	return nil
}
