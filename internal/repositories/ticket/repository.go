package ticket

import (
	"context"
	"database/sql"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/trellis/internal/repositories"
	"github.com/Ramsey-B/trellis/pkg/database"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

const ticketsTable = "tickets"

type TicketRow struct {
	TenantID       string                         `db:"tenant_id"`
	ID             string                         `db:"id"`
	ExternalKey    string                         `db:"external_key"`
	CustomFields   database.JSONB[map[string]any] `db:"custom_fields"`
	Summary        string                         `db:"summary"`
	Description    string                         `db:"description"`
	Status         string                         `db:"status"`
	ResolutionDate sql.NullTime                   `db:"resolution_date"`
	Labels         pq.StringArray                 `db:"labels"`
}

var ticketStruct = database.NewStruct(new(TicketRow))

func FromTicket(tenantID string, t models.Ticket) *TicketRow {
	fields := t.CustomFields
	if fields == nil {
		fields = map[string]any{}
	}
	row := &TicketRow{
		TenantID:     tenantID,
		ID:           t.ID,
		ExternalKey:  t.ExternalKey,
		CustomFields: database.NewJSONB(fields),
		Summary:      t.Summary,
		Description:  t.Description,
		Status:       t.Status,
		Labels:       pq.StringArray(t.Labels),
	}
	if t.ResolutionDate != nil {
		row.ResolutionDate = sql.NullTime{Time: *t.ResolutionDate, Valid: true}
	}
	return row
}

func ToTicket(row TicketRow) models.Ticket {
	t := models.Ticket{
		ID:           row.ID,
		ExternalKey:  row.ExternalKey,
		CustomFields: row.CustomFields.GetValue(),
		Summary:      row.Summary,
		Description:  row.Description,
		Status:       row.Status,
		Labels:       []string(row.Labels),
	}
	if row.ResolutionDate.Valid {
		resolved := row.ResolutionDate.Time.UTC()
		t.ResolutionDate = &resolved
	}
	return t
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) ListTickets(ctx context.Context, tenantID string, filter models.TicketFilter) ([]models.Ticket, error) {
	ctx, span := tracing.StartSpan(ctx, "ticket.Repository.ListTickets")
	defer span.End()

	if filter.IDs != nil && len(filter.IDs) == 0 {
		return nil, nil
	}

	sb := ticketStruct.SelectFrom(ticketsTable)
	where := []string{sb.Equal("tenant_id", tenantID)}
	if filter.IDs != nil {
		where = append(where, "id = ANY("+sb.Var(pq.Array(filter.IDs))+")")
	}
	sb.Where(where...)
	sb.OrderBy("id")
	query, args := sb.Build()

	var rows []TicketRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to list tickets")
		return nil, repositories.Internal("failed to list tickets")
	}

	tickets := make([]models.Ticket, len(rows))
	for i, row := range rows {
		tickets[i] = ToTicket(row)
	}
	return tickets, nil
}

func (r *Repository) UpsertTickets(ctx context.Context, tenantID string, tickets []models.Ticket) error {
	ctx, span := tracing.StartSpan(ctx, "ticket.Repository.UpsertTickets")
	defer span.End()

	if len(tickets) == 0 {
		return nil
	}

	rows := make([]any, len(tickets))
	for i, t := range tickets {
		rows[i] = FromTicket(tenantID, t)
	}
	ib := ticketStruct.InsertInto(ticketsTable, rows...)
	ib.OnConflict([]string{"tenant_id", "id"},
		"external_key = "+database.Excluded("external_key"),
		"custom_fields = "+database.Excluded("custom_fields"),
		"summary = "+database.Excluded("summary"),
		"description = "+database.Excluded("description"),
		"status = "+database.Excluded("status"),
		"resolution_date = "+database.Excluded("resolution_date"),
		"labels = "+database.Excluded("labels"))
	query, args := ib.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to upsert tickets")
		return repositories.Internal("failed to upsert tickets")
	}
	return nil
}
