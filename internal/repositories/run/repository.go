package run

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/internal/repositories"
	"github.com/Ramsey-B/trellis/pkg/database"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

const runsTable = "runs"

type RunRow struct {
	RunID      string                           `db:"run_id"`
	TenantID   string                           `db:"tenant_id"`
	Mode       string                           `db:"mode"`
	StartedAt  time.Time                        `db:"started_at"`
	FinishedAt time.Time                        `db:"finished_at"`
	Partial    bool                             `db:"partial"`
	Report     database.JSONB[models.RunReport] `db:"report"`
}

var runStruct = database.NewStruct(new(RunRow))

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// SaveRun stores the report. Saving the same run id twice replaces it.
func (r *Repository) SaveRun(ctx context.Context, report *models.RunReport) error {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.SaveRun")
	defer span.End()

	row := &RunRow{
		RunID:      report.RunID,
		TenantID:   report.TenantID,
		Mode:       string(report.Mode),
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Partial:    report.Partial,
		Report:     database.NewJSONB(*report),
	}
	ib := runStruct.InsertInto(runsTable, row)
	ib.OnConflict([]string{"run_id"},
		"finished_at = "+database.Excluded("finished_at"),
		"partial = "+database.Excluded("partial"),
		"report = "+database.Excluded("report"))
	query, args := ib.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": report.TenantID,
			"run_id":    report.RunID,
		}).Error("Failed to save run")
		return repositories.Internal("failed to save run %s", report.RunID)
	}
	return nil
}

func (r *Repository) LatestRun(ctx context.Context, tenantID string) (*models.RunReport, error) {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.LatestRun")
	defer span.End()

	sb := runStruct.SelectFrom(runsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("started_at DESC", "finished_at DESC")
	sb.Limit(1)
	query, args := sb.Build()

	var row RunRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.NotFound("no runs found for tenant %s", tenantID)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to get latest run")
		return nil, repositories.Internal("failed to get latest run")
	}

	report := row.Report.GetValue()
	return &report, nil
}
