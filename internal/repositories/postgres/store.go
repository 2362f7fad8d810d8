// Package postgres composes the table repositories into one repositories.Repository.
package postgres

import (
	"context"
	"database/sql"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/internal/repositories"
	"github.com/Ramsey-B/trellis/internal/repositories/account"
	"github.com/Ramsey-B/trellis/internal/repositories/link"
	"github.com/Ramsey-B/trellis/internal/repositories/memory"
	"github.com/Ramsey-B/trellis/internal/repositories/run"
	"github.com/Ramsey-B/trellis/internal/repositories/supportcase"
	"github.com/Ramsey-B/trellis/internal/repositories/theme"
	"github.com/Ramsey-B/trellis/internal/repositories/themelink"
	"github.com/Ramsey-B/trellis/internal/repositories/ticket"
	"github.com/Ramsey-B/trellis/pkg/database"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

type Store struct {
	db     database.DB
	logger ectologger.Logger

	accounts   *account.Repository
	cases      *supportcase.Repository
	tickets    *ticket.Repository
	themes     *theme.Repository
	links      *link.Repository
	themeLinks *themelink.Repository
	runs       *run.Repository
}

var _ repositories.Repository = (*Store)(nil)

func NewStore(db database.DB, logger ectologger.Logger) *Store {
	return &Store{
		db:         db,
		logger:     logger,
		accounts:   account.NewRepository(db, logger),
		cases:      supportcase.NewRepository(db, logger),
		tickets:    ticket.NewRepository(db, logger),
		themes:     theme.NewRepository(db, logger),
		links:      link.NewRepository(db, logger),
		themeLinks: themelink.NewRepository(db, logger),
		runs:       run.NewRepository(db, logger),
	}
}

// Ping reports whether the pool can reach Postgres.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Load writes a tenant dataset in one transaction. Existing rows with the same
// keys are replaced, links included.
func (s *Store) Load(ctx context.Context, tenantID string, data memory.Dataset) (err error) {
	ctx, span := tracing.StartSpan(ctx, "postgres.Store.Load")
	defer span.End()

	ctx, tx, err := s.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return repositories.Internal("failed to begin load")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	steps := []func(context.Context) error{
		func(ctx context.Context) error { return s.accounts.UpsertAccounts(ctx, tenantID, data.Accounts) },
		func(ctx context.Context) error { return s.cases.UpsertCases(ctx, tenantID, data.Cases) },
		func(ctx context.Context) error { return s.tickets.UpsertTickets(ctx, tenantID, data.Tickets) },
		func(ctx context.Context) error { return s.themes.UpsertThemes(ctx, tenantID, data.Themes) },
		func(ctx context.Context) error {
			return s.themes.UpsertThemeAssignments(ctx, tenantID, data.ThemeAssignments)
		},
		func(ctx context.Context) error { return s.links.UpsertLinks(ctx, tenantID, data.Links) },
		func(ctx context.Context) error { return s.themeLinks.UpsertThemeLinks(ctx, tenantID, data.ThemeLinks) },
	}
	for _, step := range steps {
		if err = step(ctx); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return repositories.Internal("failed to commit load")
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"accounts":  len(data.Accounts),
		"cases":     len(data.Cases),
		"tickets":   len(data.Tickets),
	}).Info("Loaded tenant dataset")
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, tenantID string) ([]models.Account, error) {
	return s.accounts.ListAccounts(ctx, tenantID)
}

func (s *Store) ListCases(ctx context.Context, tenantID string, filter models.CaseFilter) ([]models.Case, error) {
	return s.cases.ListCases(ctx, tenantID, filter)
}

func (s *Store) ListTickets(ctx context.Context, tenantID string, filter models.TicketFilter) ([]models.Ticket, error) {
	return s.tickets.ListTickets(ctx, tenantID, filter)
}

func (s *Store) ListThemes(ctx context.Context, tenantID string) ([]models.Theme, error) {
	return s.themes.ListThemes(ctx, tenantID)
}

func (s *Store) ListThemeAssignments(ctx context.Context, tenantID string) ([]models.ThemeAssignment, error) {
	return s.themes.ListThemeAssignments(ctx, tenantID)
}

func (s *Store) UpsertLinks(ctx context.Context, tenantID string, links []models.Link) error {
	return s.links.UpsertLinks(ctx, tenantID, links)
}

func (s *Store) ListLinks(ctx context.Context, tenantID string, filter models.LinkFilter) ([]models.Link, error) {
	return s.links.ListLinks(ctx, tenantID, filter)
}

func (s *Store) DeleteLinks(ctx context.Context, tenantID string) (int, error) {
	return s.links.DeleteLinks(ctx, tenantID)
}

func (s *Store) PruneLinks(ctx context.Context, tenantID string, keep []models.PairKey) (int, error) {
	return s.links.PruneLinks(ctx, tenantID, keep)
}

func (s *Store) UpsertThemeLinks(ctx context.Context, tenantID string, links []models.ThemeLink) error {
	return s.themeLinks.UpsertThemeLinks(ctx, tenantID, links)
}

func (s *Store) ListThemeLinks(ctx context.Context, tenantID string, filter models.ThemeLinkFilter) ([]models.ThemeLink, error) {
	return s.themeLinks.ListThemeLinks(ctx, tenantID, filter)
}

func (s *Store) DeleteThemeLinks(ctx context.Context, tenantID string) (int, error) {
	return s.themeLinks.DeleteThemeLinks(ctx, tenantID)
}

func (s *Store) PruneThemeLinks(ctx context.Context, tenantID string, keep []models.ThemePairKey) (int, error) {
	return s.themeLinks.PruneThemeLinks(ctx, tenantID, keep)
}

func (s *Store) SaveRun(ctx context.Context, report *models.RunReport) error {
	return s.runs.SaveRun(ctx, report)
}

func (s *Store) LatestRun(ctx context.Context, tenantID string) (*models.RunReport, error) {
	return s.runs.LatestRun(ctx, tenantID)
}
