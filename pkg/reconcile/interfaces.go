package reconcile

import (
	"context"

	"github.com/Ramsey-B/trellis/pkg/models"
)

// Store is the persistence the engine reads inputs from and writes links to.
type Store interface {
	ListAccounts(ctx context.Context, tenantID string) ([]models.Account, error)
	ListCases(ctx context.Context, tenantID string, filter models.CaseFilter) ([]models.Case, error)
	ListTickets(ctx context.Context, tenantID string, filter models.TicketFilter) ([]models.Ticket, error)
	ListThemes(ctx context.Context, tenantID string) ([]models.Theme, error)
	ListThemeAssignments(ctx context.Context, tenantID string) ([]models.ThemeAssignment, error)

	UpsertLinks(ctx context.Context, tenantID string, links []models.Link) error
	ListLinks(ctx context.Context, tenantID string, filter models.LinkFilter) ([]models.Link, error)
	DeleteLinks(ctx context.Context, tenantID string) (int, error)
	PruneLinks(ctx context.Context, tenantID string, keep []models.PairKey) (int, error)

	UpsertThemeLinks(ctx context.Context, tenantID string, links []models.ThemeLink) error
	ListThemeLinks(ctx context.Context, tenantID string, filter models.ThemeLinkFilter) ([]models.ThemeLink, error)
	DeleteThemeLinks(ctx context.Context, tenantID string) (int, error)
	PruneThemeLinks(ctx context.Context, tenantID string, keep []models.ThemePairKey) (int, error)

	SaveRun(ctx context.Context, report *models.RunReport) error
	LatestRun(ctx context.Context, tenantID string) (*models.RunReport, error)
}

// Change is what a run or wipe did to a tenant's links.
type Change struct {
	TenantID string
	Upserted []models.Link
	Pruned   []models.PairKey
	Wiped    bool
	Report   *models.RunReport
}

// Sink receives committed changes. Sink failures never fail a run.
type Sink interface {
	Name() string
	Publish(ctx context.Context, change Change) error
}
