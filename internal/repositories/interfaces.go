package repositories

import (
	"context"

	"github.com/Ramsey-B/trellis/pkg/models"
)

// AccountRepo reads CRM accounts
type AccountRepo interface {
	ListAccounts(ctx context.Context, tenantID string) ([]models.Account, error)
}

// CaseRepo reads CRM support cases
type CaseRepo interface {
	ListCases(ctx context.Context, tenantID string, filter models.CaseFilter) ([]models.Case, error)
}

// TicketRepo reads product tracker tickets
type TicketRepo interface {
	ListTickets(ctx context.Context, tenantID string, filter models.TicketFilter) ([]models.Ticket, error)
}

// ThemeRepo reads themes and classifier theme assignments
type ThemeRepo interface {
	ListThemes(ctx context.Context, tenantID string) ([]models.Theme, error)
	ListThemeAssignments(ctx context.Context, tenantID string) ([]models.ThemeAssignment, error)
}

// LinkRepo persists account/ticket links. Upserts replace the stored row for the pair.
type LinkRepo interface {
	UpsertLinks(ctx context.Context, tenantID string, links []models.Link) error
	ListLinks(ctx context.Context, tenantID string, filter models.LinkFilter) ([]models.Link, error)
	DeleteLinks(ctx context.Context, tenantID string) (int, error)
	// PruneLinks deletes every link of the tenant whose pair is not in keep.
	PruneLinks(ctx context.Context, tenantID string, keep []models.PairKey) (int, error)
}

// ThemeLinkRepo persists theme/ticket links. Upserts replace the stored row for the pair.
type ThemeLinkRepo interface {
	UpsertThemeLinks(ctx context.Context, tenantID string, links []models.ThemeLink) error
	ListThemeLinks(ctx context.Context, tenantID string, filter models.ThemeLinkFilter) ([]models.ThemeLink, error)
	DeleteThemeLinks(ctx context.Context, tenantID string) (int, error)
	PruneThemeLinks(ctx context.Context, tenantID string, keep []models.ThemePairKey) (int, error)
}

// RunRepo persists run reports
type RunRepo interface {
	SaveRun(ctx context.Context, report *models.RunReport) error
	LatestRun(ctx context.Context, tenantID string) (*models.RunReport, error)
}

// Repository is everything the engine and the HTTP layer read and write.
type Repository interface {
	AccountRepo
	CaseRepo
	TicketRepo
	ThemeRepo
	LinkRepo
	ThemeLinkRepo
	RunRepo
}
