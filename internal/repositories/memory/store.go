// Package memory is an in-process Repository used by tests and fixture runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/trellis/internal/repositories"
	"github.com/Ramsey-B/trellis/pkg/models"
)

// Dataset is one tenant's worth of rows.
type Dataset struct {
	Accounts         []models.Account         `yaml:"accounts"`
	Cases            []models.Case            `yaml:"cases"`
	Tickets          []models.Ticket          `yaml:"tickets"`
	Themes           []models.Theme           `yaml:"themes"`
	ThemeAssignments []models.ThemeAssignment `yaml:"theme_assignments"`
	Links            []models.Link            `yaml:"links"`
	ThemeLinks       []models.ThemeLink       `yaml:"theme_links"`
}

type tenant struct {
	accounts    []models.Account
	cases       []models.Case
	tickets     []models.Ticket
	themes      []models.Theme
	assignments []models.ThemeAssignment
	links       map[models.PairKey]models.Link
	themeLinks  map[models.ThemePairKey]models.ThemeLink
	runs        []models.RunReport
}

// Store implements repositories.Repository. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]*tenant
	now     func() time.Time
}

var _ repositories.Repository = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		tenants: make(map[string]*tenant),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Seed replaces the tenant's source rows and upserts any links in the dataset.
func (s *Store) Seed(tenantID string, data Dataset) {
	s.mu.Lock()
	t := s.tenant(tenantID)
	t.accounts = append([]models.Account(nil), data.Accounts...)
	t.cases = append([]models.Case(nil), data.Cases...)
	t.tickets = append([]models.Ticket(nil), data.Tickets...)
	t.themes = append([]models.Theme(nil), data.Themes...)
	t.assignments = append([]models.ThemeAssignment(nil), data.ThemeAssignments...)
	s.mu.Unlock()

	_ = s.UpsertLinks(context.Background(), tenantID, data.Links)
	_ = s.UpsertThemeLinks(context.Background(), tenantID, data.ThemeLinks)
}

// Tenants lists seeded tenant ids, sorted.
func (s *Store) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// tenant must be called with the write lock held.
func (s *Store) tenant(id string) *tenant {
	t, ok := s.tenants[id]
	if !ok {
		t = &tenant{
			links:      make(map[models.PairKey]models.Link),
			themeLinks: make(map[models.ThemePairKey]models.ThemeLink),
		}
		s.tenants[id] = t
	}
	return t
}

func (s *Store) read(id string) *tenant {
	if t, ok := s.tenants[id]; ok {
		return t
	}
	return &tenant{}
}

func (s *Store) ListAccounts(_ context.Context, tenantID string) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Account(nil), s.read(tenantID).accounts...), nil
}

func (s *Store) ListCases(_ context.Context, tenantID string, filter models.CaseFilter) ([]models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Case
	for _, c := range s.read(tenantID).cases {
		if filter.Matches(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) ListTickets(_ context.Context, tenantID string, filter models.TicketFilter) ([]models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Ticket
	for _, t := range s.read(tenantID).tickets {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) ListThemes(_ context.Context, tenantID string) ([]models.Theme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Theme(nil), s.read(tenantID).themes...), nil
}

func (s *Store) ListThemeAssignments(_ context.Context, tenantID string) ([]models.ThemeAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ThemeAssignment(nil), s.read(tenantID).assignments...), nil
}

func (s *Store) UpsertLinks(_ context.Context, tenantID string, links []models.Link) error {
	if len(links) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	now := s.now()
	for _, l := range links {
		l.Confidence = models.ClampConfidence(l.Confidence)
		l.UpdatedAt = now
		t.links[l.Key()] = l
	}
	return nil
}

func (s *Store) ListLinks(_ context.Context, tenantID string, filter models.LinkFilter) ([]models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Link{}
	for _, l := range s.read(tenantID).links {
		if filter.Matches(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].TicketID < out[j].TicketID
	})
	return out, nil
}

func (s *Store) DeleteLinks(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	n := len(t.links)
	t.links = make(map[models.PairKey]models.Link)
	return n, nil
}

func (s *Store) PruneLinks(_ context.Context, tenantID string, keep []models.PairKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	retain := make(map[models.PairKey]bool, len(keep))
	for _, k := range keep {
		retain[k] = true
	}
	n := 0
	for k := range t.links {
		if !retain[k] {
			delete(t.links, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) UpsertThemeLinks(_ context.Context, tenantID string, links []models.ThemeLink) error {
	if len(links) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	now := s.now()
	for _, l := range links {
		l.Confidence = models.ClampConfidence(l.Confidence)
		l.UpdatedAt = now
		t.themeLinks[l.Key()] = l
	}
	return nil
}

func (s *Store) ListThemeLinks(_ context.Context, tenantID string, filter models.ThemeLinkFilter) ([]models.ThemeLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.ThemeLink{}
	for _, l := range s.read(tenantID).themeLinks {
		if filter.Matches(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ThemeKey != out[j].ThemeKey {
			return out[i].ThemeKey < out[j].ThemeKey
		}
		return out[i].TicketID < out[j].TicketID
	})
	return out, nil
}

func (s *Store) DeleteThemeLinks(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	n := len(t.themeLinks)
	t.themeLinks = make(map[models.ThemePairKey]models.ThemeLink)
	return n, nil
}

func (s *Store) PruneThemeLinks(_ context.Context, tenantID string, keep []models.ThemePairKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	retain := make(map[models.ThemePairKey]bool, len(keep))
	for _, k := range keep {
		retain[k] = true
	}
	n := 0
	for k := range t.themeLinks {
		if !retain[k] {
			delete(t.themeLinks, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveRun(_ context.Context, report *models.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(report.TenantID)
	t.runs = append(t.runs, *report)
	return nil
}

func (s *Store) LatestRun(_ context.Context, tenantID string) (*models.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.read(tenantID).runs
	if len(runs) == 0 {
		return nil, repositories.NotFound("no runs found for tenant %s", tenantID)
	}
	latest := runs[len(runs)-1]
	return &latest, nil
}
