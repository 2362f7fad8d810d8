package matching

import (
	"context"
	"sort"

	"github.com/Ramsey-B/trellis/pkg/models"
)

const (
	ThemeBaseConfidence   = 0.50
	ThemeLinkWeight       = 0.20
	DefaultMaxThemeFanout = 5
)

// ThemeAssociation proposes the accounts whose cases carry a theme the ticket is linked to.
type ThemeAssociation struct {
	accountsByTheme map[string][]string
	maxAccounts     int
}

// NewThemeAssociation indexes theme keys to the distinct accounts observed on
// their cases. Themes on more than maxAccounts accounts are never proposed.
func NewThemeAssociation(cases []models.Case, maxAccounts int) *ThemeAssociation {
	if maxAccounts <= 0 {
		maxAccounts = DefaultMaxThemeFanout
	}
	return &ThemeAssociation{
		accountsByTheme: AccountsByTheme(cases),
		maxAccounts:     maxAccounts,
	}
}

// AccountsByTheme returns theme key to sorted distinct account ids.
func AccountsByTheme(cases []models.Case) map[string][]string {
	seen := map[string]map[string]bool{}
	for _, c := range cases {
		if c.ThemeKey == nil || *c.ThemeKey == "" || c.AccountID == "" {
			continue
		}
		if seen[*c.ThemeKey] == nil {
			seen[*c.ThemeKey] = map[string]bool{}
		}
		seen[*c.ThemeKey][c.AccountID] = true
	}

	out := make(map[string][]string, len(seen))
	for theme, accounts := range seen {
		ids := make([]string, 0, len(accounts))
		for id := range accounts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[theme] = ids
	}
	return out
}

func (s *ThemeAssociation) Name() models.Strategy {
	return models.StrategyThemeAssociation
}

func (s *ThemeAssociation) Match(_ context.Context, ticket *models.Ticket, tc *TicketContext) []Candidate {
	if tc == nil {
		return nil
	}

	best := newBestPerAccount()
	for _, tl := range tc.ThemeLinks {
		accounts := s.accountsByTheme[tl.ThemeKey]
		if len(accounts) == 0 || len(accounts) > s.maxAccounts {
			continue
		}
		confidence := ThemeBaseConfidence + ThemeLinkWeight*models.ClampConfidence(tl.Confidence)
		for _, accountID := range accounts {
			best.add(Candidate{
				AccountID:  accountID,
				TicketID:   ticket.ID,
				Strategy:   models.StrategyThemeAssociation,
				Confidence: confidence,
				Evidence:   "theme:" + tl.ThemeKey,
			})
		}
	}
	return best.candidates()
}
