// Package themes derives theme/ticket links from classifier assignments and
// tracker labels.
package themes

import (
	"strings"

	"github.com/Ramsey-B/trellis/pkg/linking"
	"github.com/Ramsey-B/trellis/pkg/models"
)

// LabelConfidence is assigned when a ticket label equals one of a theme's labels.
const LabelConfidence = 0.90

// Result holds the derived links plus counts of what was not used.
type Result struct {
	Links []models.ThemeLink
	// Dropped counts assignments naming an unknown theme or ticket.
	Dropped int
	// Collapsed counts duplicate (theme, ticket) rows merged into a higher one.
	Collapsed int
}

// Derive combines classifier assignments with exact, case-insensitive label
// matches and keeps the highest confidence per (theme, ticket).
func Derive(themes []models.Theme, tickets []models.Ticket, assignments []models.ThemeAssignment) Result {
	knownThemes := make(map[string]bool, len(themes))
	byLabel := map[string][]string{}
	for _, th := range themes {
		if th.Key == "" {
			continue
		}
		knownThemes[th.Key] = true
		for _, label := range th.Labels {
			label = normalizeLabel(label)
			if label != "" {
				byLabel[label] = append(byLabel[label], th.Key)
			}
		}
	}

	knownTickets := make(map[string]bool, len(tickets))
	for _, t := range tickets {
		knownTickets[t.ID] = true
	}

	var res Result
	var links []models.ThemeLink

	for _, a := range assignments {
		if !knownThemes[a.ThemeKey] || !knownTickets[a.TicketID] {
			res.Dropped++
			continue
		}
		links = append(links, models.NewThemeLink(a.ThemeKey, a.TicketID, a.Confidence))
	}

	for _, t := range tickets {
		for _, label := range t.Labels {
			for _, key := range byLabel[normalizeLabel(label)] {
				links = append(links, models.NewThemeLink(key, t.ID, LabelConfidence))
			}
		}
	}

	res.Links, res.Collapsed = linking.DedupeThemeLinks(links)
	return res
}

// ByTicket groups theme links by ticket id.
func ByTicket(links []models.ThemeLink) map[string][]models.ThemeLink {
	out := make(map[string][]models.ThemeLink)
	for _, l := range links {
		out[l.TicketID] = append(out[l.TicketID], l)
	}
	return out
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
