package linking

import (
	"github.com/Ramsey-B/trellis/pkg/matching"
	"github.com/Ramsey-B/trellis/pkg/models"
)

// Dedupe collapses candidates to one per (account, ticket). The highest
// confidence wins; ties go to the stronger strategy, then to the first seen.
// Output keeps first-seen pair order. The losing candidates are returned.
func Dedupe(candidates []matching.Candidate) ([]matching.Candidate, []matching.Candidate) {
	index := make(map[models.PairKey]int, len(candidates))
	kept := make([]matching.Candidate, 0, len(candidates))
	var discarded []matching.Candidate

	for _, c := range candidates {
		c.Confidence = models.ClampConfidence(c.Confidence)
		key := models.PairKey{AccountID: c.AccountID, TicketID: c.TicketID}
		i, ok := index[key]
		if !ok {
			index[key] = len(kept)
			kept = append(kept, c)
			continue
		}
		if beats(c, kept[i]) {
			discarded = append(discarded, kept[i])
			kept[i] = c
		} else {
			discarded = append(discarded, c)
		}
	}
	return kept, discarded
}

func beats(challenger, incumbent matching.Candidate) bool {
	if challenger.Confidence != incumbent.Confidence {
		return challenger.Confidence > incumbent.Confidence
	}
	return challenger.Strategy.Rank() < incumbent.Strategy.Rank()
}

// DedupeThemeLinks keeps the highest confidence per (theme, ticket), first
// seen on ties. Returns the kept rows and how many were collapsed.
func DedupeThemeLinks(links []models.ThemeLink) ([]models.ThemeLink, int) {
	index := make(map[models.ThemePairKey]int, len(links))
	kept := make([]models.ThemeLink, 0, len(links))
	discarded := 0

	for _, l := range links {
		l.Confidence = models.ClampConfidence(l.Confidence)
		i, ok := index[l.Key()]
		if !ok {
			index[l.Key()] = len(kept)
			kept = append(kept, l)
			continue
		}
		discarded++
		if l.Confidence > kept[i].Confidence {
			kept[i] = l
		}
	}
	return kept, discarded
}
