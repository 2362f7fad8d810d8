// Package rollup aggregates linked ticket status per account and per theme.
package rollup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/singleflight"

	"github.com/Ramsey-B/trellis/pkg/metrics"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/status"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

const DefaultWindowDays = 30

// Reader is the read side the aggregator needs.
type Reader interface {
	ListLinks(ctx context.Context, tenantID string, filter models.LinkFilter) ([]models.Link, error)
	ListThemeLinks(ctx context.Context, tenantID string, filter models.ThemeLinkFilter) ([]models.ThemeLink, error)
	ListTickets(ctx context.Context, tenantID string, filter models.TicketFilter) ([]models.Ticket, error)
	ListCases(ctx context.Context, tenantID string, filter models.CaseFilter) ([]models.Case, error)
}

type Aggregator struct {
	reader     Reader
	logger     ectologger.Logger
	windowDays int
	now        func() time.Time
	group      singleflight.Group
}

// NewAggregator builds an aggregator. A nil now uses time.Now.
func NewAggregator(logger ectologger.Logger, reader Reader, windowDays int, now func() time.Time) *Aggregator {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		reader:     reader,
		logger:     logger,
		windowDays: windowDays,
		now:        now,
	}
}

// Compute summarizes tickets plus a count of unaddressed themes. Each
// unaddressed theme counts as one open issue.
func Compute(tickets []models.Ticket, unaddressed int, now time.Time, window time.Duration) models.Rollup {
	cutoff := now.Add(-window)
	var r models.Rollup
	seen := make(map[string]bool, len(tickets))

	for _, t := range tickets {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true

		switch status.Classify(t.Status, t.ResolutionDate) {
		case status.Resolved:
			if !t.ResolutionDate.Before(cutoff) {
				r.ResolvedRecent++
			}
		case status.InProgress:
			r.InProgress++
		default:
			r.Open++
		}
	}

	r.Open += unaddressed
	r.TotalIssues = len(seen) + unaddressed
	r.FixRateWindow = r.ResolvedRecent
	return r
}

// AccountRollup summarizes the tickets linked to an account plus the themes
// on its cases that no ticket addresses. Unknown accounts yield a zero rollup.
func (a *Aggregator) AccountRollup(ctx context.Context, tenantID, accountID string, windowDays int) (models.Rollup, error) {
	return a.shared(ctx, "account", tenantID, accountID, windowDays, func(ctx context.Context, window time.Duration) (models.Rollup, error) {
		ctx, span := tracing.StartSpan(ctx, "rollup.Aggregator.AccountRollup")
		defer span.End()

		links, err := a.reader.ListLinks(ctx, tenantID, models.LinkFilter{AccountID: accountID})
		if err != nil {
			return models.Rollup{}, fmt.Errorf("failed to list links for account %s: %w", accountID, err)
		}
		tickets, err := a.tickets(ctx, tenantID, ectolinq.Map(links, func(l models.Link) string { return l.TicketID }))
		if err != nil {
			return models.Rollup{}, err
		}

		cases, err := a.reader.ListCases(ctx, tenantID, models.CaseFilter{AccountID: accountID})
		if err != nil {
			return models.Rollup{}, fmt.Errorf("failed to list cases for account %s: %w", accountID, err)
		}
		unaddressed, err := a.unaddressedThemes(ctx, tenantID, themeKeys(cases))
		if err != nil {
			return models.Rollup{}, err
		}

		return Compute(tickets, unaddressed, a.now(), window), nil
	})
}

// ThemeRollup summarizes the tickets linked to a theme. A theme observed on
// cases with no linked tickets counts as one open issue.
func (a *Aggregator) ThemeRollup(ctx context.Context, tenantID, themeKey string, windowDays int) (models.Rollup, error) {
	return a.shared(ctx, "theme", tenantID, themeKey, windowDays, func(ctx context.Context, window time.Duration) (models.Rollup, error) {
		ctx, span := tracing.StartSpan(ctx, "rollup.Aggregator.ThemeRollup")
		defer span.End()

		themeLinks, err := a.reader.ListThemeLinks(ctx, tenantID, models.ThemeLinkFilter{ThemeKeys: []string{themeKey}})
		if err != nil {
			return models.Rollup{}, fmt.Errorf("failed to list theme links for %s: %w", themeKey, err)
		}
		tickets, err := a.tickets(ctx, tenantID, ectolinq.Map(themeLinks, func(l models.ThemeLink) string { return l.TicketID }))
		if err != nil {
			return models.Rollup{}, err
		}

		unaddressed := 0
		if len(themeLinks) == 0 {
			cases, err := a.reader.ListCases(ctx, tenantID, models.CaseFilter{ThemeKey: themeKey})
			if err != nil {
				return models.Rollup{}, fmt.Errorf("failed to list cases for theme %s: %w", themeKey, err)
			}
			if len(cases) > 0 {
				unaddressed = 1
			}
		}

		return Compute(tickets, unaddressed, a.now(), window), nil
	})
}

func (a *Aggregator) shared(ctx context.Context, subject, tenantID, id string, windowDays int, fn func(context.Context, time.Duration) (models.Rollup, error)) (models.Rollup, error) {
	if windowDays <= 0 {
		windowDays = a.windowDays
	}
	window := time.Duration(windowDays) * 24 * time.Hour
	key := subject + "|" + tenantID + "|" + id + "|" + strconv.Itoa(windowDays)

	// The shared call outlives any single caller; each caller waits on its own ctx.
	ch := a.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx), window)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return models.Rollup{}, ctx.Err()
	}
	metrics.RollupRequests.WithLabelValues(subject, strconv.FormatBool(res.Shared)).Inc()
	v, err := res.Val, res.Err
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"subject":   subject,
			"id":        id,
		}).Error("Failed to compute rollup")
		return models.Rollup{}, err
	}
	return v.(models.Rollup), nil
}

func (a *Aggregator) tickets(ctx context.Context, tenantID string, ids []string) ([]models.Ticket, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tickets, err := a.reader.ListTickets(ctx, tenantID, models.TicketFilter{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("failed to list linked tickets: %w", err)
	}
	return tickets, nil
}

// unaddressedThemes counts the given themes that have no theme links at all.
func (a *Aggregator) unaddressedThemes(ctx context.Context, tenantID string, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	links, err := a.reader.ListThemeLinks(ctx, tenantID, models.ThemeLinkFilter{ThemeKeys: keys})
	if err != nil {
		return 0, fmt.Errorf("failed to list theme links: %w", err)
	}
	addressed := map[string]bool{}
	for _, l := range links {
		addressed[l.ThemeKey] = true
	}
	count := 0
	for _, k := range keys {
		if !addressed[k] {
			count++
		}
	}
	return count, nil
}

func themeKeys(cases []models.Case) []string {
	seen := map[string]bool{}
	var keys []string
	for _, c := range cases {
		if c.ThemeKey == nil || *c.ThemeKey == "" || seen[*c.ThemeKey] {
			continue
		}
		seen[*c.ThemeKey] = true
		keys = append(keys, *c.ThemeKey)
	}
	return keys
}
