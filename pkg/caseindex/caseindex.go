// Package caseindex maps case identifiers to the cases and accounts they belong to.
package caseindex

import (
	"sort"
	"strings"

	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/normalizers"
)

// Entry is the case an identifier resolves to.
type Entry struct {
	AccountID string
	CaseID    string
}

// Hit is the result of a lookup. Normalized is true when the identifier only
// matched through its leading-zero stripped form.
type Hit struct {
	Entry
	Normalized bool
}

// Index is immutable once built and safe for concurrent reads.
type Index struct {
	verbatim   map[string]Entry
	normalized map[string]Entry
	byAccount  map[string][]string

	ambiguousVerbatim   map[string]bool
	ambiguousNormalized map[string]bool
}

// Build indexes every case by its case number, its record id and its
// leading-zero stripped case number. A key claimed by cases on different
// accounts is dropped rather than guessed.
func Build(cases []models.Case) *Index {
	idx := &Index{
		verbatim:            make(map[string]Entry, len(cases)*2),
		normalized:          make(map[string]Entry, len(cases)),
		byAccount:           make(map[string][]string),
		ambiguousVerbatim:   make(map[string]bool),
		ambiguousNormalized: make(map[string]bool),
	}

	for _, c := range cases {
		if c.AccountID == "" {
			continue
		}
		entry := Entry{AccountID: c.AccountID, CaseID: c.ID}

		number := strings.TrimSpace(c.ExternalCaseNumber)
		if number != "" {
			put(idx.verbatim, idx.ambiguousVerbatim, number, entry)
			if stripped := normalizers.StripLeadingZeros(number); stripped != "" {
				put(idx.normalized, idx.ambiguousNormalized, stripped, entry)
			}
		}
		if id := strings.TrimSpace(c.ID); id != "" {
			put(idx.verbatim, idx.ambiguousVerbatim, id, entry)
		}
	}

	for key, entry := range idx.verbatim {
		idx.byAccount[entry.AccountID] = append(idx.byAccount[entry.AccountID], key)
	}
	for _, keys := range idx.byAccount {
		sort.Strings(keys)
	}

	return idx
}

func put(target map[string]Entry, ambiguous map[string]bool, key string, entry Entry) {
	if ambiguous[key] {
		return
	}
	existing, ok := target[key]
	if !ok {
		target[key] = entry
		return
	}
	if existing.AccountID != entry.AccountID {
		delete(target, key)
		ambiguous[key] = true
	}
}

// Lookup resolves an identifier, preferring a verbatim hit over a normalized one.
func (idx *Index) Lookup(identifier string) (Hit, bool) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Hit{}, false
	}
	if entry, ok := idx.verbatim[identifier]; ok {
		return Hit{Entry: entry}, true
	}
	if entry, ok := idx.normalized[normalizers.StripLeadingZeros(identifier)]; ok {
		return Hit{Entry: entry, Normalized: true}, true
	}
	return Hit{}, false
}

// IdentifiersFor returns the verbatim identifiers of an account's cases, sorted.
func (idx *Index) IdentifiersFor(accountID string) []string {
	return idx.byAccount[accountID]
}

// Len is the number of verbatim keys.
func (idx *Index) Len() int {
	return len(idx.verbatim)
}

// Ambiguous is the number of keys dropped because they resolved to more than one account.
func (idx *Index) Ambiguous() int {
	return len(idx.ambiguousVerbatim) + len(idx.ambiguousNormalized)
}
