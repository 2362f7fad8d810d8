package matching

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmespath/go-jmespath"

	"github.com/Ramsey-B/trellis/pkg/extractor"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/normalizers"
)

const (
	ClientExactConfidence     = 0.95
	ClientSubstringConfidence = 0.80
	ClientTokenConfidence     = 0.80

	minSubstringLen = 4
	minTokenLen     = 3
)

type accountName struct {
	id     string
	raw    string
	lower  string
	tokens map[string]bool
}

// ClientField matches the client names recorded on a ticket against account names.
type ClientField struct {
	path     string
	compiled *jmespath.JMESPath
	accounts []accountName
}

// NewClientField evaluates path against the ticket document. An empty path
// disables the strategy.
func NewClientField(path string, accounts []models.Account) (*ClientField, error) {
	s := &ClientField{path: path}
	if path != "" {
		compiled, err := jmespath.Compile(path)
		if err != nil {
			return nil, fmt.Errorf("invalid client field %q: %w", path, err)
		}
		s.compiled = compiled
	}

	for _, a := range accounts {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		tokens := map[string]bool{}
		for _, tok := range strings.Fields(normalizers.NormalizeCompany(name)) {
			tokens[tok] = true
		}
		s.accounts = append(s.accounts, accountName{
			id:     a.ID,
			raw:    name,
			lower:  strings.ToLower(name),
			tokens: tokens,
		})
	}
	return s, nil
}

func (s *ClientField) Name() models.Strategy {
	return models.StrategyClientField
}

func (s *ClientField) Match(_ context.Context, ticket *models.Ticket, _ *TicketContext) []Candidate {
	if s.compiled == nil {
		return nil
	}
	value, err := s.compiled.Search(extractor.Document(ticket))
	if err != nil {
		return nil
	}

	best := newBestPerAccount()
	for _, client := range ClientNames(value) {
		for _, acc := range s.accounts {
			confidence, ok := scoreClient(client, acc)
			if !ok {
				continue
			}
			best.add(Candidate{
				AccountID:  acc.id,
				TicketID:   ticket.ID,
				Strategy:   models.StrategyClientField,
				Confidence: confidence,
				Evidence:   s.path + ":" + client,
			})
		}
	}
	return best.candidates()
}

// ClientNames splits a client field value on commas and semicolons. Array
// values contribute each element.
func ClientNames(value any) []string {
	var raw []string
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if s, ok := extractor.Stringify(item); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = v
	default:
		if s, ok := extractor.Stringify(v); ok {
			raw = append(raw, s)
		}
	}

	var names []string
	for _, r := range raw {
		for _, part := range strings.FieldsFunc(r, func(c rune) bool { return c == ',' || c == ';' }) {
			if part = strings.TrimSpace(part); part != "" {
				names = append(names, part)
			}
		}
	}
	return names
}

func scoreClient(client string, acc accountName) (float64, bool) {
	if strings.EqualFold(client, acc.raw) {
		return ClientExactConfidence, true
	}

	lower := strings.ToLower(client)
	if len([]rune(lower)) >= minSubstringLen && len([]rune(acc.lower)) >= minSubstringLen {
		if strings.Contains(acc.lower, lower) || strings.Contains(lower, acc.lower) {
			return ClientSubstringConfidence, true
		}
	}

	tokens := normalizers.SignificantTokens(client, minTokenLen)
	if len(tokens) == 0 {
		return 0, false
	}
	for _, tok := range tokens {
		if !acc.tokens[tok] {
			return 0, false
		}
	}
	return ClientTokenConfidence, true
}
