// Package extractor finds case numbers and case record ids in ticket fields.
package extractor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"

	"github.com/Ramsey-B/trellis/pkg/models"
)

// AllCustomFields expands to every custom field of the ticket in sorted key order.
const AllCustomFields = "customFields.*"

const customFieldsPrefix = "customFields."

// Kind is the token shape an identifier matched.
type Kind string

const (
	KindCaseNumber Kind = "case_number"
	KindRecordID   Kind = "record_id"
)

var (
	caseNumberPattern = regexp.MustCompile(`\b\d{8}\b`)
	recordIDPattern   = regexp.MustCompile(`\b[a-zA-Z0-9]{18}\b`)
)

// Identifier is a token found in a ticket along with the field it came from.
type Identifier struct {
	Value       string `json:"value"`
	SourceField string `json:"source_field"`
	Kind        Kind   `json:"kind"`
}

type field struct {
	path     string
	compiled *jmespath.JMESPath
	wildcard bool
}

// Extractor scans a fixed, ordered list of candidate fields.
type Extractor struct {
	fields []field
}

// New compiles the candidate field expressions. Each expression is evaluated
// against {summary, description, customFields}.
func New(candidateFields []string) (*Extractor, error) {
	fields := make([]field, 0, len(candidateFields))
	for _, path := range candidateFields {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if path == AllCustomFields {
			fields = append(fields, field{path: path, wildcard: true})
			continue
		}
		compiled, err := jmespath.Compile(path)
		if err != nil {
			return nil, fmt.Errorf("invalid candidate field %q: %w", path, err)
		}
		fields = append(fields, field{path: path, compiled: compiled})
	}
	return &Extractor{fields: fields}, nil
}

// Document returns the view of a ticket that candidate field expressions run against.
func Document(ticket *models.Ticket) map[string]any {
	custom := ticket.CustomFields
	if custom == nil {
		custom = map[string]any{}
	}
	return map[string]any{
		"summary":      ticket.Summary,
		"description":  ticket.Description,
		"customFields": custom,
	}
}

// Extract returns identifiers in field order, deduplicated by value. The first
// field an identifier appears in is the one reported.
func (e *Extractor) Extract(ticket *models.Ticket) []Identifier {
	if ticket == nil {
		return nil
	}

	doc := Document(ticket)
	seen := map[string]bool{}
	var out []Identifier

	collect := func(source string, value any) {
		text, ok := Stringify(value)
		if !ok || text == "" {
			return
		}
		for _, id := range scan(text) {
			if seen[id.Value] {
				continue
			}
			seen[id.Value] = true
			id.SourceField = source
			out = append(out, id)
		}
	}

	for _, f := range e.fields {
		if f.wildcard {
			keys := make([]string, 0, len(ticket.CustomFields))
			for k := range ticket.CustomFields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				collect(customFieldsPrefix+k, ticket.CustomFields[k])
			}
			continue
		}

		value, err := f.compiled.Search(doc)
		if err != nil {
			continue
		}
		collect(f.path, value)
	}

	return out
}

// ExtractText scans a single string. Useful for fields outside the ticket document.
func ExtractText(text, source string) []Identifier {
	ids := scan(text)
	for i := range ids {
		ids[i].SourceField = source
	}
	return ids
}

func scan(text string) []Identifier {
	type hit struct {
		pos int
		id  Identifier
	}
	var hits []hit

	for _, loc := range caseNumberPattern.FindAllStringIndex(text, -1) {
		hits = append(hits, hit{pos: loc[0], id: Identifier{Value: text[loc[0]:loc[1]], Kind: KindCaseNumber}})
	}
	for _, loc := range recordIDPattern.FindAllStringIndex(text, -1) {
		token := text[loc[0]:loc[1]]
		if !isRecordID(token) {
			continue
		}
		hits = append(hits, hit{pos: loc[0], id: Identifier{Value: token, Kind: KindRecordID}})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := map[string]bool{}
	out := make([]Identifier, 0, len(hits))
	for _, h := range hits {
		if seen[h.id.Value] {
			continue
		}
		seen[h.id.Value] = true
		out = append(out, h.id)
	}
	return out
}

// isRecordID requires at least one digit and one letter so plain words and
// digit runs of the right length are not mistaken for record ids.
func isRecordID(token string) bool {
	var digit, letter bool
	for _, r := range token {
		switch {
		case r >= '0' && r <= '9':
			digit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			letter = true
		}
	}
	return digit && letter
}

// Stringify coerces a field value to text. Nil values report false.
func Stringify(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case bool:
		return strconv.FormatBool(v), true
	case json.Number:
		return v.String(), true
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), true
		}
		return string(b), true
	}
}
