// Package fixtures loads tenant datasets from YAML into the in-memory store.
package fixtures

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/trellis/internal/repositories/memory"
)

// File is the YAML layout: one dataset per tenant id.
//
//	tenants:
//	  acme:
//	    accounts: [...]
//	    cases: [...]
//	    tickets: [...]
type File struct {
	Tenants map[string]memory.Dataset `yaml:"tenants"`
}

// Parse decodes fixture YAML. Unknown keys are rejected so typos surface.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	if len(f.Tenants) == 0 {
		return nil, fmt.Errorf("fixtures define no tenants")
	}
	for id, ds := range f.Tenants {
		if err := validate(id, ds); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// Load reads and parses a fixture file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures %s: %w", path, err)
	}
	return Parse(data)
}

// TenantIDs returns the tenants in the file, sorted.
func (f *File) TenantIDs() []string {
	ids := make([]string, 0, len(f.Tenants))
	for id := range f.Tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Seed loads every tenant into store.
func (f *File) Seed(store *memory.Store) {
	for _, id := range f.TenantIDs() {
		store.Seed(id, f.Tenants[id])
	}
}

// NewStore returns a memory store seeded from the file at path.
func NewStore(path string) (*memory.Store, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	store := memory.NewStore()
	f.Seed(store)
	return store, nil
}

// validate only rejects what cannot be stored. Incomplete upstream rows such
// as tickets without a key are kept so fixture runs can reproduce them.
func validate(tenantID string, ds memory.Dataset) error {
	if tenantID == "" {
		return fmt.Errorf("fixtures contain an empty tenant id")
	}
	for i, a := range ds.Accounts {
		if a.ID == "" {
			return fmt.Errorf("tenant %s: account %d has no id", tenantID, i)
		}
	}
	for i, c := range ds.Cases {
		if c.ID == "" {
			return fmt.Errorf("tenant %s: case %d has no id", tenantID, i)
		}
	}
	return nil
}
