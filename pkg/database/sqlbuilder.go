package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

func Excluded(column string) string {
	return "EXCLUDED." + column
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
	conflict string
}

func NewInsertBuilder(table string, cols ...string) *InsertBuilder {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(cols...)
	return &InsertBuilder{InsertBuilder: ib}
}

// OnConflict appends ON CONFLICT (columns) DO UPDATE SET with the given
// assignments, e.g. "confidence = GREATEST(links.confidence, EXCLUDED.confidence)".
func (b *InsertBuilder) OnConflict(columns []string, assignments ...string) *InsertBuilder {
	b.conflict = fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(columns, ", "), strings.Join(assignments, ", "))
	return b
}

func (b *InsertBuilder) OnConflictDoNothing() *InsertBuilder {
	b.conflict = " ON CONFLICT DO NOTHING"
	return b
}

func (b *InsertBuilder) Build() (string, []any) {
	query, args := b.InsertBuilder.Build()
	return query + b.conflict, args
}

func NewSelectBuilder() *sqlbuilder.SelectBuilder {
	return sqlbuilder.PostgreSQL.NewSelectBuilder()
}

func NewDeleteBuilder() *sqlbuilder.DeleteBuilder {
	return sqlbuilder.PostgreSQL.NewDeleteBuilder()
}

// Struct maps a row type's db tags onto Postgres builders.
type Struct struct {
	*sqlbuilder.Struct
}

func NewStruct(v any) *Struct {
	return &Struct{sqlbuilder.NewStruct(v).For(sqlbuilder.PostgreSQL)}
}

func (s *Struct) SelectFrom(table string) *sqlbuilder.SelectBuilder {
	return s.Struct.SelectFrom(table)
}

// InsertInto builds a multi-row insert of rows, which must be pointers to the struct type.
func (s *Struct) InsertInto(table string, rows ...any) *InsertBuilder {
	return &InsertBuilder{InsertBuilder: s.Struct.InsertInto(table, rows...)}
}
