package db

import (
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
)

// Dialect builds PostgreSQL statements with $n placeholders.
var Dialect = goqu.Dialect("postgres")

// From starts a prepared select on table.
func From(table interface{}) *goqu.SelectDataset {
	return Dialect.From(table).Prepared(true)
}

// CountOf turns a filtered select into SELECT COUNT(*) with the same WHERE
// clause, dropping ordering and paging.
func CountOf(ds *goqu.SelectDataset) *goqu.SelectDataset {
	return ds.ClearSelect().ClearOrder().ClearLimit().ClearOffset().Select(goqu.COUNT(goqu.Star()))
}
