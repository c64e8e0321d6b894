// Package sqlsafe builds read-only, injection-safe queries for relational sources.
//
// # Overview
//
// Caller-supplied schema, table and column names never reach SQL text unless
// they match the identifier grammar ^[A-Za-z_][A-Za-z0-9_]*$ and, for columns,
// appear in the table's live catalog metadata. Filter values, limit and offset
// are always bound parameters.
//
// A table is readable only when it passes three checks, in order:
//
//  1. Identifier grammar on schema and table
//  2. The source's allow-list, matching "schema.table" or a bare "table"
//  3. Existence as a base table in the back end's catalog
//
// # Dialects
//
// Postgres, MySQL and SQLite differ only in identifier quoting, placeholder
// syntax and catalog queries. Everything else is shared.
//
// # Pagination
//
// Page.HasMore is true when the page came back full. It does not count the
// remaining rows, so the last page of a result whose size is a multiple of the
// limit still reports HasMore and the next request returns no rows.
package sqlsafe
