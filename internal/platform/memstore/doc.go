// Package memstore provides an in-memory implementation of store.Store.
//
// Transactions are serialized by a single mutex and run against a private
// copy of the data that replaces the committed state only when the
// callback succeeds. It enforces the same uniqueness and version rules as
// the Postgres schema and backs the service tests and the "memory" store
// driver.
package memstore
