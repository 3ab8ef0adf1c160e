// Package postgres implements the store interfaces on PostgreSQL through the
// pgx database/sql driver. Uniqueness rules live in partial unique indexes
// and are reported through MapError as store errors.
package postgres
