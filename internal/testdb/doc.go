//go:build integration

// Package testdb provides utilities for Postgres integration tests.
//
// Tests run only when DATABASE_URL (or TASKBID_TEST_DB_URL) is set; otherwise
// GetTestDBWithT skips them. The schema is applied with goose from the
// migrations embedded in internal/platform/postgres/migrations.
//
// Store-level tests use the transaction isolation pattern: each test runs
// inside WithTx and everything it wrote is rolled back afterwards.
//
//	func TestMyFeature(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        bids := postgres.NewPostgresBidStore(tx, clock.Real{}, nil)
//	        ...
//	    })
//	}
//
// Tests that need real commits (concurrency, RunInTx) use random task and
// customer IDs so they never collide with each other.
package testdb
