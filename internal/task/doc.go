// Package task runs background work: a Scheduler fires named sweep jobs on
// tickers, and each sweep fans its eligible records out over a bounded
// WorkerPool so that one failing record cannot block the rest of the batch.
package task
