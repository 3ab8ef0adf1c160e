// Package service implements the transactional lifecycle of bids and
// payments.
//
// BidService and PaymentService are the only writers of bid and payment
// state. Every transition reads the current record, validates it, writes the
// new state with a version check and appends the resulting events to the
// outbox, all in one store transaction. Background sweeps call the same
// public operations as interactive callers.
//
// Orchestrator consumes the events relayed from the outbox and couples the
// two lifecycles: an accepted bid yields exactly one task payment, and
// payment or bid outcomes are pushed to the task service and to the users
// involved.
package service
