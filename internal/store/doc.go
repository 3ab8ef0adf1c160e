// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the lifecycle services, which only see BidStore, PaymentStore and
// OutboxStore grouped behind a transactional Store.
package store
