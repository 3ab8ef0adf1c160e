// Package events provides the domain event envelope and its delivery path.
//
// Lifecycle services never call their collaborators directly. Every
// transition appends one or more events to the transactional outbox in the
// same transaction as the entity write; the Relay later reads them back and
// hands them to an EventEmitter, which fans them out to registered handlers.
//
// The primary components are:
//   - Event: the persisted envelope (type, aggregate, JSON payload)
//   - EventHandler / EventEmitter: handler and publisher interfaces
//   - InMemoryEventEmitter: synchronous fan-out to registered handlers
//   - Relay: polls the outbox and delivers events at least once
package events
