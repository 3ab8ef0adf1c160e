// Package notify delivers best-effort notifications to marketplace users.
// Delivery failures are logged and never affect lifecycle transitions.
package notify
