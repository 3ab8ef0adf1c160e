// Package domain holds the bid and payment entities with their state
// machines, caller identity and money arithmetic. It has no I/O.
package domain
