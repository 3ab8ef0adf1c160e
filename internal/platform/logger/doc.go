// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels, and lets a request- or transaction-scoped logger
// travel in a context.Context.
package logger
