// Package api exposes the bid and payment lifecycles over HTTP. Handlers
// decode and validate JSON, take the caller from the identity middleware,
// call the services and map the service error taxonomy to status codes.
package api
