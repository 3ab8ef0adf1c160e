// Package gateway abstracts the collaborators that live outside the
// lifecycle core: the task service, the user service and the external
// payment provider. The HTTP clients in this package are the production
// implementations; tests substitute the fakes in internal/mocks.
package gateway
