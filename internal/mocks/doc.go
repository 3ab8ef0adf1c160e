// Package mocks provides test doubles for the collaborators that sit outside
// the lifecycle services: the external gateway and the notifier.
//
// MockGateway behaves like a small in-memory marketplace until a test
// overrides one of its function fields:
//
//	gw := mocks.NewMockGateway()
//	customer := gw.AddUser(domain.RoleCustomer)
//	taskID := gw.AddTask(customer)
//	gw.ChargePaymentFn = func(ctx context.Context, p *domain.Payment) (string, error) {
//	    return "", gateway.ErrProviderTimeout
//	}
//
// Both mocks record their calls so tests can assert on status pushes,
// charges, refunds and sent notifications.
package mocks
