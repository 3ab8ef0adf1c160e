package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/gateway"
)

// StatusUpdate records one UpdateTaskStatus call.
type StatusUpdate struct {
	TaskID   uuid.UUID
	Status   gateway.TaskStatus
	TaskerID *uuid.UUID
}

// MockGateway implements gateway.ExternalGateway for testing.
//
// Without custom functions it behaves like a small in-memory marketplace:
// tasks and users registered with AddTask and AddUser are returned by the
// lookups, status pushes update the stored task, and every charge or
// refund succeeds with a transaction ID derived from the payment ID.
type MockGateway struct {
	// Custom behavior functions
	GetTaskInfoFn        func(ctx context.Context, taskID uuid.UUID) (*gateway.TaskInfo, error)
	UpdateTaskStatusFn   func(ctx context.Context, taskID uuid.UUID, status gateway.TaskStatus, taskerID *uuid.UUID) error
	GetTaskerInfoFn      func(ctx context.Context, taskerID uuid.UUID) (*gateway.TaskerInfo, error)
	GetUserInfoFn        func(ctx context.Context, userID uuid.UUID) (*gateway.UserInfo, error)
	ValidateUserRoleFn   func(ctx context.Context, userID uuid.UUID, role domain.Role) (bool, error)
	ChargePaymentFn      func(ctx context.Context, payment *domain.Payment) (string, error)
	RefundPaymentFn      func(ctx context.Context, original, refund *domain.Payment) (string, error)
	CheckPaymentStatusFn func(ctx context.Context, externalTransactionID string) (gateway.ProviderStatus, error)

	mu            sync.Mutex
	tasks         map[uuid.UUID]*gateway.TaskInfo
	users         map[uuid.UUID]*gateway.UserInfo
	statusUpdates []StatusUpdate
	charges       []uuid.UUID
	refunds       []uuid.UUID
}

// NewMockGateway creates an empty MockGateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		tasks: make(map[uuid.UUID]*gateway.TaskInfo),
		users: make(map[uuid.UUID]*gateway.UserInfo),
	}
}

var _ gateway.ExternalGateway = (*MockGateway)(nil)

// AddUser registers a user holding the given roles and returns its ID.
func (m *MockGateway) AddUser(roles ...domain.Role) uuid.UUID {
	id := uuid.New()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = &gateway.UserInfo{
		ID:    id,
		Name:  "user-" + id.String()[:8],
		Phone: "+1555" + fmt.Sprintf("%07d", len(m.users)+1),
		Roles: roles,
	}
	return id
}

// AddTask registers an OPEN task owned by customerID and returns its ID.
func (m *MockGateway) AddTask(customerID uuid.UUID) uuid.UUID {
	id := uuid.New()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id] = &gateway.TaskInfo{
		ID:         id,
		CustomerID: customerID,
		Title:      "task-" + id.String()[:8],
		Status:     gateway.TaskStatusOpen,
	}
	return id
}

// SetTaskStatus changes a registered task's status.
func (m *MockGateway) SetTaskStatus(taskID uuid.UUID, status gateway.TaskStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[taskID]; ok {
		t.Status = status
	}
}

// TaskStatus returns a registered task's current status.
func (m *MockGateway) TaskStatus(taskID uuid.UUID) gateway.TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[taskID]; ok {
		return t.Status
	}
	return ""
}

// StatusUpdates returns the recorded UpdateTaskStatus calls.
func (m *MockGateway) StatusUpdates() []StatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StatusUpdate(nil), m.statusUpdates...)
}

// Charges returns the IDs of the payments passed to ChargePayment.
func (m *MockGateway) Charges() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.charges...)
}

// Refunds returns the IDs of the refund payments passed to RefundPayment.
func (m *MockGateway) Refunds() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.refunds...)
}

// GetTaskInfo implements gateway.TaskService.
func (m *MockGateway) GetTaskInfo(ctx context.Context, taskID uuid.UUID) (*gateway.TaskInfo, error) {
	if m.GetTaskInfoFn != nil {
		return m.GetTaskInfoFn(ctx, taskID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	info := *t
	return &info, nil
}

// UpdateTaskStatus implements gateway.TaskService.
func (m *MockGateway) UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status gateway.TaskStatus, taskerID *uuid.UUID) error {
	m.mu.Lock()
	m.statusUpdates = append(m.statusUpdates, StatusUpdate{TaskID: taskID, Status: status, TaskerID: taskerID})
	m.mu.Unlock()

	if m.UpdateTaskStatusFn != nil {
		return m.UpdateTaskStatusFn(ctx, taskID, status, taskerID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return gateway.ErrNotFound
	}
	t.Status = status
	t.AssignedTaskerID = taskerID
	return nil
}

// GetTaskerInfo implements gateway.UserService.
func (m *MockGateway) GetTaskerInfo(ctx context.Context, taskerID uuid.UUID) (*gateway.TaskerInfo, error) {
	if m.GetTaskerInfoFn != nil {
		return m.GetTaskerInfoFn(ctx, taskerID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[taskerID]
	if !ok || !u.HasRole(domain.RoleTasker) {
		return nil, gateway.ErrNotFound
	}
	return &gateway.TaskerInfo{ID: u.ID, Name: u.Name, Phone: u.Phone, Active: true}, nil
}

// GetUserInfo implements gateway.UserService.
func (m *MockGateway) GetUserInfo(ctx context.Context, userID uuid.UUID) (*gateway.UserInfo, error) {
	if m.GetUserInfoFn != nil {
		return m.GetUserInfoFn(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	info := *u
	info.Roles = append([]domain.Role(nil), u.Roles...)
	return &info, nil
}

// ValidateUserRole implements gateway.UserService.
func (m *MockGateway) ValidateUserRole(ctx context.Context, userID uuid.UUID, role domain.Role) (bool, error) {
	if m.ValidateUserRoleFn != nil {
		return m.ValidateUserRoleFn(ctx, userID, role)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	return ok && u.HasRole(role), nil
}

// ChargePayment implements gateway.PaymentProvider.
func (m *MockGateway) ChargePayment(ctx context.Context, payment *domain.Payment) (string, error) {
	m.mu.Lock()
	m.charges = append(m.charges, payment.ID)
	m.mu.Unlock()

	if m.ChargePaymentFn != nil {
		return m.ChargePaymentFn(ctx, payment)
	}
	return "txn_" + payment.ID.String(), nil
}

// RefundPayment implements gateway.PaymentProvider.
func (m *MockGateway) RefundPayment(ctx context.Context, original, refund *domain.Payment) (string, error) {
	m.mu.Lock()
	m.refunds = append(m.refunds, refund.ID)
	m.mu.Unlock()

	if m.RefundPaymentFn != nil {
		return m.RefundPaymentFn(ctx, original, refund)
	}
	return "rfd_" + refund.ID.String(), nil
}

// CheckPaymentStatus implements gateway.PaymentProvider.
func (m *MockGateway) CheckPaymentStatus(ctx context.Context, externalTransactionID string) (gateway.ProviderStatus, error) {
	if m.CheckPaymentStatusFn != nil {
		return m.CheckPaymentStatusFn(ctx, externalTransactionID)
	}
	return gateway.ProviderStatusSucceeded, nil
}
