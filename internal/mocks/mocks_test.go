package mocks

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/gateway"
	"github.com/phrazzld/taskbid/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGateway(t *testing.T) {
	ctx := context.Background()

	t.Run("registered tasks and users are returned", func(t *testing.T) {
		gw := NewMockGateway()
		customer := gw.AddUser(domain.RoleCustomer)
		tasker := gw.AddUser(domain.RoleTasker)
		taskID := gw.AddTask(customer)

		info, err := gw.GetTaskInfo(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, customer, info.CustomerID)
		assert.Equal(t, gateway.TaskStatusOpen, info.Status)

		_, err = gw.GetTaskerInfo(ctx, tasker)
		require.NoError(t, err)
		_, err = gw.GetTaskerInfo(ctx, customer)
		assert.ErrorIs(t, err, gateway.ErrNotFound)

		ok, err := gw.ValidateUserRole(ctx, tasker, domain.RoleTasker)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = gw.ValidateUserRole(ctx, uuid.New(), domain.RoleTasker)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("status updates are recorded and applied", func(t *testing.T) {
		gw := NewMockGateway()
		taskID := gw.AddTask(gw.AddUser(domain.RoleCustomer))
		tasker := uuid.New()

		require.NoError(t, gw.UpdateTaskStatus(ctx, taskID, gateway.TaskStatusAssigned, &tasker))

		assert.Equal(t, gateway.TaskStatusAssigned, gw.TaskStatus(taskID))
		updates := gw.StatusUpdates()
		require.Len(t, updates, 1)
		assert.Equal(t, tasker, *updates[0].TaskerID)
	})

	t.Run("custom charge function overrides default", func(t *testing.T) {
		gw := NewMockGateway()
		gw.ChargePaymentFn = func(ctx context.Context, p *domain.Payment) (string, error) {
			return "", gateway.ErrProviderError
		}
		p := &domain.Payment{ID: uuid.New()}

		_, err := gw.ChargePayment(ctx, p)
		assert.ErrorIs(t, err, gateway.ErrProviderError)
		assert.Equal(t, []uuid.UUID{p.ID}, gw.Charges())
	})
}

func TestMockNotifier(t *testing.T) {
	n := &MockNotifier{}
	alice, bob := uuid.New(), uuid.New()

	require.NoError(t, n.Notify(context.Background(), notify.Message{UserID: alice, Subject: "a"}))
	n.NotifyFn = func(ctx context.Context, msg notify.Message) error { return errors.New("down") }
	assert.Error(t, n.Notify(context.Background(), notify.Message{UserID: bob, Subject: "b"}))

	assert.Len(t, n.Sent(), 2)
	assert.Len(t, n.SentTo(alice), 1)
}
