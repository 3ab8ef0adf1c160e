package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
)

// HTTPTaskService is a TaskService backed by the task service's REST API.
type HTTPTaskService struct {
	client *jsonClient
	logger *slog.Logger
}

// NewHTTPTaskService creates a client for the task service at baseURL.
func NewHTTPTaskService(baseURL string, timeout time.Duration, logger *slog.Logger) (*HTTPTaskService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "task_service_client")
	client, err := newJSONClient(baseURL, timeout, logger)
	if err != nil {
		return nil, fmt.Errorf("task service: %w", err)
	}
	return &HTTPTaskService{client: client, logger: logger}, nil
}

var _ TaskService = (*HTTPTaskService)(nil)

// GetTaskInfo implements TaskService.
func (s *HTTPTaskService) GetTaskInfo(ctx context.Context, taskID uuid.UUID) (*TaskInfo, error) {
	var info TaskInfo
	if err := s.client.do(ctx, http.MethodGet, "/api/tasks/"+taskID.String(), nil, nil, &info); err != nil {
		return nil, serviceError("get task", err)
	}
	return &info, nil
}

type taskStatusRequest struct {
	Status           TaskStatus `json:"status"`
	AssignedTaskerID *uuid.UUID `json:"assigned_tasker_id,omitempty"`
}

// UpdateTaskStatus implements TaskService.
func (s *HTTPTaskService) UpdateTaskStatus(
	ctx context.Context,
	taskID uuid.UUID,
	status TaskStatus,
	assignedTaskerID *uuid.UUID,
) error {
	body := taskStatusRequest{Status: status, AssignedTaskerID: assignedTaskerID}
	if err := s.client.do(ctx, http.MethodPut, "/api/tasks/"+taskID.String()+"/status", nil, body, nil); err != nil {
		return serviceError("update task status", err)
	}
	return nil
}

// HTTPUserService is a UserService backed by the user service's REST API.
type HTTPUserService struct {
	client *jsonClient
	logger *slog.Logger
}

// NewHTTPUserService creates a client for the user service at baseURL.
func NewHTTPUserService(baseURL string, timeout time.Duration, logger *slog.Logger) (*HTTPUserService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "user_service_client")
	client, err := newJSONClient(baseURL, timeout, logger)
	if err != nil {
		return nil, fmt.Errorf("user service: %w", err)
	}
	return &HTTPUserService{client: client, logger: logger}, nil
}

var _ UserService = (*HTTPUserService)(nil)

// GetTaskerInfo implements UserService.
func (s *HTTPUserService) GetTaskerInfo(ctx context.Context, taskerID uuid.UUID) (*TaskerInfo, error) {
	var info TaskerInfo
	if err := s.client.do(ctx, http.MethodGet, "/api/taskers/"+taskerID.String(), nil, nil, &info); err != nil {
		return nil, serviceError("get tasker", err)
	}
	return &info, nil
}

// GetUserInfo implements UserService.
func (s *HTTPUserService) GetUserInfo(ctx context.Context, userID uuid.UUID) (*UserInfo, error) {
	var info UserInfo
	if err := s.client.do(ctx, http.MethodGet, "/api/users/"+userID.String(), nil, nil, &info); err != nil {
		return nil, serviceError("get user", err)
	}
	return &info, nil
}

// ValidateUserRole implements UserService. An unknown user holds no role.
func (s *HTTPUserService) ValidateUserRole(ctx context.Context, userID uuid.UUID, role domain.Role) (bool, error) {
	info, err := s.GetUserInfo(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.HasRole(role), nil
}
