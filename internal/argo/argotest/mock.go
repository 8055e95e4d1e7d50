// Package argotest provides a testify mock of argo.Client.
package argotest

import (
	"context"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"argo-workflows-mcp/backend/internal/argo"
)

// MockClient satisfies argo.Client. Close is not routed through the mock so
// tests don't need to expect it; use Closed to observe it.
type MockClient struct {
	mock.Mock
	closed atomic.Int32
}

var _ argo.Client = (*MockClient)(nil)

func (m *MockClient) Close() error {
	m.closed.Add(1)
	return nil
}

// Closed reports whether Close was called at least once.
func (m *MockClient) Closed() bool { return m.closed.Load() > 0 }

// CloseCount reports how many times Close was called.
func (m *MockClient) CloseCount() int { return int(m.closed.Load()) }

func (m *MockClient) ListWorkflows(ctx context.Context, namespace string, limit int, labelSelector, fieldSelector string) ([]argo.WorkflowSummary, error) {
	args := m.Called(ctx, namespace, limit, labelSelector, fieldSelector)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]argo.WorkflowSummary), args.Error(1)
}

func (m *MockClient) GetWorkflow(ctx context.Context, namespace, name string) (*argo.WorkflowDetail, error) {
	args := m.Called(ctx, namespace, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*argo.WorkflowDetail), args.Error(1)
}

func (m *MockClient) GetWorkflowLogs(ctx context.Context, namespace, workflowName, podName, container string) ([]argo.LogEntry, error) {
	args := m.Called(ctx, namespace, workflowName, podName, container)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]argo.LogEntry), args.Error(1)
}

func (m *MockClient) TerminateWorkflow(ctx context.Context, namespace, name string) (*argo.WorkflowSummary, error) {
	args := m.Called(ctx, namespace, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*argo.WorkflowSummary), args.Error(1)
}

func (m *MockClient) RetryWorkflow(ctx context.Context, namespace, name string, restartSuccessful bool) (*argo.WorkflowSummary, error) {
	args := m.Called(ctx, namespace, name, restartSuccessful)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*argo.WorkflowSummary), args.Error(1)
}

func (m *MockClient) ListCronWorkflows(ctx context.Context, namespace string) ([]argo.CronWorkflowSummary, error) {
	args := m.Called(ctx, namespace)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]argo.CronWorkflowSummary), args.Error(1)
}

func (m *MockClient) GetCronWorkflow(ctx context.Context, namespace, name string) (*argo.CronWorkflowDetail, error) {
	args := m.Called(ctx, namespace, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*argo.CronWorkflowDetail), args.Error(1)
}

func (m *MockClient) SuspendCronWorkflow(ctx context.Context, namespace, name string) (*argo.CronWorkflowSummary, error) {
	args := m.Called(ctx, namespace, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*argo.CronWorkflowSummary), args.Error(1)
}

func (m *MockClient) ResumeCronWorkflow(ctx context.Context, namespace, name string) (*argo.CronWorkflowSummary, error) {
	args := m.Called(ctx, namespace, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*argo.CronWorkflowSummary), args.Error(1)
}

func (m *MockClient) ListWorkflowTemplates(ctx context.Context, namespace, labelSelector string) ([]argo.TemplateSummary, error) {
	args := m.Called(ctx, namespace, labelSelector)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]argo.TemplateSummary), args.Error(1)
}

func (m *MockClient) GetWorkflowTemplate(ctx context.Context, namespace, name string) (*argo.TemplateDetail, error) {
	args := m.Called(ctx, namespace, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*argo.TemplateDetail), args.Error(1)
}

func (m *MockClient) ListClusterWorkflowTemplates(ctx context.Context, labelSelector string) ([]argo.TemplateSummary, error) {
	args := m.Called(ctx, labelSelector)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]argo.TemplateSummary), args.Error(1)
}

func (m *MockClient) GetClusterWorkflowTemplate(ctx context.Context, name string) (*argo.TemplateDetail, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*argo.TemplateDetail), args.Error(1)
}
