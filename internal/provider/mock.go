package provider

import "context"

// MockClient is a test double for Client.
type MockClient struct {
	ProviderName   string
	DispatchFunc   func(ctx context.Context, req DispatchRequest) (string, error)
	ListModelsFunc func(ctx context.Context) ([]string, error)
}

func (m *MockClient) Name() string {
	if m.ProviderName != "" {
		return m.ProviderName
	}
	return "mock"
}

func (m *MockClient) Dispatch(ctx context.Context, req DispatchRequest) (string, error) {
	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, req)
	}
	return "mock reply", nil
}

func (m *MockClient) ListModels(ctx context.Context) ([]string, error) {
	if m.ListModelsFunc != nil {
		return m.ListModelsFunc(ctx)
	}
	return []string{"mock-model"}, nil
}
