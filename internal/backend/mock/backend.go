package mock

import (
	"context"
	"os"
	"path/filepath"

	"github.com/kiranshivaraju/gatekeeper/internal/backend"
)

// MockBackend satisfies backend.Backend for testing.
type MockBackend struct {
	Name_     string
	InferFunc func(ctx context.Context, req backend.Request) (backend.Response, error)
	ReadyFunc func(ctx context.Context) error
}

func (m *MockBackend) Name() string { return m.Name_ }

func (m *MockBackend) Infer(ctx context.Context, req backend.Request) (backend.Response, error) {
	if m.InferFunc != nil {
		return m.InferFunc(ctx, req)
	}
	return backend.Response{}, nil
}

func (m *MockBackend) Ready(ctx context.Context) error {
	if m.ReadyFunc != nil {
		return m.ReadyFunc(ctx)
	}
	return nil
}

// NewMockBackend returns a MockBackend that writes a small placeholder video
// into tempDir for every call and reports it as the produced artifact.
func NewMockBackend(tempDir string) *MockBackend {
	return &MockBackend{
		Name_: "mock",
		InferFunc: func(_ context.Context, _ backend.Request) (backend.Response, error) {
			f, err := os.CreateTemp(tempDir, "mock-*.mp4")
			if err != nil {
				return backend.Response{}, err
			}
			defer f.Close()
			if _, err := f.WriteString("mock video"); err != nil {
				return backend.Response{}, err
			}
			return backend.Response{Outputs: []backend.Output{{Video: filepath.Clean(f.Name())}}}, nil
		},
	}
}

// NewFailingBackend returns a MockBackend whose every call fails with err.
func NewFailingBackend(err error) *MockBackend {
	return &MockBackend{
		Name_: "mock-failing",
		InferFunc: func(_ context.Context, _ backend.Request) (backend.Response, error) {
			return backend.Response{}, err
		},
		ReadyFunc: func(_ context.Context) error {
			return err
		},
	}
}

// NewBlockingBackend returns a MockBackend that blocks until release is
// closed or the context is cancelled.
func NewBlockingBackend(release <-chan struct{}) *MockBackend {
	return &MockBackend{
		Name_: "mock-blocking",
		InferFunc: func(ctx context.Context, _ backend.Request) (backend.Response, error) {
			select {
			case <-release:
				return backend.Response{}, nil
			case <-ctx.Done():
				return backend.Response{}, ctx.Err()
			}
		},
	}
}

// Compile-time check that MockBackend implements backend.Backend.
var _ backend.Backend = (*MockBackend)(nil)
