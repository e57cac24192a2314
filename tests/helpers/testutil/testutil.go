// Package testutil provides testing utilities and helpers for preview tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/bridge"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/resource"
)

// Polling bounds for assertions on asynchronous reads and file events.
const (
	Timeout = 3 * time.Second
	Tick    = 10 * time.Millisecond
)

// MockTransport is a mock implementation of bridge.Transport for testing.
type MockTransport struct {
	mock.Mock

	mu         sync.Mutex
	deliveries []bridge.Delivery
}

// Deliver mocks the Deliver method and records the delivery.
func (m *MockTransport) Deliver(ctx context.Context, d bridge.Delivery) error {
	m.mu.Lock()
	m.deliveries = append(m.deliveries, d)
	m.mu.Unlock()

	args := m.Called(ctx, d)
	return args.Error(0)
}

// Close mocks the Close method.
func (m *MockTransport) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Deliveries returns a copy of every delivery seen so far.
func (m *MockTransport) Deliveries() []bridge.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bridge.Delivery(nil), m.deliveries...)
}

// LastDelivery returns the most recent delivery.
func (m *MockTransport) LastDelivery() (bridge.Delivery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.deliveries) == 0 {
		return bridge.Delivery{}, false
	}
	return m.deliveries[len(m.deliveries)-1], true
}

// MockReader is a mock implementation of resource.Reader for testing.
type MockReader struct {
	mock.Mock
}

// Read mocks the Read method.
func (m *MockReader) Read(ctx context.Context, res resource.Resource) ([]byte, error) {
	args := m.Called(ctx, res)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// NewMockTransport creates a new mock transport with default behaviors.
func NewMockTransport(t *testing.T) *MockTransport {
	t.Helper()
	m := new(MockTransport)

	// Default behavior: deliveries and close succeed
	m.On("Deliver", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Close").Return(nil).Maybe()

	return m
}

// NewMockReader creates a new mock reader that returns content for every read.
func NewMockReader(t *testing.T, content string) *MockReader {
	t.Helper()
	m := new(MockReader)

	m.On("Read", mock.Anything, mock.Anything).Return([]byte(content), nil).Maybe()

	return m
}

// WriteDocument writes content to name inside a fresh temp directory and
// returns the resolved resource.
func WriteDocument(t *testing.T, name, content string) resource.Resource {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return resource.MustNew(p)
}

// ConsoleFrame encodes a console message the way the instrumented document
// posts it.
func ConsoleFrame(t *testing.T, level bridge.Level, args ...string) []byte {
	t.Helper()

	raw, err := bridge.Encode(bridge.ConsoleMessage{Level: level, Args: args})
	require.NoError(t, err)
	return raw
}
