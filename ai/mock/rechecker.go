package mock

import (
	"context"
	"sync"

	"github.com/poiesic/riskdedup/ai"
)

// MockRechecker is a test double for ai.Rechecker. It is safe for concurrent use.
type MockRechecker struct {
	// CompareFunc is called by Compare if set.
	// If nil, returns DefaultScore with no matched fields.
	CompareFunc func(ctx context.Context, a, b ai.Subject) (*ai.Assessment, error)

	// DefaultScore is used when CompareFunc is nil.
	DefaultScore int

	mu        sync.Mutex
	callCount int
	pairs     [][2]ai.Subject
}

var _ ai.Rechecker = (*MockRechecker)(nil)

// NewMockRechecker creates a mock re-checker that scores every pair 50.
func NewMockRechecker() *MockRechecker {
	return &MockRechecker{DefaultScore: 50}
}

// WithCompareFunc sets CompareFunc and returns the mock for chaining.
func (m *MockRechecker) WithCompareFunc(fn func(ctx context.Context, a, b ai.Subject) (*ai.Assessment, error)) *MockRechecker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompareFunc = fn
	return m
}

func (m *MockRechecker) Compare(ctx context.Context, a, b ai.Subject) (*ai.Assessment, error) {
	m.mu.Lock()
	m.callCount++
	m.pairs = append(m.pairs, [2]ai.Subject{a, b})
	fn := m.CompareFunc
	score := m.DefaultScore
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, a, b)
	}
	return &ai.Assessment{Score: score}, nil
}

// CallCount returns the number of Compare calls.
func (m *MockRechecker) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Pairs returns a copy of every compared pair, in call order.
func (m *MockRechecker) Pairs() [][2]ai.Subject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][2]ai.Subject(nil), m.pairs...)
}

// Reset clears counters and injected behavior.
func (m *MockRechecker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.pairs = nil
	m.CompareFunc = nil
	m.DefaultScore = 50
}
