// Package testing provides test utilities for the agent module framework.
package testing

import (
	"context"
	"sync"
	"testing"

	"github.com/cfengine-go/agentcore/internal/framework"
)

// PublishedEvent records an event that was published via the mock bus.
type PublishedEvent struct {
	Event   string
	Payload any
}

// MockBusClient is a test double for framework.BusClient that records
// every publish call. It is safe for concurrent use.
type MockBusClient struct {
	mu sync.Mutex

	PublishedEvents []PublishedEvent
	PublishError    error
}

// Ensure MockBusClient implements BusClient at compile time.
var _ framework.BusClient = (*MockBusClient)(nil)

// NewMockBusClient creates a new mock bus client for testing.
func NewMockBusClient() *MockBusClient {
	return &MockBusClient{PublishedEvents: make([]PublishedEvent, 0)}
}

// Publish records the event and returns the configured error.
func (m *MockBusClient) Publish(ctx context.Context, event string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedEvents = append(m.PublishedEvents, PublishedEvent{Event: event, Payload: payload})
	return m.PublishError
}

// Reset clears all recorded operations and configured responses.
func (m *MockBusClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedEvents = make([]PublishedEvent, 0)
	m.PublishError = nil
}

// SetPublishError configures the error to return from Publish.
func (m *MockBusClient) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishError = err
}

// EventCount returns the number of events published.
func (m *MockBusClient) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PublishedEvents)
}

// AssertEventPublished asserts that an event with the given name was published.
func (m *MockBusClient) AssertEventPublished(t *testing.T, event string) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.PublishedEvents {
		if e.Event == event {
			return
		}
	}
	t.Errorf("expected event %q to be published, but it was not", event)
}

// AssertEventPublishedN asserts that exactly n events with the given name were published.
func (m *MockBusClient) AssertEventPublishedN(t *testing.T, event string, n int) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.PublishedEvents {
		if e.Event == event {
			count++
		}
	}
	if count != n {
		t.Errorf("expected event %q to be published %d times, but was published %d times", event, n, count)
	}
}

// LastPublishedEvent returns the most recently published event, or nil if none.
func (m *MockBusClient) LastPublishedEvent() *PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.PublishedEvents) == 0 {
		return nil
	}
	event := m.PublishedEvents[len(m.PublishedEvents)-1]
	return &event
}
