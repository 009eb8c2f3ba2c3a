// Package mocks provides hand-rolled test doubles for the shared
// infrastructure interfaces. Behavior is overridden per-test by setting
// the corresponding function field; unset fields fall back to a
// reasonable in-memory default.
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/fitrelay/server/pkg/types"
)

// MockDatabase implements shared.Database.
type MockDatabase struct {
	GetUserFunc          func(ctx context.Context, userID string) (*types.UserRecord, error)
	UpdateUserFunc       func(ctx context.Context, userID string, data map[string]interface{}) error
	GetUserPipelinesFunc func(ctx context.Context, userID string) ([]*types.PipelineConfig, error)
	GetCounterFunc       func(ctx context.Context, userID, counterID string) (*types.Counter, error)
	SetCounterFunc       func(ctx context.Context, userID string, counter *types.Counter) error
	IncrementCounterFunc func(ctx context.Context, userID, counterID string, initial int64) (int64, error)
	SetExecutionFunc     func(ctx context.Context, record *types.ExecutionRecord) error
	UpdateExecutionFunc  func(ctx context.Context, execID string, data map[string]interface{}) error

	mu       sync.Mutex
	counters map[string]int64
}

func (m *MockDatabase) GetUser(ctx context.Context, userID string) (*types.UserRecord, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, userID)
	}
	return &types.UserRecord{UserID: userID}, nil
}

func (m *MockDatabase) UpdateUser(ctx context.Context, userID string, data map[string]interface{}) error {
	if m.UpdateUserFunc != nil {
		return m.UpdateUserFunc(ctx, userID, data)
	}
	return nil
}

func (m *MockDatabase) GetUserPipelines(ctx context.Context, userID string) ([]*types.PipelineConfig, error) {
	if m.GetUserPipelinesFunc != nil {
		return m.GetUserPipelinesFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockDatabase) GetCounter(ctx context.Context, userID, counterID string) (*types.Counter, error) {
	if m.GetCounterFunc != nil {
		return m.GetCounterFunc(ctx, userID, counterID)
	}
	return nil, nil
}

func (m *MockDatabase) SetCounter(ctx context.Context, userID string, counter *types.Counter) error {
	if m.SetCounterFunc != nil {
		return m.SetCounterFunc(ctx, userID, counter)
	}
	return nil
}

// IncrementCounter defaults to an in-memory counter keyed by user and
// counter id, mirroring the transactional semantics of the real adapter.
func (m *MockDatabase) IncrementCounter(ctx context.Context, userID, counterID string, initial int64) (int64, error) {
	if m.IncrementCounterFunc != nil {
		return m.IncrementCounterFunc(ctx, userID, counterID, initial)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]int64)
	}
	key := userID + "/" + counterID
	if current, exists := m.counters[key]; exists {
		m.counters[key] = current + 1
	} else {
		m.counters[key] = initial
	}
	return m.counters[key], nil
}

func (m *MockDatabase) SetExecution(ctx context.Context, record *types.ExecutionRecord) error {
	if m.SetExecutionFunc != nil {
		return m.SetExecutionFunc(ctx, record)
	}
	return nil
}

func (m *MockDatabase) UpdateExecution(ctx context.Context, execID string, data map[string]interface{}) error {
	if m.UpdateExecutionFunc != nil {
		return m.UpdateExecutionFunc(ctx, execID, data)
	}
	return nil
}

// MockBlobStore implements shared.BlobStore with an in-memory object map.
type MockBlobStore struct {
	WriteFunc func(ctx context.Context, bucket, object string, data []byte) error
	ReadFunc  func(ctx context.Context, bucket, object string) ([]byte, error)

	mu      sync.Mutex
	objects map[string][]byte
}

func (m *MockBlobStore) Write(ctx context.Context, bucket, object string, data []byte) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, bucket, object, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[bucket+"/"+object] = stored
	return nil
}

func (m *MockBlobStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, bucket, object)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+object]
	if !ok {
		return nil, fmt.Errorf("object not found: %s/%s", bucket, object)
	}
	return data, nil
}

// Stored returns the object written under bucket/object, for assertions.
func (m *MockBlobStore) Stored(bucket, object string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+object]
	return data, ok
}

// MockPublisher implements shared.Publisher, recording published events.
type MockPublisher struct {
	PublishCloudEventFunc func(ctx context.Context, topic string, e event.Event) (string, error)

	mu        sync.Mutex
	Published []PublishedEvent
}

type PublishedEvent struct {
	Topic string
	Event event.Event
}

func (m *MockPublisher) PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error) {
	if m.PublishCloudEventFunc != nil {
		return m.PublishCloudEventFunc(ctx, topic, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, PublishedEvent{Topic: topic, Event: e})
	return fmt.Sprintf("mock-msg-%d", len(m.Published)), nil
}

// MockSecretStore implements shared.SecretStore from a plain map.
type MockSecretStore struct {
	GetSecretFunc func(ctx context.Context, projectID, name string) (string, error)
	Secrets       map[string]string
}

func (m *MockSecretStore) GetSecret(ctx context.Context, projectID, name string) (string, error) {
	if m.GetSecretFunc != nil {
		return m.GetSecretFunc(ctx, projectID, name)
	}
	if val, ok := m.Secrets[name]; ok {
		return val, nil
	}
	return "", fmt.Errorf("secret not found: %s", name)
}
