package services

import (
	"fmt"
	"strings"
)

// Store is the persistent key/value store used for state that must survive
// restarts, such as whether the alarm is armed.
type Store interface {
	Set(key string, value string) error
	SetWithTTL(key string, value string, ttl uint64) error
	Get(key string) (string, error)
	GetRecursive(prefix string) ([]Node, error)
}

type Node struct {
	Key   string
	Value string
}

// MockStore is an in-memory Store for tests and storeless deployments.
type MockStore struct {
	data map[string]string
}

func NewMockStore() *MockStore {
	return &MockStore{data: map[string]string{}}
}

func (m *MockStore) Get(key string) (string, error) {
	if value, ok := m.data[key]; ok {
		return value, nil
	}
	return "", fmt.Errorf("key missing: %s", key)
}

func (m *MockStore) Set(key string, value string) error {
	m.data[key] = value
	return nil
}

func (m *MockStore) SetWithTTL(key string, value string, ttl uint64) error {
	return m.Set(key, value)
}

func (m *MockStore) GetRecursive(prefix string) ([]Node, error) {
	var ret []Node
	for key, value := range m.data {
		if strings.HasPrefix(key, prefix) {
			ret = append(ret, Node{Key: key, Value: value})
		}
	}
	return ret, nil
}
