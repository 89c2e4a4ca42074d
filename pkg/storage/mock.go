package storage

import (
	"context"
	"fmt"
	"sync"
)

// MockStorage provides an in-memory storage implementation for local development
type MockStorage struct {
	mu      sync.RWMutex
	records map[string]*SecureRecord
}

// NewMockStorage creates a mock storage holding the demo users' records
func NewMockStorage() *MockStorage {
	m := NewEmptyMockStorage()
	m.loadSampleRecords()
	return m
}

// NewEmptyMockStorage creates an empty mock storage (for testing)
func NewEmptyMockStorage() *MockStorage {
	return &MockStorage{
		records: make(map[string]*SecureRecord),
	}
}

func (m *MockStorage) loadSampleRecords() {
	for _, r := range SampleRecords() {
		m.records[r.Subject] = r
	}
}

// SampleRecords returns the demo users' records
func SampleRecords() []*SecureRecord {
	return []*SecureRecord{
		{
			Subject:        "alice",
			AccountBalance: "$25,340.12",
			SSNLastFour:    "4821",
			CreditScore:    802,
		},
		{
			Subject:        "bob",
			AccountBalance: "$3,118.40",
			SSNLastFour:    "9930",
			CreditScore:    688,
		},
	}
}

// GetRecord retrieves the record for a subject
func (m *MockStorage) GetRecord(_ context.Context, subject string) (*SecureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[subject]
	if !ok {
		return nil, &ErrNotFound{Subject: subject}
	}
	copied := *record
	return &copied, nil
}

// PutRecord creates or updates a record
func (m *MockStorage) PutRecord(_ context.Context, record *SecureRecord) error {
	if record == nil || record.Subject == "" {
		return fmt.Errorf("record subject is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *record
	m.records[record.Subject] = &copied
	return nil
}

// DeleteRecord removes a record
func (m *MockStorage) DeleteRecord(_ context.Context, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[subject]; !ok {
		return &ErrNotFound{Subject: subject}
	}
	delete(m.records, subject)
	return nil
}

// Ping always succeeds for mock storage
func (m *MockStorage) Ping(_ context.Context) error {
	return nil
}
