// Package storage holds the secure per-user records served by data-service.
package storage

import (
	"context"
	"errors"
)

// SecureRecord is the sensitive data returned for one user
type SecureRecord struct {
	Subject        string `json:"subject,omitempty"`
	AccountBalance string `json:"account_balance"`
	SSNLastFour    string `json:"ssn_last_four"`
	CreditScore    int    `json:"credit_score"`
}

// DefaultRecord is served for users without a stored record
func DefaultRecord() *SecureRecord {
	return &SecureRecord{
		AccountBalance: "$10,000.00",
		SSNLastFour:    "1234",
		CreditScore:    750,
	}
}

// RecordStorage defines the interface for secure record storage operations
type RecordStorage interface {
	// GetRecord retrieves the record for a token subject
	GetRecord(ctx context.Context, subject string) (*SecureRecord, error)

	// PutRecord creates or updates a record keyed by its Subject
	PutRecord(ctx context.Context, record *SecureRecord) error

	// DeleteRecord removes a record
	DeleteRecord(ctx context.Context, subject string) error

	// Ping checks if the storage backend is available
	Ping(ctx context.Context) error
}

// ErrNotFound is returned when no record exists for a subject
type ErrNotFound struct {
	Subject string
}

func (e *ErrNotFound) Error() string {
	return "record not found: " + e.Subject
}

// IsNotFound reports whether err is an *ErrNotFound
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// Lookup returns the subject's record, or DefaultRecord when none is stored
func Lookup(ctx context.Context, s RecordStorage, subject string) (*SecureRecord, error) {
	record, err := s.GetRecord(ctx, subject)
	if IsNotFound(err) {
		return DefaultRecord(), nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}
