// Package jobs persists accepted broker jobs.
//
// Only the broker's job id, status and result are taken from a broker
// response, together with the display summary of the payment that paid for
// it. Failed payments never produce a record.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	x402 "github.com/brokerdash/x402pay"
	"github.com/brokerdash/x402pay/broker"
)

// StatusPending is used when the broker reports no status
const StatusPending = "pending"

// ErrNotFound is returned for an unknown record id
var ErrNotFound = errors.New("job not found")

// Record is a normalized job
type Record struct {
	ID          string          `json:"id"`
	Kind        broker.Kind     `json:"kind"`
	BrokerJobID string          `json:"brokerJobId"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Network     string          `json:"network,omitempty"`
	Payer       string          `json:"payer,omitempty"`
	Spender     string          `json:"spender,omitempty"`
	Asset       string          `json:"asset,omitempty"`
	Transaction string          `json:"transaction,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Store persists records. Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// List returns records newest first. An empty kind lists every kind.
	List(ctx context.Context, kind broker.Kind) ([]*Record, error)
	// ApplyStatus merges a broker status document into a record
	ApplyStatus(ctx context.Context, id string, job broker.JobResponse) (*Record, error)
}

// Normalize builds a record from a broker response body. info may be nil
// for a job that was not paid for.
func Normalize(kind broker.Kind, body []byte, info *x402.PaymentInfo) (*Record, error) {
	var job broker.JobResponse
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("invalid job document: %w", err)
	}
	if strings.TrimSpace(job.JobID) == "" {
		return nil, errors.New("job document has no jobId")
	}

	now := time.Now().UTC()
	record := &Record{
		ID:          uuid.NewString(),
		Kind:        kind,
		BrokerJobID: strings.TrimSpace(job.JobID),
		Status:      normalizeStatus(job.Status),
		Result:      compactResult(job.Result),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if info != nil {
		record.Network = string(info.Network)
		record.Payer = info.Payer
		record.Spender = info.Spender
		record.Asset = info.Asset
	}
	return record, nil
}

// FromSubmission normalizes an accepted submission
func FromSubmission(sub *broker.Submission) (*Record, error) {
	record, err := Normalize(sub.Kind, sub.Body, sub.Payment)
	if err != nil {
		return nil, err
	}
	if sub.Settlement != nil {
		record.Transaction = sub.Settlement.Transaction
	}
	return record, nil
}

// Merge applies a status document to record in place
func Merge(record *Record, job broker.JobResponse, now time.Time) {
	if s := strings.TrimSpace(job.Status); s != "" {
		record.Status = normalizeStatus(s)
	}
	if result := compactResult(job.Result); result != nil {
		record.Result = result
	}
	record.UpdatedAt = now.UTC()
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StatusPending
	}
	return s
}

func compactResult(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return json.RawMessage(trimmed)
}

func clone(r *Record) *Record {
	c := *r
	if r.Result != nil {
		c.Result = append(json.RawMessage(nil), r.Result...)
	}
	return &c
}
