package broker

import (
	"encoding/json"

	x402 "github.com/brokerdash/x402pay"
)

// RunRequest is the body of a run submission
type RunRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin,omitempty"`
}

// StoreRequest is the body of a store submission. Content is base64.
type StoreRequest struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"contentType,omitempty"`
}

// CacheRequest is the body of a cache submission
type CacheRequest struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	TTLSeconds int    `json:"ttlSeconds,omitempty"`
}

// JobResponse is the part of a broker job document every kind shares.
// Result is kind specific and kept raw.
type JobResponse struct {
	JobID  string          `json:"jobId"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Submission is an accepted job
type Submission struct {
	Kind Kind
	Job  JobResponse
	// Body is the broker response exactly as received
	Body []byte
	// Payment is set when the submission was paid for
	Payment    *x402.PaymentInfo
	Settlement *x402.SettleResponse
}
