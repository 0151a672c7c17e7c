package jobs

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/brokerdash/x402pay/broker"
)

// StatusFetcher reads a job's status from the broker.
// *broker.Client implements it.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (*broker.JobResponse, error)
}

// Refresher pulls broker status into stored records. It runs server side
// only: status lookups are trusted calls the payment path never makes.
type Refresher struct {
	store   Store
	fetcher StatusFetcher
	logger  zerolog.Logger
}

// NewRefresher creates a refresher
func NewRefresher(store Store, fetcher StatusFetcher, logger zerolog.Logger) *Refresher {
	return &Refresher{store: store, fetcher: fetcher, logger: logger}
}

// Refresh fetches the broker status of record id and merges it
func (r *Refresher) Refresh(ctx context.Context, id string) (*Record, error) {
	record, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	job, err := r.fetcher.Status(ctx, record.BrokerJobID)
	if err != nil {
		r.logger.Warn().Err(err).Str("id", id).Str("broker_job_id", record.BrokerJobID).Msg("job status refresh failed")
		return nil, fmt.Errorf("failed to fetch job status: %w", err)
	}

	updated, err := r.store.ApplyStatus(ctx, id, *job)
	if err != nil {
		return nil, err
	}
	r.logger.Debug().Str("id", id).Str("status", updated.Status).Msg("job status refreshed")
	return updated, nil
}

// Recorder saves accepted submissions
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder over store
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record normalizes and saves sub
func (r *Recorder) Record(ctx context.Context, sub *broker.Submission) (*Record, error) {
	record, err := FromSubmission(sub)
	if err != nil {
		return nil, err
	}
	if err := r.store.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
