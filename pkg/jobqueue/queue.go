// Package jobqueue is the preview-build job log: an append-only Redis stream
// read through consumer groups. Consumers in a group receive disjoint subsets
// of new entries; an entry stays pending for its consumer until acked and is
// only redelivered through an explicit Reclaim.
package jobqueue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoGroup is returned when reading from a group that was never created.
	ErrNoGroup = errors.New("jobqueue: consumer group does not exist")
	// ErrMalformedJob marks an entry whose fields cannot be decoded.
	ErrMalformedJob = errors.New("jobqueue: malformed job")
)

// Delivery is an entry handed to a consumer.
type Delivery struct {
	EntryID string
	Job     Job
	// Deliveries counts how many times the entry has been delivered,
	// including this one.
	Deliveries int64
	// Err is set when the entry's fields could not be decoded. The entry is
	// still pending and must be acked (usually after dead-lettering it).
	Err error
}

// PendingEntry describes a delivered but unacknowledged entry.
type PendingEntry struct {
	EntryID    string        `json:"entryId"`
	Consumer   string        `json:"consumer"`
	Idle       time.Duration `json:"idle"`
	Deliveries int64         `json:"deliveries"`
}

// DeadLetter is the record appended for a job that will not be retried.
type DeadLetter struct {
	ID            string    `json:"id,omitempty"`
	JobID         string    `json:"jobId"`
	EntryID       string    `json:"entryId"`
	PreviewPrefix string    `json:"previewPrefix"`
	Reason        string    `json:"reason"`
	Deliveries    int64     `json:"deliveries"`
	FailedAt      time.Time `json:"failedAt"`
}

// Queue is the job log contract shared by the Redis and in-memory backends.
// All errors are merr QueueErrors.
type Queue interface {
	// EnsureGroup creates the consumer group if it does not exist yet. New
	// groups start at the beginning of the stream.
	EnsureGroup(ctx context.Context, group string) error

	// Enqueue appends a job and returns its entry ID. It never waits for
	// consumers.
	Enqueue(ctx context.Context, job Job) (string, error)

	// ReadGroup delivers up to count new entries to consumer, waiting up to
	// block for one to arrive. A timeout returns an empty slice and no error.
	ReadGroup(ctx context.Context, group, consumer string, count int, block time.Duration) ([]Delivery, error)

	// Ack acknowledges entries and returns how many were pending.
	Ack(ctx context.Context, group string, ids ...string) (int64, error)

	// Pending lists entries idle for at least minIdle across all consumers.
	Pending(ctx context.Context, group string, minIdle time.Duration) ([]PendingEntry, error)

	// Reclaim transfers the given entries to consumer, but only those still
	// idle for at least minIdle, so concurrent reclaimers never both win.
	// Each reclaimed entry's delivery count is incremented.
	Reclaim(ctx context.Context, group, consumer string, minIdle time.Duration, ids ...string) ([]Delivery, error)

	// Touch resets the idle time of entries still pending for consumer,
	// without counting a delivery, and returns how many it refreshed. A
	// consumer calls it while it works so recoverers leave the entry alone.
	Touch(ctx context.Context, group, consumer string, ids ...string) (int64, error)

	// DeadLetter appends a record to the dead-letter stream.
	DeadLetter(ctx context.Context, dl DeadLetter) (string, error)

	// DeadLetters returns up to count dead-letter records, newest first.
	DeadLetters(ctx context.Context, count int) ([]DeadLetter, error)

	// Len returns the number of entries in the stream.
	Len(ctx context.Context) (int64, error)
}

// DeadStream returns the dead-letter stream name for stream.
func DeadStream(stream string) string { return stream + ":dead" }
