package jobqueue

import (
	"fmt"
	"strconv"
	"time"
)

// Wire field names. Entries are flat string maps.
const (
	FieldJobID          = "jobId"
	FieldMasterKey      = "master_key"
	FieldMasterBucket   = "master_bucket"
	FieldPreviewsBucket = "previews_bucket"
	FieldPreviewPrefix  = "preview_prefix"

	fieldEntryID    = "entry_id"
	fieldReason     = "reason"
	fieldDeliveries = "deliveries"
	fieldFailedAt   = "failed_at"
)

// Job carries everything a worker needs without a side lookup. ID is the
// asset ID.
type Job struct {
	ID             string `json:"jobId"`
	MasterKey      string `json:"master_key"`
	MasterBucket   string `json:"master_bucket"`
	PreviewsBucket string `json:"previews_bucket"`
	PreviewPrefix  string `json:"preview_prefix"`
}

// Validate reports missing fields.
func (j Job) Validate() error {
	switch {
	case j.ID == "":
		return fmt.Errorf("%w: missing %s", ErrMalformedJob, FieldJobID)
	case j.MasterKey == "":
		return fmt.Errorf("%w: missing %s", ErrMalformedJob, FieldMasterKey)
	case j.MasterBucket == "":
		return fmt.Errorf("%w: missing %s", ErrMalformedJob, FieldMasterBucket)
	case j.PreviewsBucket == "":
		return fmt.Errorf("%w: missing %s", ErrMalformedJob, FieldPreviewsBucket)
	}
	return nil
}

// Fields encodes the job as a flat field map.
func (j Job) Fields() map[string]any {
	return map[string]any{
		FieldJobID:          j.ID,
		FieldMasterKey:      j.MasterKey,
		FieldMasterBucket:   j.MasterBucket,
		FieldPreviewsBucket: j.PreviewsBucket,
		FieldPreviewPrefix:  j.PreviewPrefix,
	}
}

// DecodeJob decodes a flat field map. The partially decoded job is returned
// alongside any error so callers can still log its ID.
func DecodeJob(values map[string]any) (Job, error) {
	job := Job{
		ID:             str(values[FieldJobID]),
		MasterKey:      str(values[FieldMasterKey]),
		MasterBucket:   str(values[FieldMasterBucket]),
		PreviewsBucket: str(values[FieldPreviewsBucket]),
		PreviewPrefix:  str(values[FieldPreviewPrefix]),
	}
	return job, job.Validate()
}

func (d DeadLetter) fields() map[string]any {
	return map[string]any{
		FieldJobID:         d.JobID,
		fieldEntryID:       d.EntryID,
		FieldPreviewPrefix: d.PreviewPrefix,
		fieldReason:        d.Reason,
		fieldDeliveries:    strconv.FormatInt(d.Deliveries, 10),
		fieldFailedAt:      d.FailedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeDeadLetter(id string, values map[string]any) DeadLetter {
	d := DeadLetter{
		ID:            id,
		JobID:         str(values[FieldJobID]),
		EntryID:       str(values[fieldEntryID]),
		PreviewPrefix: str(values[FieldPreviewPrefix]),
		Reason:        str(values[fieldReason]),
	}
	d.Deliveries, _ = strconv.ParseInt(str(values[fieldDeliveries]), 10, 64)
	d.FailedAt, _ = time.Parse(time.RFC3339Nano, str(values[fieldFailedAt]))
	return d
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
