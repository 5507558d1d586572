// Package assets holds the asset model, its status state machine and the
// repositories that persist it.
package assets

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/quatton/mam/pkg/merr"
)

// Status is the lifecycle state of an asset.
type Status string

const (
	StatusStaging         Status = "staging"
	StatusPromoted        Status = "promoted"
	StatusPreviewBuilding Status = "preview_building"
	StatusReady           Status = "ready"
	StatusFailed          Status = "failed"
)

var (
	ErrNotFound          = errors.New("asset not found")
	ErrDuplicate         = errors.New("asset already exists for staging key")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// transitions lists the allowed forward moves. failed -> preview_building is
// the manual retry path and the only move out of a terminal state.
var transitions = map[Status][]Status{
	StatusStaging:         {StatusPromoted},
	StatusPromoted:        {StatusPreviewBuilding, StatusReady, StatusFailed},
	StatusPreviewBuilding: {StatusReady, StatusFailed},
	StatusFailed:          {StatusPreviewBuilding},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusStaging, StatusPromoted, StatusPreviewBuilding, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition is expected.
func (s Status) Terminal() bool { return s == StatusReady || s == StatusFailed }

// CanTransition reports whether from -> to is allowed. Same-status moves are
// allowed and are no-ops.
func CanTransition(from, to Status) bool {
	if from == to {
		return from.Valid()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an InvalidTransition error if from -> to is not
// allowed.
func CheckTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return merr.New(merr.CodeInvalidTransition, "assets.transition",
		fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to))
}

// Asset is a promoted (or promoting) upload.
type Asset struct {
	ID             string            `json:"id"`
	StagingKey     string            `json:"stagingKey"`
	StagingBucket  string            `json:"stagingBucket"`
	MasterKey      string            `json:"masterKey,omitempty"`
	MasterBucket   string            `json:"masterBucket,omitempty"`
	PreviewPrefix  string            `json:"previewPrefix,omitempty"`
	PreviewsBucket string            `json:"previewsBucket,omitempty"`
	Status         Status            `json:"status"`
	OwnerID        string            `json:"ownerId,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	c := *a
	c.Metadata = maps.Clone(a.Metadata)
	return &c
}

// Change is a status transition plus the fields written with it.
type Change struct {
	To Status

	// Location fields are write-once: they are set when empty and must match
	// when already set.
	MasterKey      string
	MasterBucket   string
	PreviewPrefix  string
	PreviewsBucket string

	// Error replaces the last failure message when non-nil.
	Error *string
}

// Apply validates ch against a and mutates a in place. It reports whether
// anything changed.
func (ch Change) Apply(a *Asset, now time.Time) (bool, error) {
	if err := CheckTransition(a.Status, ch.To); err != nil {
		return false, err
	}
	changed := a.Status != ch.To

	set := func(name string, dst *string, v string) error {
		if v == "" || *dst == v {
			return nil
		}
		if *dst != "" {
			return merr.New(merr.CodeInvalidTransition, "assets.transition",
				fmt.Errorf("%w: %s already set to %q", ErrInvalidTransition, name, *dst))
		}
		*dst = v
		changed = true
		return nil
	}
	if err := set("master_key", &a.MasterKey, ch.MasterKey); err != nil {
		return false, err
	}
	if err := set("master_bucket", &a.MasterBucket, ch.MasterBucket); err != nil {
		return false, err
	}
	if err := set("preview_prefix", &a.PreviewPrefix, ch.PreviewPrefix); err != nil {
		return false, err
	}
	if err := set("previews_bucket", &a.PreviewsBucket, ch.PreviewsBucket); err != nil {
		return false, err
	}
	if ch.Error != nil && a.Error != *ch.Error {
		a.Error = *ch.Error
		changed = true
	}

	a.Status = ch.To
	if changed {
		a.UpdatedAt = now
	}
	return changed, nil
}

// ErrorText is a helper for Change.Error.
func ErrorText(s string) *string { return &s }
