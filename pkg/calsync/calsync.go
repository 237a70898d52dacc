package calsync

import (
	"errors"
	"fmt"

	"github.com/klokku/calsync/pkg/conflict"
	"github.com/klokku/calsync/pkg/schedule"
)

var (
	ErrInvalidArgument = errors.New("invalid sync request")
	// ErrIdempotencyKeyReused is returned when a key is sent again with a different request.
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different request")
)

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionFailed  Action = "failed"
)

const (
	dryRunIdPrefix = "dryrun-"
	dryRunVersion  = "dryrun"
	// reasonInSync marks a checked event whose remote event matches the local state.
	reasonInSync = "in_sync"
)

// DateRange holds inclusive YYYY-MM-DD dates.
type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type SyncRequest struct {
	Range          DateRange `json:"range"`
	EventIds       []string  `json:"eventIds,omitempty"`
	DryRun         bool      `json:"dryRun,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey"`
}

type Summary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Detail is the outcome for one local event.
type Detail struct {
	LocalEventId  string              `json:"localEventId"`
	RemoteEventId string              `json:"remoteEventId,omitempty"`
	Action        Action              `json:"action"`
	Error         string              `json:"error,omitempty"`
	Version       string              `json:"version,omitempty"`
	GroupKey      string              `json:"groupKey,omitempty"`
	Batched       bool                `json:"batched,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	Resolution    conflict.Resolution `json:"resolution,omitempty"`
}

type SyncResult struct {
	Summary   Summary             `json:"summary"`
	Details   []Detail            `json:"details"`
	Conflicts []conflict.Conflict `json:"conflicts"`
	QuotaUsed int                 `json:"quotaUsed"`
	IsDryRun  bool                `json:"isDryRun"`
}

func newResult(dryRun bool) SyncResult {
	return SyncResult{
		Details:   []Detail{},
		Conflicts: []conflict.Conflict{},
		IsDryRun:  dryRun,
	}
}

func (r *SyncResult) add(details ...Detail) {
	for _, d := range details {
		switch d.Action {
		case ActionCreated:
			r.Summary.Created++
		case ActionUpdated:
			r.Summary.Updated++
		case ActionSkipped:
			r.Summary.Skipped++
		case ActionFailed:
			r.Summary.Failed++
		}
		r.Details = append(r.Details, d)
	}
}

// Validate checks the request and returns the parsed date range.
func (r SyncRequest) Validate() (schedule.DateRange, error) {
	if r.IdempotencyKey == "" {
		return schedule.DateRange{}, fmt.Errorf("%w: idempotencyKey is required", ErrInvalidArgument)
	}
	return r.Range.Parse()
}

// Parse checks both dates and their order.
func (d DateRange) Parse() (schedule.DateRange, error) {
	from, err := schedule.ParseDate(d.From)
	if err != nil {
		return schedule.DateRange{}, fmt.Errorf("%w: range.from must be YYYY-MM-DD", ErrInvalidArgument)
	}
	to, err := schedule.ParseDate(d.To)
	if err != nil {
		return schedule.DateRange{}, fmt.Errorf("%w: range.to must be YYYY-MM-DD", ErrInvalidArgument)
	}
	dateRange := schedule.DateRange{From: from, To: to}
	if err := dateRange.Validate(); err != nil {
		return schedule.DateRange{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return dateRange, nil
}
